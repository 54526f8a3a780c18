package vm

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("SupplementalPageTable", func() {
	var (
		as  *AddressSpace
		spt *SupplementalPageTable
	)

	BeforeEach(func() {
		as = &AddressSpace{pid: 1}
		spt = NewSupplementalPageTable()
	})

	It("should find a page by any address inside it", func() {
		page := newUninitPage(as, KindAnon, 0x401000, true, nil, nil)
		Expect(spt.Insert(page)).To(Succeed())

		for _, va := range []uint64{0x401000, 0x401001, 0x401fff} {
			found, ok := spt.Find(va)
			Expect(ok).To(BeTrue())
			Expect(found).To(BeIdenticalTo(page))
		}

		_, ok := spt.Find(0x402000)
		Expect(ok).To(BeFalse())
		_, ok = spt.Find(0x400fff)
		Expect(ok).To(BeFalse())
	})

	It("should keep one page per address", func() {
		Expect(spt.Insert(newUninitPage(as, KindAnon, 0x401000, true, nil, nil))).
			To(Succeed())

		err := spt.Insert(newUninitPage(as, KindFile, 0x401234, false, nil, nil))

		Expect(err).To(MatchError(ErrPageExists))
		Expect(spt.Len()).To(Equal(1))
	})

	It("should list pages in insertion order", func() {
		for _, va := range []uint64{0x3000, 0x1000, 0x2000} {
			Expect(spt.Insert(newUninitPage(as, KindAnon, va, true, nil, nil))).
				To(Succeed())
		}

		var vas []uint64
		for _, p := range spt.Pages() {
			vas = append(vas, p.VAddr())
		}

		Expect(vas).To(Equal([]uint64{0x3000, 0x1000, 0x2000}))
	})

	It("should remove a page", func() {
		page := newUninitPage(as, KindAnon, 0x1000, true, nil, nil)
		Expect(spt.Insert(page)).To(Succeed())

		removed, ok := spt.remove(0x1000)

		Expect(ok).To(BeTrue())
		Expect(removed).To(BeIdenticalTo(page))
		_, ok = spt.Find(0x1000)
		Expect(ok).To(BeFalse())

		_, ok = spt.remove(0x1000)
		Expect(ok).To(BeFalse())
	})

	It("should drain every page", func() {
		Expect(spt.Insert(newUninitPage(as, KindAnon, 0x1000, true, nil, nil))).
			To(Succeed())
		Expect(spt.Insert(newUninitPage(as, KindAnon, 0x2000, true, nil, nil))).
			To(Succeed())

		pages := spt.drain()

		Expect(pages).To(HaveLen(2))
		Expect(spt.Len()).To(Equal(0))
		Expect(spt.Insert(newUninitPage(as, KindAnon, 0x1000, true, nil, nil))).
			To(Succeed())
	})
})

var _ = Describe("Page", func() {
	It("should report its eventual kind before it is resolved", func() {
		page := newUninitPage(&AddressSpace{}, KindFile, 0x1234, false, nil, nil)

		Expect(page.VAddr()).To(Equal(uint64(0x1000)))
		Expect(page.Kind()).To(Equal(KindFile))
		Expect(page.Resolved()).To(BeFalse())
		Expect(page.Writable()).To(BeFalse())
	})

	It("should accept a file mapping or a pointer to one", func() {
		file := &bytesFile{}

		m, ok := fileMappingOf(FileMapping{File: file, ReadBytes: 10})
		Expect(ok).To(BeTrue())
		Expect(m.ReadBytes).To(Equal(uint64(10)))

		_, ok = fileMappingOf(&FileMapping{File: file})
		Expect(ok).To(BeTrue())

		_, ok = fileMappingOf((*FileMapping)(nil))
		Expect(ok).To(BeFalse())
		_, ok = fileMappingOf(FileMapping{})
		Expect(ok).To(BeFalse())
		_, ok = fileMappingOf("file")
		Expect(ok).To(BeFalse())
	})

	It("should name its kinds", func() {
		Expect(KindUninit.String()).To(Equal("uninit"))
		Expect(KindAnon.String()).To(Equal("anon"))
		Expect(KindFile.String()).To(Equal("file"))
		Expect(PageKind(9).String()).To(Equal("PageKind(9)"))
	})
})
