package vm

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Duplicate", func() {
	var (
		alloc  *fakeAllocator
		tr     *fakeTranslator
		swap   *fakeSwap
		m      *Manager
		parent *AddressSpace
		child  *AddressSpace
	)

	build := func(numFrames int) {
		alloc = newFakeAllocator(numFrames)
		tr = newFakeTranslator()
		swap = newFakeSwap()
		m = MakeBuilder().
			WithPhysicalAllocator(alloc).
			WithTranslator(tr).
			WithSwapDevice(swap).
			Build("VM")
		parent = m.NewAddressSpace(1)
		child = m.NewAddressSpace(2)
	}

	contentOf := func(as *AddressSpace, va uint64) []byte {
		Expect(as.Claim(va)).To(Succeed())
		page := mustFind(as, va)

		return append([]byte(nil), alloc.Bytes(page.frame.PAddr())...)
	}

	It("should keep unclaimed pages lazy", func() {
		build(4)

		init := func(p *Page, content []byte, aux any) error {
			content[0] = aux.(byte)
			return nil
		}
		Expect(parent.RequestLazyMapping(KindAnon, 0x1000, true, init, byte(42))).
			To(Succeed())

		Expect(m.Duplicate(child, parent)).To(Succeed())

		page := mustFind(child, 0x1000)
		Expect(page.Resolved()).To(BeFalse())
		Expect(page.Kind()).To(Equal(KindAnon))
		Expect(m.Frames().Len()).To(BeZero())

		Expect(contentOf(child, 0x1000)[0]).To(Equal(byte(42)))
		Expect(mustFind(parent, 0x1000).Resolved()).To(BeFalse())
	})

	It("should copy resident pages eagerly", func() {
		build(4)

		Expect(parent.AllocatePage(KindAnon, 0x2000, false)).To(Succeed())
		Expect(parent.Claim(0x2000)).To(Succeed())
		parentPage := mustFind(parent, 0x2000)
		copy(alloc.Bytes(parentPage.frame.PAddr()), "parent")

		Expect(m.Duplicate(child, parent)).To(Succeed())

		childPage := mustFind(child, 0x2000)
		Expect(childPage.Resolved()).To(BeTrue())
		Expect(childPage.Writable()).To(BeFalse())
		Expect(childPage.frame).NotTo(BeNil())
		Expect(childPage.frame).NotTo(BeIdenticalTo(parentPage.frame))
		Expect(parentPage.frame.pins).To(BeZero())
		_, writable, mapped := tr.Lookup(2, 0x2000)
		Expect(mapped).To(BeTrue())
		Expect(writable).To(BeFalse())

		copy(alloc.Bytes(childPage.frame.PAddr()), "child!")
		Expect(string(alloc.Bytes(parentPage.frame.PAddr())[:6])).
			To(Equal("parent"))
	})

	It("should keep copied file pages clean", func() {
		build(4)

		file := &bytesFile{data: []byte("AAAA")}
		Expect(parent.RequestLazyMapping(KindFile, 0x3000, true, nil,
			FileMapping{File: file, ReadBytes: 4})).To(Succeed())
		Expect(parent.Claim(0x3000)).To(Succeed())

		Expect(m.Duplicate(child, parent)).To(Succeed())

		Expect(tr.IsDirty(2, 0x3000)).To(BeFalse())
		mapping, ok := mustFind(child, 0x3000).Mapping()
		Expect(ok).To(BeTrue())
		Expect(mapping.File).To(BeIdenticalTo(file))

		copy(alloc.Bytes(mustFind(parent, 0x3000).frame.PAddr()), "BBBB")
		tr.SetDirty(1, 0x3000, true)
		Expect(parent.RemovePage(0x3000)).To(Succeed())
		Expect(string(file.data)).To(Equal("BBBB"))

		Expect(m.Teardown(child)).To(Succeed())
		Expect(string(file.data)).To(Equal("BBBB"))
	})

	It("should carry unwritten parent changes of file pages", func() {
		build(4)

		file := &bytesFile{data: []byte("AAAA")}
		Expect(parent.RequestLazyMapping(KindFile, 0x3000, true, nil,
			FileMapping{File: file, ReadBytes: 4})).To(Succeed())
		Expect(parent.Claim(0x3000)).To(Succeed())
		tr.SetDirty(1, 0x3000, true)

		Expect(m.Duplicate(child, parent)).To(Succeed())

		Expect(tr.IsDirty(2, 0x3000)).To(BeTrue())
	})

	It("should copy the stack bottom and mappings", func() {
		build(4)

		_, err := parent.SetupStack()
		Expect(err).NotTo(HaveOccurred())
		_, err = parent.Mmap(0x10000, 100, true, &bytesFile{data: []byte("x")}, 0)
		Expect(err).NotTo(HaveOccurred())

		Expect(m.Duplicate(child, parent)).To(Succeed())

		Expect(child.StackBottom()).To(Equal(parent.StackBottom()))
		Expect(mustFind(child, parent.StackBottom()).IsStack()).To(BeTrue())
		Expect(child.Munmap(0x10000)).To(Succeed())
		Expect(parent.Munmap(0x10000)).To(Succeed())
	})

	It("should bring swapped parent pages back for copying", func() {
		build(2)

		for i, va := range []uint64{0x1000, 0x2000, 0x3000} {
			Expect(parent.AllocatePage(KindAnon, va, true)).To(Succeed())
			Expect(parent.Claim(va)).To(Succeed())
			alloc.Bytes(mustFind(parent, va).frame.PAddr())[0] = byte(i + 1)
		}
		Expect(mustFind(parent, 0x1000).Swapped()).To(BeTrue())

		Expect(m.Duplicate(child, parent)).To(Succeed())

		for i, va := range []uint64{0x1000, 0x2000, 0x3000} {
			Expect(contentOf(parent, va)[0]).To(Equal(byte(i + 1)))
			Expect(contentOf(child, va)[0]).To(Equal(byte(i + 1)))
		}
		Expect(m.Frames().Len()).To(Equal(2))
	})

	It("should fail without a frame for the copy", func() {
		build(1)

		Expect(parent.AllocatePage(KindAnon, 0x1000, true)).To(Succeed())
		Expect(parent.Claim(0x1000)).To(Succeed())

		err := m.Duplicate(child, parent)

		Expect(err).To(MatchError(ErrOutOfFrames))
		Expect(mustFind(parent, 0x1000).frame.pins).To(BeZero())
		Expect(m.Teardown(child)).To(Succeed())
	})
})

var _ = Describe("Teardown", func() {
	var (
		alloc *fakeAllocator
		tr    *fakeTranslator
		swap  *fakeSwap
		m     *Manager
		as    *AddressSpace
	)

	BeforeEach(func() {
		alloc = newFakeAllocator(1)
		tr = newFakeTranslator()
		swap = newFakeSwap()
		m = MakeBuilder().
			WithPhysicalAllocator(alloc).
			WithTranslator(tr).
			WithSwapDevice(swap).
			Build("VM")
		as = m.NewAddressSpace(1)
	})

	It("should release frames and swap slots and write files back", func() {
		file := &bytesFile{data: []byte("old")}
		Expect(as.AllocatePage(KindAnon, 0x1000, true)).To(Succeed())
		Expect(as.Claim(0x1000)).To(Succeed())
		Expect(as.RequestLazyMapping(KindFile, 0x2000, true, nil,
			FileMapping{File: file, ReadBytes: 3})).To(Succeed())
		Expect(as.Claim(0x2000)).To(Succeed())
		copy(alloc.Bytes(mustFind(as, 0x2000).frame.PAddr()), "new")
		tr.touch(1, 0x2000, true)
		Expect(swap.slots).To(HaveLen(1))

		Expect(m.Teardown(as)).To(Succeed())

		Expect(alloc.frames).To(BeEmpty())
		Expect(swap.slots).To(BeEmpty())
		Expect(tr.ptes).To(BeEmpty())
		Expect(string(file.data)).To(Equal("new"))
		Expect(m.Frames().Len()).To(BeZero())
		_, found := m.Space(1)
		Expect(found).To(BeFalse())
	})

	It("should not run twice", func() {
		Expect(m.Teardown(as)).To(Succeed())

		Expect(m.Teardown(as)).To(MatchError(ErrSpaceDestroyed))
		Expect(as.Claim(0x1000)).To(MatchError(ErrNoPage))
	})

	It("should let the PID be reused", func() {
		Expect(m.Teardown(as)).To(Succeed())

		Expect(func() { m.NewAddressSpace(1) }).NotTo(Panic())
		Expect(func() { m.NewAddressSpace(1) }).To(Panic())
	})
})
