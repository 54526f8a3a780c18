package mmu

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/vmcore/mem/vm"
)

var _ = Describe("PageTable", func() {
	var pt *PageTable

	BeforeEach(func() {
		pt = MakeBuilder().Build()
	})

	It("should reject unaligned mappings", func() {
		Expect(pt.Map(1, 0x1001, 0x2000, true)).NotTo(Succeed())
		Expect(pt.Map(1, 0x1000, 0x2001, true)).NotTo(Succeed())
	})

	It("should look up the page that contains an address", func() {
		Expect(pt.Map(1, 0x1000, 0x8000, false)).To(Succeed())

		pa, writable, ok := pt.Lookup(1, 0x1fff)

		Expect(ok).To(BeTrue())
		Expect(pa).To(Equal(uint64(0x8000)))
		Expect(writable).To(BeFalse())

		_, _, ok = pt.Lookup(2, 0x1000)
		Expect(ok).To(BeFalse())
	})

	It("should keep the tables of processes apart", func() {
		Expect(pt.Map(1, 0x1000, 0x8000, true)).To(Succeed())
		Expect(pt.Map(2, 0x1000, 0x9000, true)).To(Succeed())

		pt.Unmap(1, 0x1000)

		_, _, ok := pt.Lookup(1, 0x1000)
		Expect(ok).To(BeFalse())
		pa, _, ok := pt.Lookup(2, 0x1000)
		Expect(ok).To(BeTrue())
		Expect(pa).To(Equal(uint64(0x9000)))
	})

	It("should reset the bits when a page is mapped again", func() {
		Expect(pt.Map(1, 0x1000, 0x8000, true)).To(Succeed())
		pt.SetAccessed(1, 0x1000, true)
		pt.SetDirty(1, 0x1000, true)

		Expect(pt.Map(1, 0x1000, 0xa000, true)).To(Succeed())

		Expect(pt.IsAccessed(1, 0x1000)).To(BeFalse())
		Expect(pt.IsDirty(1, 0x1000)).To(BeFalse())
		Expect(pt.Entries(1)).To(HaveLen(1))
	})

	It("should ignore bit updates of missing pages", func() {
		pt.SetDirty(1, 0x1000, true)
		pt.SetAccessed(3, 0x1000, true)

		Expect(pt.IsDirty(1, 0x1000)).To(BeFalse())
		Expect(pt.Entries(1)).To(BeEmpty())
	})

	It("should list entries in mapping order", func() {
		Expect(pt.Map(1, 0x3000, 0x8000, true)).To(Succeed())
		Expect(pt.Map(1, 0x1000, 0x9000, true)).To(Succeed())

		entries := pt.Entries(1)

		Expect(entries).To(HaveLen(2))
		Expect(entries[0].VAddr).To(Equal(uint64(0x3000)))
		Expect(entries[1].VAddr).To(Equal(uint64(0x1000)))
	})

	It("should drop a whole table", func() {
		Expect(pt.Map(1, 0x1000, 0x8000, true)).To(Succeed())

		pt.DestroyTable(1)

		Expect(pt.Entries(1)).To(BeNil())
	})

	It("should panic on a page size the manager does not use", func() {
		Expect(func() {
			MakeBuilder().WithLog2PageSize(21).Build()
		}).To(Panic())
	})

	Context("access", func() {
		BeforeEach(func() {
			Expect(pt.Map(1, 0x1000, 0x8000, false)).To(Succeed())
			Expect(pt.Map(1, 0x2000, 0x9000, true)).To(Succeed())
		})

		It("should fault on a missing translation", func() {
			_, fault := pt.Access(1, 0x5010, false, true, 0x4000)

			Expect(fault).To(Equal(&vm.Fault{
				Addr:         0x5010,
				User:         true,
				StackPointer: 0x4000,
			}))
		})

		It("should fault on a process without a table", func() {
			_, fault := pt.Access(7, 0x1000, false, true, 0)

			Expect(fault).NotTo(BeNil())
			Expect(fault.Present).To(BeFalse())
		})

		It("should fault as present on a write to a read-only page", func() {
			_, fault := pt.Access(1, 0x1004, true, false, 0)

			Expect(fault).NotTo(BeNil())
			Expect(fault.Present).To(BeTrue())
			Expect(fault.Write).To(BeTrue())
			Expect(pt.IsDirty(1, 0x1000)).To(BeFalse())
		})

		It("should set the accessed bit on reads", func() {
			pa, fault := pt.Access(1, 0x1004, false, true, 0)

			Expect(fault).To(BeNil())
			Expect(pa).To(Equal(uint64(0x8004)))
			Expect(pt.IsAccessed(1, 0x1000)).To(BeTrue())
			Expect(pt.IsDirty(1, 0x1000)).To(BeFalse())
		})

		It("should set the dirty bit on writes", func() {
			pa, fault := pt.Access(1, 0x2ff8, true, true, 0)

			Expect(fault).To(BeNil())
			Expect(pa).To(Equal(uint64(0x9ff8)))
			Expect(pt.IsAccessed(1, 0x2000)).To(BeTrue())
			Expect(pt.IsDirty(1, 0x2000)).To(BeTrue())
		})
	})
})
