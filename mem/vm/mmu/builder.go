package mmu

import "github.com/sarchlab/vmcore/mem/vm"

// A Builder can build page tables.
type Builder struct {
	log2PageSize uint64
}

// MakeBuilder creates a new builder
func MakeBuilder() Builder {
	return Builder{
		log2PageSize: vm.Log2PageSize,
	}
}

// WithLog2PageSize sets the page size that the page table supports. It must
// match the page size of the memory manager.
func (b Builder) WithLog2PageSize(log2PageSize uint64) Builder {
	b.log2PageSize = log2PageSize
	return b
}

// Build creates a new PageTable.
func (b Builder) Build() *PageTable {
	if b.log2PageSize != vm.Log2PageSize {
		panic("page size must match the page size of the memory manager")
	}

	return NewPageTable(b.log2PageSize)
}
