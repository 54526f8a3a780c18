package vm

import "io"

// PhysicalAllocator hands out pages of the user physical pool.
type PhysicalAllocator interface {
	// AllocZeroed returns the physical address of a zero-filled page. ok is
	// false when the pool is exhausted.
	AllocZeroed() (pa uint64, ok bool)

	// Free returns a page to the pool.
	Free(pa uint64)

	// Bytes returns the kernel view of the page at pa.
	Bytes(pa uint64) []byte
}

// Translator is the hardware address translation of all address spaces. A
// page table is named by the PID of its address space.
type Translator interface {
	Map(pid PID, va, pa uint64, writable bool) error
	Unmap(pid PID, va uint64)
	Lookup(pid PID, va uint64) (pa uint64, writable bool, ok bool)
	IsAccessed(pid PID, va uint64) bool
	SetAccessed(pid PID, va uint64, accessed bool)
	IsDirty(pid PID, va uint64) bool
	SetDirty(pid PID, va uint64, dirty bool)
}

// SwapSlot identifies a page-sized slot of a swap device.
type SwapSlot uint64

// SwapDevice stores the content of evicted anonymous pages.
type SwapDevice interface {
	// SwapOut copies content into a free slot.
	SwapOut(content []byte) (SwapSlot, error)

	// SwapIn copies the content of slot into content.
	SwapIn(slot SwapSlot, content []byte) error

	// Free releases a slot.
	Free(slot SwapSlot)
}

// File is the backing store of file-backed pages.
type File interface {
	io.ReaderAt
	io.WriterAt

	// Size returns the length of the file in bytes.
	Size() int64
}
