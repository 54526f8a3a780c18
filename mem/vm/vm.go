// Package vm is a demand-paged virtual-memory manager. Each address space
// records what should be mapped at every user page in a supplemental page
// table; pages are populated lazily when the first fault arrives, frames are
// reclaimed with a clock scan under memory pressure, and anonymous and
// file-backed content survives eviction through swap and write-back.
package vm

// PID stands for Process ID. It also names the hardware page table of the
// process.
type PID uint32

// Log2PageSize is the log2 of the size of a page.
const Log2PageSize = 12

// PageSize is the number of bytes in a page and in a frame.
const PageSize uint64 = 1 << Log2PageSize

// PageRoundDown returns the start of the page that contains addr.
func PageRoundDown(addr uint64) uint64 {
	return (addr >> Log2PageSize) << Log2PageSize
}

// PageOffset returns the offset of addr within its page.
func PageOffset(addr uint64) uint64 {
	return addr & (PageSize - 1)
}

// stackPushSlack is how far below the stack pointer an access may land and
// still count as a push.
const stackPushSlack = 8

// Layout describes the user part of a virtual address space.
type Layout struct {
	// UserStackTop is the address right above the highest stack byte.
	UserStackTop uint64

	// StackLimit is the lowest address the stack may grow to.
	StackLimit uint64

	// KernelBase is the first kernel address. Everything from here up is
	// never mapped by this package.
	KernelBase uint64
}

// DefaultLayout returns the layout of the x86-64 teaching kernel: a 1 MiB
// stack under 0x47480000 and kernel space from 0x8004000000.
func DefaultLayout() Layout {
	const userStack = 0x47480000

	return Layout{
		UserStackTop: userStack,
		StackLimit:   userStack - (1 << 20),
		KernelBase:   0x8004000000,
	}
}

// IsKernelAddr tells if addr belongs to kernel space.
func (l Layout) IsKernelAddr(addr uint64) bool {
	return addr >= l.KernelBase
}

// InStackEnvelope tells if a faulting access at addr, with the given stack
// pointer, is a legitimate stack growth.
func (l Layout) InStackEnvelope(addr, stackPointer uint64) bool {
	if stackPointer >= stackPushSlack && addr < stackPointer-stackPushSlack {
		return false
	}

	return addr >= l.StackLimit && addr < l.UserStackTop
}

func (l Layout) mustBeValid() {
	if PageOffset(l.UserStackTop) != 0 || PageOffset(l.StackLimit) != 0 {
		panic("stack boundaries must be page aligned")
	}

	if l.StackLimit >= l.UserStackTop {
		panic("stack limit must be below the stack top")
	}

	if l.UserStackTop > l.KernelBase {
		panic("stack must be in user space")
	}
}
