package vm

import "errors"

// Invalid accesses. The faulting process must be terminated.
var (
	ErrInvalidAccess = errors.New("invalid memory access")
	ErrNotWritable   = errors.New("write to read-only page")
)

// Exhaustion of the physical pool with nothing left to evict.
var ErrOutOfFrames = errors.New("no physical frame available")

// Structural violations. These come from incorrect callers.
var (
	ErrPageExists      = errors.New("page already exists")
	ErrNoPage          = errors.New("no page at address")
	ErrUninitKind      = errors.New("page must resolve to a concrete kind")
	ErrAlreadyResolved = errors.New("page already resolved")
	ErrBadMapping      = errors.New("invalid memory mapping")
	ErrSpaceDestroyed  = errors.New("address space torn down")
)

// Backing store failures.
var (
	ErrSwapFull = errors.New("swap device full")
	ErrBadSlot  = errors.New("invalid swap slot")
)
