// Package phys simulates the user pool of physical memory that the memory
// manager draws frames from.
package phys

import (
	"fmt"
	"sync"

	"github.com/sarchlab/vmcore/mem/vm"
)

// A Pool is a fixed number of page-sized physical frames starting at a base
// address. Memory for a frame is only allocated once the frame is handed out.
type Pool struct {
	mu        sync.Mutex
	base      uint64
	numFrames uint64
	units     map[uint64][]byte
	free      []uint64
	inUse     map[uint64]bool
}

// NewPool creates a pool of numFrames frames. base must be page aligned.
func NewPool(base uint64, numFrames int) *Pool {
	if vm.PageOffset(base) != 0 {
		panic("pool base must be page aligned")
	}

	p := &Pool{
		base:      base,
		numFrames: uint64(numFrames),
		units:     make(map[uint64][]byte),
		inUse:     make(map[uint64]bool),
	}

	for i := numFrames - 1; i >= 0; i-- {
		p.free = append(p.free, base+uint64(i)*vm.PageSize)
	}

	return p
}

// AllocZeroed hands out the lowest free frame, filled with zeros.
func (p *Pool) AllocZeroed() (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		return 0, false
	}

	pa := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.inUse[pa] = true

	unit, ok := p.units[pa]
	if !ok {
		unit = make([]byte, vm.PageSize)
		p.units[pa] = unit
	}
	clear(unit)

	return pa, true
}

// Free returns a frame to the pool. Freeing a frame that is not in use is a
// programming error.
func (p *Pool) Free(pa uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.mustBeInUse(pa)

	delete(p.inUse, pa)
	p.free = append(p.free, pa)
}

// Bytes returns the content of the frame at pa.
func (p *Pool) Bytes(pa uint64) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.mustBeInUse(pa)

	return p.units[pa]
}

// Read copies len(buf) bytes starting at physical address pa into buf. The
// range must stay within one frame.
func (p *Pool) Read(pa uint64, buf []byte) {
	unit, offset := p.locate(pa, len(buf))
	copy(buf, unit[offset:])
}

// Write copies data to physical address pa. The range must stay within one
// frame.
func (p *Pool) Write(pa uint64, data []byte) {
	unit, offset := p.locate(pa, len(data))
	copy(unit[offset:], data)
}

func (p *Pool) locate(pa uint64, n int) ([]byte, uint64) {
	base := vm.PageRoundDown(pa)
	offset := vm.PageOffset(pa)

	if offset+uint64(n) > vm.PageSize {
		panic(fmt.Sprintf("access at 0x%x of %d bytes crosses a frame", pa, n))
	}

	return p.Bytes(base), offset
}

// NumFree returns the number of frames that can still be allocated.
func (p *Pool) NumFree() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.free)
}

// NumFrames returns the size of the pool in frames.
func (p *Pool) NumFrames() int {
	return int(p.numFrames)
}

func (p *Pool) mustBeInUse(pa uint64) {
	if !p.inUse[pa] {
		panic(fmt.Sprintf("frame 0x%x is not in use", pa))
	}
}
