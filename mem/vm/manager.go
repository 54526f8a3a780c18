package vm

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sarchlab/vmcore/instrumentation/hooking"
	"github.com/sarchlab/vmcore/instrumentation/idgen"
)

// Manager owns the frame table and the address spaces of all processes.
//
// Locks are taken in the order: AddressSpace.mu, then the frame table lock,
// then a SupplementalPageTable lock.
type Manager struct {
	*hooking.HookableBase

	name       string
	layout     Layout
	alloc      PhysicalAllocator
	translator Translator
	swap       SwapDevice
	idGen      idgen.Generator

	frames *FrameTable
	stats  counters

	spacesMu sync.Mutex
	spaces   map[PID]*AddressSpace
}

// Name returns the name of the manager.
func (m *Manager) Name() string {
	return m.name
}

// Layout returns the virtual address layout the manager enforces.
func (m *Manager) Layout() Layout {
	return m.layout
}

// Frames returns the frame table.
func (m *Manager) Frames() *FrameTable {
	return m.frames
}

// Stats returns a snapshot of the counters.
func (m *Manager) Stats() Stats {
	return m.stats.snapshot()
}

// NewAddressSpace creates an empty address space for a process. Creating two
// live address spaces with the same PID is a programming error.
func (m *Manager) NewAddressSpace(pid PID) *AddressSpace {
	m.spacesMu.Lock()
	defer m.spacesMu.Unlock()

	if _, found := m.spaces[pid]; found {
		panic(fmt.Sprintf("address space %d already exists", pid))
	}

	as := &AddressSpace{
		mgr:         m,
		pid:         pid,
		spt:         NewSupplementalPageTable(),
		live:        true,
		stackBottom: m.layout.UserStackTop,
		mappings:    make(map[uint64]int),
	}
	m.spaces[pid] = as

	return as
}

// Space returns the live address space of a process.
func (m *Manager) Space(pid PID) (*AddressSpace, bool) {
	m.spacesMu.Lock()
	defer m.spacesMu.Unlock()

	as, found := m.spaces[pid]

	return as, found
}

// AddressSpaces returns the live address spaces ordered by PID.
func (m *Manager) AddressSpaces() []*AddressSpace {
	m.spacesMu.Lock()
	defer m.spacesMu.Unlock()

	spaces := make([]*AddressSpace, 0, len(m.spaces))
	for _, as := range m.spaces {
		spaces = append(spaces, as)
	}

	sort.Slice(spaces, func(i, j int) bool {
		return spaces[i].pid < spaces[j].pid
	})

	return spaces
}

// Teardown destroys every page of as and releases its frames and swap
// slots. Dirty file-backed pages are written back. The address space cannot
// be used afterwards.
func (m *Manager) Teardown(as *AddressSpace) error {
	as.mu.Lock()
	clear(as.mappings)
	as.mu.Unlock()

	m.frames.Lock()

	if !as.live {
		m.frames.Unlock()
		return ErrSpaceDestroyed
	}

	as.live = false

	var errs []error
	for _, p := range as.spt.drain() {
		err := m.dropPageLocked(p)
		if err != nil {
			errs = append(errs, err)
		}
	}

	m.frames.Unlock()

	m.spacesMu.Lock()
	if m.spaces[as.pid] == as {
		delete(m.spaces, as.pid)
	}
	m.spacesMu.Unlock()

	return errors.Join(errs...)
}
