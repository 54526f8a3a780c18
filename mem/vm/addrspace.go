package vm

import (
	"fmt"
	"sync"

	"github.com/sarchlab/vmcore/tracing"
)

// An AddressSpace is the virtual memory of one process.
type AddressSpace struct {
	mgr *Manager
	pid PID
	spt *SupplementalPageTable

	// live is guarded by the frame table lock.
	live bool

	// mu is taken before the frame table lock, never after it.
	mu          sync.Mutex
	stackBottom uint64
	savedSP     uint64
	mappings    map[uint64]int
}

// PID returns the ID of the process that owns the address space.
func (as *AddressSpace) PID() PID {
	return as.pid
}

// SPT returns the supplemental page table of the address space.
func (as *AddressSpace) SPT() *SupplementalPageTable {
	return as.spt
}

// Find returns the page that contains va.
func (as *AddressSpace) Find(va uint64) (*Page, bool) {
	return as.spt.Find(va)
}

// RequestLazyMapping registers a page of the given kind at va without
// giving it a frame. init runs with aux when the page is first claimed.
// File-backed pages need a FileMapping, or a pointer to one, as aux.
func (as *AddressSpace) RequestLazyMapping(
	kind PageKind,
	va uint64,
	writable bool,
	init Initializer,
	aux any,
) error {
	_, err := as.requestLazyMapping(kind, va, writable, init, aux)
	return err
}

func (as *AddressSpace) requestLazyMapping(
	kind PageKind,
	va uint64,
	writable bool,
	init Initializer,
	aux any,
) (*Page, error) {
	switch kind {
	case KindAnon:
	case KindFile:
		mapping, ok := fileMappingOf(aux)
		if !ok || mapping.ReadBytes > PageSize || mapping.Offset < 0 {
			return nil, fmt.Errorf("%w: bad file range at 0x%x", ErrBadMapping, va)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUninitKind, kind)
	}

	if va == 0 || as.mgr.layout.IsKernelAddr(va) {
		return nil, fmt.Errorf("%w: 0x%x", ErrInvalidAccess, va)
	}

	page := newUninitPage(as, kind, va, writable, init, aux)

	err := as.spt.Insert(page)
	if err != nil {
		return nil, err
	}

	return page, nil
}

// AllocatePage registers a page at va that starts zeroed for anonymous
// memory.
func (as *AddressSpace) AllocatePage(kind PageKind, va uint64, writable bool) error {
	return as.RequestLazyMapping(kind, va, writable, nil, nil)
}

// Claim makes the page at va resident without waiting for a fault.
func (as *AddressSpace) Claim(va uint64) error {
	page, found := as.spt.Find(va)
	if !found {
		return fmt.Errorf("%w: 0x%x", ErrNoPage, va)
	}

	return as.mgr.claim(page, "")
}

// RemovePage drops the page at va. Dirty file content is written back first.
func (as *AddressSpace) RemovePage(va uint64) error {
	page, found := as.spt.remove(PageRoundDown(va))
	if !found {
		return fmt.Errorf("%w: 0x%x", ErrNoPage, va)
	}

	as.mgr.frames.Lock()
	defer as.mgr.frames.Unlock()

	return as.mgr.dropPageLocked(page)
}

// SetupStack creates and claims the top page of the user stack. It returns
// the initial stack pointer.
func (as *AddressSpace) SetupStack() (uint64, error) {
	layout := as.mgr.layout
	va := layout.UserStackTop - PageSize

	page, err := as.requestLazyMapping(KindAnon, va, true, nil, nil)
	if err != nil {
		return 0, err
	}

	page.stack = true

	err = as.mgr.claim(page, "")
	if err != nil {
		return 0, err
	}

	as.mu.Lock()
	as.stackBottom = va
	as.mu.Unlock()

	return layout.UserStackTop, nil
}

// StackBottom returns the lowest address of the stack pages created so far.
func (as *AddressSpace) StackBottom() uint64 {
	as.mu.Lock()
	defer as.mu.Unlock()

	return as.stackBottom
}

// SaveStackPointer records the user stack pointer on entry to the kernel.
// Faults raised by the kernel on behalf of the process use it to decide on
// stack growth.
func (as *AddressSpace) SaveStackPointer(sp uint64) {
	as.mu.Lock()
	defer as.mu.Unlock()

	as.savedSP = sp
}

// SavedStackPointer returns the stack pointer recorded at kernel entry.
func (as *AddressSpace) SavedStackPointer() uint64 {
	as.mu.Lock()
	defer as.mu.Unlock()

	return as.savedSP
}

// growStack adds one page below the current stack bottom and claims it.
func (as *AddressSpace) growStack(taskID string) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	va := as.stackBottom - PageSize
	if va < as.mgr.layout.StackLimit {
		return fmt.Errorf("%w: stack limit reached", ErrInvalidAccess)
	}

	page, err := as.requestLazyMapping(KindAnon, va, true, nil, nil)
	if err != nil {
		return err
	}

	page.stack = true

	err = as.mgr.claim(page, taskID)
	if err != nil {
		as.spt.remove(va)
		return err
	}

	as.stackBottom = va
	as.mgr.stats.stackGrowths.Add(1)

	if taskID != "" {
		tracing.AddTaskStep(taskID, as.mgr, "grown")
	}

	return nil
}

func (as *AddressSpace) isLive() bool {
	as.mgr.frames.Lock()
	defer as.mgr.frames.Unlock()

	return as.live
}

// ValidateUserAddr checks that the kernel may touch addr on behalf of the
// process.
func (as *AddressSpace) ValidateUserAddr(addr uint64) error {
	if addr == 0 || as.mgr.layout.IsKernelAddr(addr) {
		return fmt.Errorf("%w: 0x%x", ErrInvalidAccess, addr)
	}

	if _, found := as.spt.Find(addr); !found {
		return fmt.Errorf("%w: 0x%x is not mapped", ErrInvalidAccess, addr)
	}

	return nil
}

// Pages returns all the pages of the address space.
func (as *AddressSpace) Pages() []*Page {
	return as.spt.Pages()
}

// Info summarizes the address space.
func (as *AddressSpace) Info() SpaceInfo {
	as.mu.Lock()
	info := SpaceInfo{
		PID:         as.pid,
		StackBottom: as.stackBottom,
		Mappings:    len(as.mappings),
	}
	as.mu.Unlock()

	as.mgr.frames.Lock()
	defer as.mgr.frames.Unlock()

	for _, p := range as.spt.Pages() {
		info.Pages = append(info.Pages, PageInfo{
			VAddr:    p.vAddr,
			Kind:     p.Kind().String(),
			Writable: p.writable,
			Stack:    p.stack,
			Resident: p.frame != nil,
			Swapped:  p.Swapped(),
		})
	}

	return info
}

// SpaceInfo is a snapshot of an address space.
type SpaceInfo struct {
	PID         PID        `json:"pid"`
	StackBottom uint64     `json:"stack_bottom"`
	Mappings    int        `json:"mappings"`
	Pages       []PageInfo `json:"pages"`
}

// PageInfo is a snapshot of a page.
type PageInfo struct {
	VAddr    uint64 `json:"vaddr"`
	Kind     string `json:"kind"`
	Writable bool   `json:"writable"`
	Stack    bool   `json:"stack"`
	Resident bool   `json:"resident"`
	Swapped  bool   `json:"swapped"`
}
