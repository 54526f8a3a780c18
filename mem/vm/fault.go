package vm

import (
	"fmt"

	"github.com/sarchlab/vmcore/tracing"
)

// A Fault is what the hardware reports when a memory access cannot be
// translated.
type Fault struct {
	// Addr is the faulting virtual address.
	Addr uint64

	// User tells if the access came from user mode.
	User bool

	// Write tells if the access was a write.
	Write bool

	// Present tells if a translation existed, meaning the access violated
	// its protection rather than missing it.
	Present bool

	// StackPointer is the user stack pointer at the time of the trap. It is
	// meaningless for kernel-mode faults.
	StackPointer uint64
}

// The kinds of fault tasks.
const (
	faultInvalid     = "invalid"
	faultLazyLoad    = "lazy_load"
	faultStackGrowth = "stack_growth"
	faultCOW         = "cow"
)

// HandleFault is the page-fault entry point. It returns false when the
// access is invalid or cannot be served, in which case the faulting process
// must be terminated.
func (m *Manager) HandleFault(as *AddressSpace, fault Fault) bool {
	return m.ResolveFault(as, fault) == nil
}

// ResolveFault resolves a page fault raised in as. After it succeeds,
// retrying the access does not fault again.
func (m *Manager) ResolveFault(as *AddressSpace, fault Fault) error {
	m.stats.faults.Add(1)

	what, page, err := m.classify(as, fault)

	id := m.idGen.Generate()
	tracing.StartTask(id, "", m, "page_fault", what, fault)
	defer tracing.EndTask(id, m)

	if err == nil {
		switch what {
		case faultLazyLoad:
			err = m.claim(page, id)
		case faultCOW:
			err = m.copyOnWrite(page, id)
		case faultStackGrowth:
			err = as.growStack(id)
		}
	}

	if err != nil {
		m.stats.failedFaults.Add(1)
		tracing.AddTaskStep(id, m, "failed")

		return fmt.Errorf("fault at 0x%x: %w", fault.Addr, err)
	}

	return nil
}

func (m *Manager) classify(
	as *AddressSpace,
	fault Fault,
) (what string, page *Page, err error) {
	if !as.isLive() {
		return faultInvalid, nil, ErrSpaceDestroyed
	}

	if fault.Addr == 0 || m.layout.IsKernelAddr(fault.Addr) {
		return faultInvalid, nil, ErrInvalidAccess
	}

	page, found := as.spt.Find(fault.Addr)

	if fault.Present {
		switch {
		case !found || !fault.Write:
			return faultInvalid, nil, ErrInvalidAccess
		case !page.writable:
			return faultInvalid, nil, ErrNotWritable
		default:
			return faultCOW, page, nil
		}
	}

	if found {
		return faultLazyLoad, page, nil
	}

	stackPointer := fault.StackPointer
	if !fault.User {
		stackPointer = as.SavedStackPointer()
	}

	if m.layout.InStackEnvelope(fault.Addr, stackPointer) {
		return faultStackGrowth, nil, nil
	}

	return faultInvalid, nil, ErrInvalidAccess
}

// copyOnWrite gives p a private writable frame holding a copy of its
// current content.
func (m *Manager) copyOnWrite(p *Page, taskID string) error {
	m.frames.Lock()
	defer m.frames.Unlock()

	old := p.frame
	if old == nil {
		return m.claimLocked(p, taskID)
	}

	m.frames.pin(old)
	f, err := m.acquireFrameLocked(taskID)
	m.frames.unpin(old)

	if err != nil {
		return err
	}

	copy(m.alloc.Bytes(f.pAddr), m.alloc.Bytes(old.pAddr))

	pid := p.space.pid
	dirty := m.translator.IsDirty(pid, p.vAddr)

	err = m.translator.Map(pid, p.vAddr, f.pAddr, true)
	if err != nil {
		m.releaseFrameLocked(f)
		return err
	}

	m.translator.SetDirty(pid, p.vAddr, dirty)

	f.page = p
	p.frame = f
	old.page = nil
	m.releaseFrameLocked(old)

	m.stats.cowRepairs.Add(1)
	tracing.AddTaskStep(taskID, m, "copied")

	return nil
}
