// Package workload runs simulated user processes on top of the memory
// manager. A process reaches memory only through the page table, the way a
// CPU would, and hands every fault it raises to the manager.
package workload

import (
	"errors"
	"sync"

	"github.com/sarchlab/vmcore/mem/phys"
	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/mmu"
)

// A Machine is the hardware that processes run on.
type Machine struct {
	Manager   *vm.Manager
	PageTable *mmu.PageTable
	Pool      *phys.Pool

	// remap is held shared while a translated address is in use and
	// exclusively while frames may move.
	remap sync.RWMutex
}

// Spawn creates a process with a fresh address space and an initial stack
// page.
func (m *Machine) Spawn(pid vm.PID) (*Process, error) {
	m.remap.Lock()
	defer m.remap.Unlock()

	as := m.Manager.NewAddressSpace(pid)

	sp, err := as.SetupStack()
	if err != nil {
		return nil, errors.Join(err, m.release(as))
	}

	return &Process{
		machine:      m,
		as:           as,
		stackPointer: sp,
	}, nil
}

// release tears down as and drops its page table. The address space is gone
// even when a write-back fails.
func (m *Machine) release(as *vm.AddressSpace) error {
	err := m.Manager.Teardown(as)
	m.PageTable.DestroyTable(as.PID())

	return err
}

// NewMachine connects a manager to the page table and the pool it was built
// with.
func NewMachine(mgr *vm.Manager, pt *mmu.PageTable, pool *phys.Pool) *Machine {
	return &Machine{
		Manager:   mgr,
		PageTable: pt,
		Pool:      pool,
	}
}
