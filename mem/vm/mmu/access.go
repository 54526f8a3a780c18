package mmu

import (
	"github.com/sarchlab/vmcore/mem/vm"
)

// Access translates an access of a process the way the CPU would. On success
// it sets the accessed bit, and the dirty bit for writes, and returns the
// physical address. Otherwise it returns the fault the CPU would raise.
func (pt *PageTable) Access(
	pid vm.PID,
	va uint64,
	write bool,
	user bool,
	stackPointer uint64,
) (uint64, *vm.Fault) {
	fault := &vm.Fault{
		Addr:         va,
		User:         user,
		Write:        write,
		StackPointer: stackPointer,
	}

	table, found := pt.findTable(pid)
	if !found {
		return 0, fault
	}

	pa, present, ok := table.access(pt.alignToPage(va), write)
	if !ok {
		fault.Present = present
		return 0, fault
	}

	return pa + (va - pt.alignToPage(va)), nil
}

func (t *processTable) access(vAddr uint64, write bool) (
	pa uint64,
	present bool,
	ok bool,
) {
	t.Lock()
	defer t.Unlock()

	elem, found := t.entriesTable[vAddr]
	if !found {
		return 0, false, false
	}

	pte := elem.Value.(PTE)
	if write && !pte.Writable {
		return 0, true, false
	}

	pte.Accessed = true
	if write {
		pte.Dirty = true
	}
	elem.Value = pte

	return pte.PAddr, true, true
}
