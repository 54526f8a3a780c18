// Package mmu simulates the hardware side of address translation: one page
// table per process, with accessed and dirty bits that the hardware sets and
// the memory manager reads and clears.
package mmu

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/sarchlab/vmcore/mem/vm"
)

// A PTE is an entry in a page table, maintaining the information about how
// to translate a virtual page to a physical page.
type PTE struct {
	VAddr    uint64
	PAddr    uint64
	Writable bool
	Accessed bool
	Dirty    bool
}

// PageTable holds the page tables of all processes. It implements
// vm.Translator.
type PageTable struct {
	sync.Mutex
	log2PageSize uint64
	tables       map[vm.PID]*processTable
}

// NewPageTable creates a new PageTable.
func NewPageTable(log2PageSize uint64) *PageTable {
	return &PageTable{
		log2PageSize: log2PageSize,
		tables:       make(map[vm.PID]*processTable),
	}
}

// GetLog2PageSize returns the log2 of the page size.
func (pt *PageTable) GetLog2PageSize() uint64 {
	return pt.log2PageSize
}

func (pt *PageTable) getTable(pid vm.PID) *processTable {
	pt.Lock()
	defer pt.Unlock()

	table, found := pt.tables[pid]
	if !found {
		table = &processTable{
			entries:      list.New(),
			entriesTable: make(map[uint64]*list.Element),
		}
		pt.tables[pid] = table
	}

	return table
}

func (pt *PageTable) findTable(pid vm.PID) (*processTable, bool) {
	pt.Lock()
	defer pt.Unlock()

	table, found := pt.tables[pid]

	return table, found
}

func (pt *PageTable) alignToPage(addr uint64) uint64 {
	return (addr >> pt.log2PageSize) << pt.log2PageSize
}

func (pt *PageTable) isAligned(addr uint64) bool {
	return pt.alignToPage(addr) == addr
}

// Map installs a translation from va to pa. Mapping over an existing entry
// replaces it and clears its accessed and dirty bits.
func (pt *PageTable) Map(pid vm.PID, va, pa uint64, writable bool) error {
	if !pt.isAligned(va) || !pt.isAligned(pa) {
		return fmt.Errorf("mapping 0x%x to 0x%x: address not page aligned",
			va, pa)
	}

	table := pt.getTable(pid)
	table.insert(PTE{VAddr: va, PAddr: pa, Writable: writable})

	return nil
}

// Unmap removes the translation of the page that contains va, if any.
func (pt *PageTable) Unmap(pid vm.PID, va uint64) {
	table, found := pt.findTable(pid)
	if !found {
		return
	}

	table.remove(pt.alignToPage(va))
}

// Find returns the entry of the page that contains va.
func (pt *PageTable) Find(pid vm.PID, va uint64) (PTE, bool) {
	table, found := pt.findTable(pid)
	if !found {
		return PTE{}, false
	}

	return table.find(pt.alignToPage(va))
}

// Lookup returns the physical page that va translates to.
func (pt *PageTable) Lookup(pid vm.PID, va uint64) (uint64, bool, bool) {
	pte, found := pt.Find(pid, va)
	return pte.PAddr, pte.Writable, found
}

// IsAccessed tells if the page that contains va was accessed since the bit
// was last cleared.
func (pt *PageTable) IsAccessed(pid vm.PID, va uint64) bool {
	pte, _ := pt.Find(pid, va)
	return pte.Accessed
}

// SetAccessed sets the accessed bit of the page that contains va.
func (pt *PageTable) SetAccessed(pid vm.PID, va uint64, accessed bool) {
	pt.update(pid, va, func(pte *PTE) { pte.Accessed = accessed })
}

// IsDirty tells if the page that contains va was written since it was mapped.
func (pt *PageTable) IsDirty(pid vm.PID, va uint64) bool {
	pte, _ := pt.Find(pid, va)
	return pte.Dirty
}

// SetDirty sets the dirty bit of the page that contains va.
func (pt *PageTable) SetDirty(pid vm.PID, va uint64, dirty bool) {
	pt.update(pid, va, func(pte *PTE) { pte.Dirty = dirty })
}

func (pt *PageTable) update(pid vm.PID, va uint64, f func(pte *PTE)) {
	table, found := pt.findTable(pid)
	if !found {
		return
	}

	table.update(pt.alignToPage(va), f)
}

// Entries returns the entries of a process in the order they were mapped.
func (pt *PageTable) Entries(pid vm.PID) []PTE {
	table, found := pt.findTable(pid)
	if !found {
		return nil
	}

	return table.all()
}

// DestroyTable drops the page table of a process.
func (pt *PageTable) DestroyTable(pid vm.PID) {
	pt.Lock()
	defer pt.Unlock()

	delete(pt.tables, pid)
}

type processTable struct {
	sync.Mutex
	entries      *list.List
	entriesTable map[uint64]*list.Element
}

func (t *processTable) insert(pte PTE) {
	t.Lock()
	defer t.Unlock()

	if elem, found := t.entriesTable[pte.VAddr]; found {
		elem.Value = pte
		return
	}

	elem := t.entries.PushBack(pte)
	t.entriesTable[pte.VAddr] = elem
}

func (t *processTable) remove(vAddr uint64) {
	t.Lock()
	defer t.Unlock()

	elem, found := t.entriesTable[vAddr]
	if !found {
		return
	}

	t.entries.Remove(elem)
	delete(t.entriesTable, vAddr)
}

func (t *processTable) update(vAddr uint64, f func(pte *PTE)) {
	t.Lock()
	defer t.Unlock()

	elem, found := t.entriesTable[vAddr]
	if !found {
		return
	}

	pte := elem.Value.(PTE)
	f(&pte)
	elem.Value = pte
}

func (t *processTable) find(vAddr uint64) (PTE, bool) {
	t.Lock()
	defer t.Unlock()

	elem, found := t.entriesTable[vAddr]
	if found {
		return elem.Value.(PTE), true
	}

	return PTE{}, false
}

func (t *processTable) all() []PTE {
	t.Lock()
	defer t.Unlock()

	ptes := make([]PTE, 0, t.entries.Len())
	for e := t.entries.Front(); e != nil; e = e.Next() {
		ptes = append(ptes, e.Value.(PTE))
	}

	return ptes
}
