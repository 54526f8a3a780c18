package vm

import (
	"container/list"
	"fmt"
	"sync"
)

// A SupplementalPageTable records the page that each user virtual page of an
// address space should hold, whether or not it is resident.
type SupplementalPageTable struct {
	sync.Mutex
	entries      *list.List
	entriesTable map[uint64]*list.Element
}

// NewSupplementalPageTable creates an empty table.
func NewSupplementalPageTable() *SupplementalPageTable {
	return &SupplementalPageTable{
		entries:      list.New(),
		entriesTable: make(map[uint64]*list.Element),
	}
}

// Find returns the page that contains va.
func (t *SupplementalPageTable) Find(va uint64) (*Page, bool) {
	t.Lock()
	defer t.Unlock()

	elem, found := t.entriesTable[PageRoundDown(va)]
	if !found {
		return nil, false
	}

	return elem.Value.(*Page), true
}

// Insert adds a page. It fails if a page already exists at the same address.
func (t *SupplementalPageTable) Insert(page *Page) error {
	t.Lock()
	defer t.Unlock()

	if _, found := t.entriesTable[page.vAddr]; found {
		return fmt.Errorf("%w: 0x%x", ErrPageExists, page.vAddr)
	}

	elem := t.entries.PushBack(page)
	t.entriesTable[page.vAddr] = elem

	return nil
}

// remove detaches the page at va from the table.
func (t *SupplementalPageTable) remove(va uint64) (*Page, bool) {
	t.Lock()
	defer t.Unlock()

	elem, found := t.entriesTable[va]
	if !found {
		return nil, false
	}

	t.entries.Remove(elem)
	delete(t.entriesTable, va)

	return elem.Value.(*Page), true
}

// drain detaches every page, in insertion order.
func (t *SupplementalPageTable) drain() []*Page {
	t.Lock()
	defer t.Unlock()

	pages := t.pagesLocked()
	t.entries.Init()
	clear(t.entriesTable)

	return pages
}

// Pages returns all the pages in insertion order.
func (t *SupplementalPageTable) Pages() []*Page {
	t.Lock()
	defer t.Unlock()

	return t.pagesLocked()
}

// Len returns the number of pages in the table.
func (t *SupplementalPageTable) Len() int {
	t.Lock()
	defer t.Unlock()

	return t.entries.Len()
}

func (t *SupplementalPageTable) pagesLocked() []*Page {
	pages := make([]*Page, 0, t.entries.Len())
	for e := t.entries.Front(); e != nil; e = e.Next() {
		pages = append(pages, e.Value.(*Page))
	}

	return pages
}
