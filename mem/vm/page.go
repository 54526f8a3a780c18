package vm

import "fmt"

// PageKind tells what backs the content of a page.
type PageKind uint8

// The kinds of pages. A page starts as KindUninit and becomes one of the
// concrete kinds the first time it is claimed.
const (
	KindUninit PageKind = iota
	KindAnon
	KindFile
)

func (k PageKind) String() string {
	switch k {
	case KindUninit:
		return "uninit"
	case KindAnon:
		return "anon"
	case KindFile:
		return "file"
	default:
		return fmt.Sprintf("PageKind(%d)", uint8(k))
	}
}

// An Initializer fills the content of a lazily allocated page the first time
// it is claimed. content has already been prepared by the page kind (zeroed
// for anonymous pages, read from the file for file-backed pages). The same
// initializer and aux may run once in a parent and once in each child that
// duplicated the page before it was claimed.
type Initializer func(page *Page, content []byte, aux any) error

// FileMapping locates the content of a file-backed page. The first ReadBytes
// bytes of the page come from File at Offset, the rest is zero.
type FileMapping struct {
	File      File
	Offset    int64
	ReadBytes uint64
}

// A Page describes one user page of one address space. The kind-specific
// payloads below form a closed variant selected by kind.
type Page struct {
	vAddr    uint64
	writable bool
	stack    bool
	kind     PageKind

	space *AddressSpace

	// frame and removed are guarded by the frame table lock.
	frame   *Frame
	removed bool

	uninit uninitPage
	anon   anonPage
	file   filePage
}

type uninitPage struct {
	target PageKind
	init   Initializer
	aux    any
}

type anonPage struct {
	slot    SwapSlot
	swapped bool
}

type filePage struct {
	mapping FileMapping
}

func newUninitPage(
	space *AddressSpace,
	target PageKind,
	va uint64,
	writable bool,
	init Initializer,
	aux any,
) *Page {
	return &Page{
		vAddr:    PageRoundDown(va),
		writable: writable,
		kind:     KindUninit,
		space:    space,
		uninit: uninitPage{
			target: target,
			init:   init,
			aux:    aux,
		},
	}
}

// VAddr returns the page-aligned virtual address of the page.
func (p *Page) VAddr() uint64 {
	return p.vAddr
}

// Writable tells if user code may write the page.
func (p *Page) Writable() bool {
	return p.writable
}

// IsStack tells if the page was created for the user stack.
func (p *Page) IsStack() bool {
	return p.stack
}

// Space returns the address space the page belongs to.
func (p *Page) Space() *AddressSpace {
	return p.space
}

// Kind returns the kind the page has or will have once claimed.
func (p *Page) Kind() PageKind {
	if p.kind == KindUninit {
		return p.uninit.target
	}

	return p.kind
}

// Resolved tells if the page has been claimed at least once.
func (p *Page) Resolved() bool {
	return p.kind != KindUninit
}

// Swapped tells if the content of an anonymous page sits in a swap slot.
func (p *Page) Swapped() bool {
	return p.kind == KindAnon && p.anon.swapped
}

// Mapping returns the file range of a file-backed page.
func (p *Page) Mapping() (FileMapping, bool) {
	switch {
	case p.kind == KindFile:
		return p.file.mapping, true
	case p.kind == KindUninit && p.uninit.target == KindFile:
		return fileMappingOf(p.uninit.aux)
	default:
		return FileMapping{}, false
	}
}

func (p *Page) String() string {
	return fmt.Sprintf("%s page 0x%x of %d", p.Kind(), p.vAddr, p.space.pid)
}

func fileMappingOf(aux any) (FileMapping, bool) {
	switch m := aux.(type) {
	case FileMapping:
		return m, m.File != nil
	case *FileMapping:
		if m == nil || m.File == nil {
			return FileMapping{}, false
		}
		return *m, true
	default:
		return FileMapping{}, false
	}
}
