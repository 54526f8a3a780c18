package vm

import (
	"fmt"
	"maps"
)

// Duplicate copies every page of src into dst, which must be empty. Pages
// that were never claimed stay lazy in dst with the same initializer. The
// others are claimed in dst and receive a private copy of their current
// content. On failure dst is left partly filled and should be torn down.
func (m *Manager) Duplicate(dst, src *AddressSpace) error {
	for _, p := range src.spt.Pages() {
		err := m.duplicatePage(dst, p)
		if err != nil {
			return fmt.Errorf("duplicate %s: %w", p, err)
		}
	}

	src.mu.Lock()
	stackBottom := src.stackBottom
	savedSP := src.savedSP
	mappings := maps.Clone(src.mappings)
	src.mu.Unlock()

	dst.mu.Lock()
	dst.stackBottom = stackBottom
	dst.savedSP = savedSP
	dst.mappings = mappings
	dst.mu.Unlock()

	return nil
}

func (m *Manager) duplicatePage(dst *AddressSpace, p *Page) error {
	m.frames.Lock()
	defer m.frames.Unlock()

	if p.removed {
		return nil
	}

	if !dst.live {
		return ErrSpaceDestroyed
	}

	if !p.Resolved() {
		child := newUninitPage(dst, p.uninit.target, p.vAddr, p.writable,
			p.uninit.init, p.uninit.aux)
		child.stack = p.stack

		return dst.spt.Insert(child)
	}

	child := &Page{
		vAddr:    p.vAddr,
		writable: p.writable,
		stack:    p.stack,
		kind:     p.kind,
		space:    dst,
		file:     p.file,
	}

	err := dst.spt.Insert(child)
	if err != nil {
		return err
	}

	err = m.claimLocked(p, "")
	if err != nil {
		return err
	}

	parent := p.frame
	m.frames.pin(parent)
	defer m.frames.unpin(parent)

	f, err := m.acquireFrameLocked("")
	if err != nil {
		return err
	}

	copy(m.alloc.Bytes(f.pAddr), m.alloc.Bytes(parent.pAddr))

	err = m.translator.Map(dst.pid, child.vAddr, f.pAddr, child.writable)
	if err != nil {
		m.releaseFrameLocked(f)
		return err
	}

	if child.kind == KindFile && m.translator.IsDirty(p.space.pid, p.vAddr) {
		m.translator.SetDirty(dst.pid, child.vAddr, true)
	}

	f.page = child
	child.frame = f

	return nil
}
