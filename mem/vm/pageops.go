package vm

import (
	"errors"
	"fmt"
	"io"
)

// resolve turns an uninit page into its target kind. A page resolves once.
func (m *Manager) resolve(p *Page) error {
	if p.kind != KindUninit {
		return fmt.Errorf("%w: %s", ErrAlreadyResolved, p)
	}

	switch p.uninit.target {
	case KindAnon:
		p.anon = anonPage{}
	case KindFile:
		mapping, ok := fileMappingOf(p.uninit.aux)
		if !ok {
			return fmt.Errorf("%w: %s has no file", ErrBadMapping, p)
		}

		p.file = filePage{mapping: mapping}
	default:
		return fmt.Errorf("%w: %s", ErrUninitKind, p)
	}

	p.kind = p.uninit.target

	return nil
}

// load fills content, the kernel view of the frame of p, with the content of
// p. On the first load it resolves the page and runs its initializer.
func (m *Manager) load(p *Page, content []byte) error {
	switch p.kind {
	case KindUninit:
		return m.loadUninit(p, content)
	case KindAnon:
		return m.loadAnon(p, content)
	case KindFile:
		return m.loadFile(p, content)
	default:
		panic(fmt.Sprintf("unknown page kind %d", p.kind))
	}
}

func (m *Manager) loadUninit(p *Page, content []byte) error {
	uninit := p.uninit

	err := m.resolve(p)
	if err != nil {
		return err
	}

	p.uninit = uninitPage{}

	err = m.load(p, content)
	if err == nil && uninit.init != nil {
		err = uninit.init(p, content, uninit.aux)
		if err != nil {
			err = fmt.Errorf("initialize %s: %w", p, err)
		}
	}

	if err != nil {
		unresolve(p, uninit)
		return err
	}

	m.stats.lazyLoads.Add(1)

	return nil
}

// unresolve puts a page whose first load failed back to uninit, so that the
// next claim runs the initializer again.
func unresolve(p *Page, uninit uninitPage) {
	p.kind = KindUninit
	p.uninit = uninit
	p.anon = anonPage{}
	p.file = filePage{}
}

func (m *Manager) loadAnon(p *Page, content []byte) error {
	if !p.anon.swapped {
		clear(content)
		return nil
	}

	err := m.swap.SwapIn(p.anon.slot, content)
	if err != nil {
		return fmt.Errorf("swap in %s from slot %d: %w", p, p.anon.slot, err)
	}

	m.swap.Free(p.anon.slot)
	p.anon = anonPage{}
	m.stats.swapIns.Add(1)

	return nil
}

func (m *Manager) loadFile(p *Page, content []byte) error {
	mapping := p.file.mapping

	n, err := mapping.File.ReadAt(content[:mapping.ReadBytes], mapping.Offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read %s at %d: %w", p, mapping.Offset, err)
	}

	clear(content[n:])

	return nil
}

// store persists the content of a resident page so that its frame can be
// taken away. dirty is the hardware dirty bit sampled before the page was
// unmapped.
func (m *Manager) store(p *Page, content []byte, dirty bool) error {
	switch p.kind {
	case KindUninit:
		return nil
	case KindAnon:
		return m.storeAnon(p, content)
	case KindFile:
		if !dirty {
			return nil
		}

		return m.writeBack(p, content)
	default:
		panic(fmt.Sprintf("unknown page kind %d", p.kind))
	}
}

func (m *Manager) storeAnon(p *Page, content []byte) error {
	slot, err := m.swap.SwapOut(content)
	if err != nil {
		return fmt.Errorf("swap out %s: %w", p, err)
	}

	p.anon = anonPage{slot: slot, swapped: true}
	m.stats.swapOuts.Add(1)

	return nil
}

func (m *Manager) writeBack(p *Page, content []byte) error {
	mapping := p.file.mapping

	_, err := mapping.File.WriteAt(content[:mapping.ReadBytes], mapping.Offset)
	if err != nil {
		return fmt.Errorf("write back %s at %d: %w", p, mapping.Offset, err)
	}

	m.stats.writeBacks.Add(1)

	return nil
}

// destroy releases what the kind of p holds outside of its frame. The frame
// table lock must be held and p must still be mapped if it is resident.
func (m *Manager) destroy(p *Page) error {
	switch p.kind {
	case KindAnon:
		if p.anon.swapped {
			m.swap.Free(p.anon.slot)
			p.anon = anonPage{}
		}
	case KindFile:
		if p.frame == nil {
			return nil
		}

		dirty := m.translator.IsDirty(p.space.pid, p.vAddr)

		return m.store(p, m.alloc.Bytes(p.frame.pAddr), dirty)
	}

	return nil
}
