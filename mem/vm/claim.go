package vm

import (
	"errors"
	"fmt"

	"github.com/sarchlab/vmcore/tracing"
)

// claim makes p resident and mapped. Claiming a resident page does nothing.
func (m *Manager) claim(p *Page, taskID string) error {
	m.frames.Lock()
	defer m.frames.Unlock()

	return m.claimLocked(p, taskID)
}

func (m *Manager) claimLocked(p *Page, taskID string) error {
	if p.removed {
		return fmt.Errorf("%w: 0x%x", ErrNoPage, p.vAddr)
	}

	if !p.space.live {
		return ErrSpaceDestroyed
	}

	if p.frame != nil {
		return nil
	}

	f, err := m.acquireFrameLocked(taskID)
	if err != nil {
		return err
	}

	f.page = p
	p.frame = f

	err = m.load(p, m.alloc.Bytes(f.pAddr))
	if err == nil {
		err = m.translator.Map(p.space.pid, p.vAddr, f.pAddr, p.writable)
	}

	if err != nil {
		f.page = nil
		p.frame = nil
		m.releaseFrameLocked(f)

		return err
	}

	if taskID != "" {
		tracing.AddTaskStep(taskID, m, "claimed")
	}

	return nil
}

// acquireFrameLocked returns a frame that no page holds. It takes a fresh
// page from the physical pool and falls back to evicting one.
func (m *Manager) acquireFrameLocked(taskID string) (*Frame, error) {
	pa, ok := m.alloc.AllocZeroed()
	if ok {
		f := &Frame{pAddr: pa}
		m.frames.add(f)

		return f, nil
	}

	victim, ok := m.frames.selectVictim(m.translator)
	if !ok {
		return nil, ErrOutOfFrames
	}

	err := m.evictLocked(victim, taskID)
	if err != nil {
		return nil, err
	}

	clear(m.alloc.Bytes(victim.pAddr))

	return victim, nil
}

// evictLocked saves the content of the page held by f and takes f away from
// it. On failure the page keeps f.
func (m *Manager) evictLocked(f *Frame, parentTaskID string) error {
	p := f.page
	pid, va := p.space.pid, p.vAddr

	id := m.idGen.Generate()
	tracing.StartTask(id, parentTaskID, m, "evict", p.Kind().String(),
		EvictDetail{PID: pid, VAddr: va, PAddr: f.pAddr})
	defer tracing.EndTask(id, m)

	dirty := m.translator.IsDirty(pid, va)
	m.translator.Unmap(pid, va)

	err := m.store(p, m.alloc.Bytes(f.pAddr), dirty)
	if err != nil {
		tracing.AddTaskStep(id, m, "failed")

		remapErr := m.translator.Map(pid, va, f.pAddr, p.writable)
		if remapErr == nil && dirty {
			m.translator.SetDirty(pid, va, true)
		}

		return errors.Join(err, remapErr)
	}

	p.frame = nil
	f.page = nil
	m.stats.evictions.Add(1)

	if parentTaskID != "" {
		tracing.AddTaskStep(parentTaskID, m, "evicted")
	}

	return nil
}

// EvictDetail is attached to eviction tasks.
type EvictDetail struct {
	PID   PID
	VAddr uint64
	PAddr uint64
}

// releaseFrameLocked takes f out of the frame table and returns its page to
// the physical pool.
func (m *Manager) releaseFrameLocked(f *Frame) {
	if f.page != nil || f.pins > 0 {
		panic(fmt.Sprintf("releasing %s while in use", f))
	}

	m.frames.remove(f)
	m.alloc.Free(f.pAddr)
}

// dropPageLocked destroys p and gives back its frame. p must already be out
// of its supplemental page table.
func (m *Manager) dropPageLocked(p *Page) error {
	err := m.destroy(p)

	p.removed = true

	f := p.frame
	if f == nil {
		return err
	}

	m.translator.Unmap(p.space.pid, p.vAddr)

	p.frame = nil
	f.page = nil
	m.releaseFrameLocked(f)

	return err
}
