package vm

import (
	"fmt"
	"sync"
)

// A Frame is a physical page of the user pool that the manager has handed
// to a page at least once. Eviction reassigns a Frame instead of freeing it.
type Frame struct {
	pAddr uint64

	// page and pins are guarded by the frame table lock.
	page *Page
	pins int
}

// PAddr returns the physical address of the frame.
func (f *Frame) PAddr() uint64 {
	return f.pAddr
}

func (f *Frame) String() string {
	return fmt.Sprintf("frame 0x%x", f.pAddr)
}

// evictable tells if the clock may pick f. The frame table lock must be held.
func (f *Frame) evictable() bool {
	if f.page == nil || f.pins > 0 {
		return false
	}

	return f.page.space.live
}

// FrameInfo is a snapshot of a frame table entry.
type FrameInfo struct {
	PAddr  uint64 `json:"paddr"`
	PID    PID    `json:"pid"`
	VAddr  uint64 `json:"vaddr"`
	Kind   string `json:"kind"`
	Used   bool   `json:"used"`
	Pinned bool   `json:"pinned"`
}

// A FrameTable lists every frame the manager holds, in acquisition order. It
// is the domain of the clock scan.
type FrameTable struct {
	sync.Mutex
	frames []*Frame
	hand   int
}

func newFrameTable() *FrameTable {
	return &FrameTable{}
}

// Len returns the number of frames in the table.
func (ft *FrameTable) Len() int {
	ft.Lock()
	defer ft.Unlock()

	return len(ft.frames)
}

// Snapshot describes every frame, starting from the one the clock hand
// points to.
func (ft *FrameTable) Snapshot() []FrameInfo {
	ft.Lock()
	defer ft.Unlock()

	infos := make([]FrameInfo, 0, len(ft.frames))
	for i := range ft.frames {
		f := ft.frames[(ft.hand+i)%len(ft.frames)]

		info := FrameInfo{
			PAddr:  f.pAddr,
			Pinned: f.pins > 0,
		}

		if f.page != nil {
			info.Used = true
			info.PID = f.page.space.pid
			info.VAddr = f.page.vAddr
			info.Kind = f.page.Kind().String()
		}

		infos = append(infos, info)
	}

	return infos
}

func (ft *FrameTable) add(f *Frame) {
	ft.frames = append(ft.frames, f)
}

func (ft *FrameTable) remove(f *Frame) {
	for i, frame := range ft.frames {
		if frame != f {
			continue
		}

		ft.frames = append(ft.frames[:i], ft.frames[i+1:]...)
		if i < ft.hand {
			ft.hand--
		}

		if ft.hand >= len(ft.frames) {
			ft.hand = 0
		}

		return
	}

	panic(fmt.Sprintf("%s is not in the frame table", f))
}

// selectVictim runs the clock. A frame whose page was accessed since the
// last pass loses its accessed bit and survives; the first frame found
// without the bit is the victim. The scan gives up after two sweeps.
func (ft *FrameTable) selectVictim(translator Translator) (*Frame, bool) {
	n := len(ft.frames)

	for i := 0; i < 2*n; i++ {
		if ft.hand >= n {
			ft.hand = 0
		}

		f := ft.frames[ft.hand]
		ft.hand++

		if !f.evictable() {
			continue
		}

		pid, va := f.page.space.pid, f.page.vAddr
		if translator.IsAccessed(pid, va) {
			translator.SetAccessed(pid, va, false)
			continue
		}

		return f, true
	}

	return nil, false
}

func (ft *FrameTable) pin(f *Frame) {
	f.pins++
}

func (ft *FrameTable) unpin(f *Frame) {
	if f.pins == 0 {
		panic(fmt.Sprintf("%s is not pinned", f))
	}

	f.pins--
}
