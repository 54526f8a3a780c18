// Package swap provides devices that hold the content of evicted anonymous
// pages.
package swap

import (
	"fmt"

	"github.com/google/btree"

	"github.com/sarchlab/vmcore/mem/vm"
)

// slotSet hands out the lowest free slot of a device.
type slotSet struct {
	capacity int
	free     *btree.BTreeG[vm.SwapSlot]
}

func newSlotSet(capacity int) *slotSet {
	s := &slotSet{
		capacity: capacity,
		free:     btree.NewOrderedG[vm.SwapSlot](32),
	}

	for i := 0; i < capacity; i++ {
		s.free.ReplaceOrInsert(vm.SwapSlot(i))
	}

	return s
}

func (s *slotSet) take() (vm.SwapSlot, error) {
	slot, ok := s.free.DeleteMin()
	if !ok {
		return 0, vm.ErrSwapFull
	}

	return slot, nil
}

func (s *slotSet) inUse(slot vm.SwapSlot) bool {
	return int(slot) < s.capacity && !s.free.Has(slot)
}

func (s *slotSet) release(slot vm.SwapSlot) {
	if !s.inUse(slot) {
		panic(fmt.Sprintf("swap slot %d is not in use", slot))
	}

	s.free.ReplaceOrInsert(slot)
}

func (s *slotSet) numFree() int {
	return s.free.Len()
}

func mustBePageSized(content []byte) {
	if uint64(len(content)) != vm.PageSize {
		panic(fmt.Sprintf("swap content must be one page, got %d bytes",
			len(content)))
	}
}
