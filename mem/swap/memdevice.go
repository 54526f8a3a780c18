package swap

import (
	"fmt"
	"sync"

	"github.com/sarchlab/vmcore/mem/vm"
)

// A MemDevice keeps swapped pages in memory.
type MemDevice struct {
	mu    sync.Mutex
	slots *slotSet
	data  map[vm.SwapSlot][]byte
}

// NewMemDevice creates a device with room for capacity pages.
func NewMemDevice(capacity int) *MemDevice {
	return &MemDevice{
		slots: newSlotSet(capacity),
		data:  make(map[vm.SwapSlot][]byte),
	}
}

// SwapOut copies content into the lowest free slot.
func (d *MemDevice) SwapOut(content []byte) (vm.SwapSlot, error) {
	mustBePageSized(content)

	d.mu.Lock()
	defer d.mu.Unlock()

	slot, err := d.slots.take()
	if err != nil {
		return 0, err
	}

	buf, ok := d.data[slot]
	if !ok {
		buf = make([]byte, vm.PageSize)
		d.data[slot] = buf
	}
	copy(buf, content)

	return slot, nil
}

// SwapIn copies the content of slot into content. The slot stays in use.
func (d *MemDevice) SwapIn(slot vm.SwapSlot, content []byte) error {
	mustBePageSized(content)

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.slots.inUse(slot) {
		return fmt.Errorf("%w: %d", vm.ErrBadSlot, slot)
	}

	copy(content, d.data[slot])

	return nil
}

// Free releases a slot.
func (d *MemDevice) Free(slot vm.SwapSlot) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.slots.release(slot)
}

// NumFree returns the number of free slots.
func (d *MemDevice) NumFree() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.slots.numFree()
}
