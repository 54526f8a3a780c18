package vm

import (
	"github.com/sarchlab/vmcore/instrumentation/hooking"
	"github.com/sarchlab/vmcore/instrumentation/idgen"
)

// A Builder can build a Manager.
type Builder struct {
	layout     Layout
	alloc      PhysicalAllocator
	translator Translator
	swap       SwapDevice
	idGen      idgen.Generator
}

// MakeBuilder creates a new builder with the default layout.
func MakeBuilder() Builder {
	return Builder{
		layout: DefaultLayout(),
	}
}

// WithLayout sets the virtual address layout.
func (b Builder) WithLayout(layout Layout) Builder {
	b.layout = layout
	return b
}

// WithPhysicalAllocator sets the pool that frames are taken from.
func (b Builder) WithPhysicalAllocator(alloc PhysicalAllocator) Builder {
	b.alloc = alloc
	return b
}

// WithTranslator sets the hardware page tables that the manager maintains.
func (b Builder) WithTranslator(translator Translator) Builder {
	b.translator = translator
	return b
}

// WithSwapDevice sets where evicted anonymous pages go.
func (b Builder) WithSwapDevice(swap SwapDevice) Builder {
	b.swap = swap
	return b
}

// WithIDGenerator sets the generator of trace task IDs. The default
// generator is sequential.
func (b Builder) WithIDGenerator(gen idgen.Generator) Builder {
	b.idGen = gen
	return b
}

// Build creates a new Manager.
func (b Builder) Build(name string) *Manager {
	b.mustBeValid()

	m := &Manager{
		HookableBase: hooking.NewHookableBase(),
		name:         name,
		layout:       b.layout,
		alloc:        b.alloc,
		translator:   b.translator,
		swap:         b.swap,
		idGen:        b.idGen,
		frames:       newFrameTable(),
		spaces:       make(map[PID]*AddressSpace),
	}

	if m.idGen == nil {
		m.idGen = idgen.New()
	}

	return m
}

func (b Builder) mustBeValid() {
	if b.alloc == nil {
		panic("physical allocator is not set")
	}

	if b.translator == nil {
		panic("translator is not set")
	}

	if b.swap == nil {
		panic("swap device is not set")
	}

	b.layout.mustBeValid()
}
