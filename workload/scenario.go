package workload

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/sarchlab/vmcore/mem/backing"
	"github.com/sarchlab/vmcore/mem/vm"
)

// ErrCorrupted is returned when a process reads back something other than
// what it wrote.
var ErrCorrupted = errors.New("memory content corrupted")

// A Scenario is a program that a process runs. pages tells how many pages
// the program should touch.
type Scenario interface {
	Name() string
	Run(ctx context.Context, p *Process, pages int) error
}

// The base address of the heap that the scenarios use.
const heapBase = 0x10000000

// Scenarios returns every scenario, keyed by name.
func Scenarios() map[string]Scenario {
	all := []Scenario{
		lazyScenario{},
		pressureScenario{},
		forkScenario{},
		stackScenario{},
		mmapScenario{},
	}

	byName := make(map[string]Scenario, len(all))
	for _, s := range all {
		byName[s.Name()] = s
	}

	return byName
}

// pattern is the content a scenario writes to page i of process pid.
func pattern(pid vm.PID, i int) []byte {
	return []byte(fmt.Sprintf("pid %d page %d", pid, i))
}

func heapPage(i int) uint64 {
	return heapBase + uint64(i)*vm.PageSize
}

func expectContent(p *Process, va uint64, want []byte) error {
	got := make([]byte, len(want))

	err := p.Load(va, got)
	if err != nil {
		return err
	}

	if !bytes.Equal(got, want) {
		return fmt.Errorf("%w: 0x%x of %d holds %q, want %q",
			ErrCorrupted, va, p.PID(), got, want)
	}

	return nil
}

// lazyScenario registers lazy pages and checks that they read as zero.
type lazyScenario struct{}

func (lazyScenario) Name() string { return "lazy" }

func (lazyScenario) Run(ctx context.Context, p *Process, pages int) error {
	for i := 0; i < pages; i++ {
		err := p.as.AllocatePage(vm.KindAnon, heapPage(i), true)
		if err != nil {
			return err
		}
	}

	zero := make([]byte, 64)
	for i := 0; i < pages; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := expectContent(p, heapPage(i)+vm.PageSize-64, zero)
		if err != nil {
			return err
		}
	}

	return nil
}

// pressureScenario writes every page and reads them all back, which forces
// evictions once the process holds more pages than the pool has frames.
type pressureScenario struct{}

func (pressureScenario) Name() string { return "pressure" }

func (pressureScenario) Run(ctx context.Context, p *Process, pages int) error {
	for i := 0; i < pages; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := p.as.AllocatePage(vm.KindAnon, heapPage(i), true)
		if err != nil {
			return err
		}

		err = p.Store(heapPage(i), pattern(p.PID(), i))
		if err != nil {
			return err
		}
	}

	for i := 0; i < pages; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := expectContent(p, heapPage(i), pattern(p.PID(), i))
		if err != nil {
			return err
		}
	}

	return nil
}

// forkScenario checks that a child keeps its own copy after the parent
// changes its memory.
type forkScenario struct{}

func (forkScenario) Name() string { return "fork" }

func (forkScenario) Run(ctx context.Context, p *Process, pages int) error {
	err := pressureScenario{}.Run(ctx, p, pages)
	if err != nil {
		return err
	}

	child, err := p.Fork(p.PID() + childPIDOffset)
	if err != nil {
		return err
	}

	for i := 0; i < pages; i++ {
		err = p.Store(heapPage(i), []byte("parent wrote here"))
		if err != nil {
			return errors.Join(err, child.Exit())
		}
	}

	for i := 0; i < pages; i++ {
		err = expectContent(child, heapPage(i), pattern(p.PID(), i))
		if err != nil {
			return errors.Join(err, child.Exit())
		}
	}

	return child.Exit()
}

// childPIDOffset separates the PIDs of forked children from the PIDs the
// runner hands out.
const childPIDOffset = 1 << 16

// stackScenario pushes frames until the stack spans the requested number
// of pages, then pops them back.
type stackScenario struct{}

func (stackScenario) Name() string { return "stack" }

func (stackScenario) Run(ctx context.Context, p *Process, pages int) error {
	const frameSize = 256

	layout := p.machine.Manager.Layout()
	frames := min(pages*int(vm.PageSize)/frameSize,
		int(layout.UserStackTop-layout.StackLimit)/frameSize-1)

	for i := 0; i < frames; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame := bytes.Repeat([]byte{byte(i)}, frameSize)
		if err := p.Push(frame); err != nil {
			return err
		}
	}

	if p.as.StackBottom() > vm.PageRoundDown(p.stackPointer) {
		return fmt.Errorf("stack of %d ends at 0x%x above sp 0x%x",
			p.PID(), p.as.StackBottom(), p.stackPointer)
	}

	for i := frames - 1; i >= 0; i-- {
		frame, err := p.Pop(frameSize)
		if err != nil {
			return err
		}

		if frame[0] != byte(i) || frame[frameSize-1] != byte(i) {
			return fmt.Errorf("%w: stack frame %d of %d", ErrCorrupted, i, p.PID())
		}
	}

	return nil
}

// mmapScenario maps a file, changes it through memory and checks that the
// change reached the file after munmap.
type mmapScenario struct{}

func (mmapScenario) Name() string { return "mmap" }

func (mmapScenario) Run(ctx context.Context, p *Process, pages int) error {
	size := pages*int(vm.PageSize) - int(vm.PageSize)/2
	content := bytes.Repeat([]byte("mapped file "), size/12+1)[:size]
	file := backing.NewMemFile(content)

	addr, err := p.Mmap(heapBase, uint64(size), true, file, 0)
	if err != nil {
		return err
	}

	for i := 0; i < pages; i++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(err, p.Munmap(addr))
		}

		va := addr + uint64(i)*vm.PageSize
		if err := expectContent(p, va, content[i*int(vm.PageSize):][:12]); err != nil {
			return errors.Join(err, p.Munmap(addr))
		}

		if err := p.Store(va, pattern(p.PID(), i)); err != nil {
			return errors.Join(err, p.Munmap(addr))
		}
	}

	err = p.Munmap(addr)
	if err != nil {
		return err
	}

	data := file.Bytes()
	if len(data) != size {
		return fmt.Errorf("%w: file of %d resized to %d", ErrCorrupted, p.PID(), len(data))
	}

	for i := 0; i < pages; i++ {
		want := pattern(p.PID(), i)
		if !bytes.Equal(data[i*int(vm.PageSize):][:len(want)], want) {
			return fmt.Errorf("%w: page %d of the file of %d was not written back",
				ErrCorrupted, i, p.PID())
		}
	}

	return nil
}
