package workload

import (
	"errors"
	"fmt"

	"github.com/sarchlab/vmcore/mem/vm"
)

// maxFaultsPerAccess bounds how often one access may fault. An access can
// fault more than once when another process steals the frame between the
// fault being resolved and the access being retried.
const maxFaultsPerAccess = 8

// ErrKilled is returned when the memory manager refuses to serve a fault.
// The process cannot continue.
var ErrKilled = errors.New("process killed")

// A Process is a running user program.
type Process struct {
	machine      *Machine
	as           *vm.AddressSpace
	stackPointer uint64
	exited       bool
}

// PID returns the ID of the process.
func (p *Process) PID() vm.PID {
	return p.as.PID()
}

// AddressSpace returns the address space of the process.
func (p *Process) AddressSpace() *vm.AddressSpace {
	return p.as
}

// StackPointer returns the current stack pointer.
func (p *Process) StackPointer() uint64 {
	return p.stackPointer
}

// Load reads len(buf) bytes at va in user mode.
func (p *Process) Load(va uint64, buf []byte) error {
	return p.forEachPage(va, len(buf), false, true,
		func(pa uint64, from, to int) {
			p.machine.Pool.Read(pa, buf[from:to])
		})
}

// Store writes data at va in user mode.
func (p *Process) Store(va uint64, data []byte) error {
	return p.forEachPage(va, len(data), true, true,
		func(pa uint64, from, to int) {
			p.machine.Pool.Write(pa, data[from:to])
		})
}

// Push moves the stack pointer down by len(data) and stores data there.
func (p *Process) Push(data []byte) error {
	old := p.stackPointer
	p.stackPointer -= uint64(len(data))

	err := p.Store(p.stackPointer, data)
	if err != nil {
		p.stackPointer = old
		return err
	}

	return nil
}

// Pop reads n bytes from the top of the stack and moves the stack pointer up.
func (p *Process) Pop(n int) ([]byte, error) {
	buf := make([]byte, n)

	err := p.Load(p.stackPointer, buf)
	if err != nil {
		return nil, err
	}

	p.stackPointer += uint64(n)

	return buf, nil
}

// SyscallRead copies a system call argument, such as a path, out of user
// memory. Every page of the argument must already be mapped.
func (p *Process) SyscallRead(va uint64, buf []byte) error {
	p.as.SaveStackPointer(p.stackPointer)

	err := p.validateRange(va, len(buf), p.as.ValidateUserAddr)
	if err != nil {
		return err
	}

	return p.forEachPage(va, len(buf), false, false,
		func(pa uint64, from, to int) {
			p.machine.Pool.Read(pa, buf[from:to])
		})
}

// SyscallWrite fills a user buffer on behalf of a system call. The buffer
// may not be mapped yet. Faults are raised in kernel mode, so stack growth
// is decided with the stack pointer saved on kernel entry.
func (p *Process) SyscallWrite(va uint64, data []byte) error {
	p.as.SaveStackPointer(p.stackPointer)

	err := p.validateRange(va, len(data), p.checkUserAddr)
	if err != nil {
		return err
	}

	return p.forEachPage(va, len(data), true, false,
		func(pa uint64, from, to int) {
			p.machine.Pool.Write(pa, data[from:to])
		})
}

func (p *Process) checkUserAddr(addr uint64) error {
	if addr == 0 || p.machine.Manager.Layout().IsKernelAddr(addr) {
		return fmt.Errorf("%w: 0x%x", vm.ErrInvalidAccess, addr)
	}

	return nil
}

func (p *Process) validateRange(
	va uint64,
	n int,
	check func(addr uint64) error,
) error {
	if n == 0 {
		return nil
	}

	for page := vm.PageRoundDown(va); page < va+uint64(n); page += vm.PageSize {
		addr := max(page, va)

		err := check(addr)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrKilled, err)
		}
	}

	return nil
}

// Fork creates a child process with a copy of the address space.
func (p *Process) Fork(childPID vm.PID) (*Process, error) {
	m := p.machine

	m.remap.Lock()
	defer m.remap.Unlock()

	child := m.Manager.NewAddressSpace(childPID)

	err := m.Manager.Duplicate(child, p.as)
	if err != nil {
		return nil, errors.Join(err, m.release(child))
	}

	return &Process{
		machine:      m,
		as:           child,
		stackPointer: p.stackPointer,
	}, nil
}

// Mmap maps length bytes of file at addr.
func (p *Process) Mmap(
	addr, length uint64,
	writable bool,
	file vm.File,
	offset int64,
) (uint64, error) {
	p.machine.remap.Lock()
	defer p.machine.remap.Unlock()

	return p.as.Mmap(addr, length, writable, file, offset)
}

// Munmap removes the mapping at addr.
func (p *Process) Munmap(addr uint64) error {
	p.machine.remap.Lock()
	defer p.machine.remap.Unlock()

	return p.as.Munmap(addr)
}

// Exit releases everything the process holds.
func (p *Process) Exit() error {
	if p.exited {
		return nil
	}

	p.exited = true

	m := p.machine

	m.remap.Lock()
	defer m.remap.Unlock()

	return m.release(p.as)
}

func (p *Process) forEachPage(
	va uint64,
	n int,
	write bool,
	user bool,
	f func(pa uint64, from, to int),
) error {
	done := 0
	for done < n {
		addr := va + uint64(done)
		chunk := min(n-done, int(vm.PageSize-vm.PageOffset(addr)))

		err := p.accessPage(addr, write, user, func(pa uint64) {
			f(pa, done, done+chunk)
		})
		if err != nil {
			return err
		}

		done += chunk
	}

	return nil
}

// accessPage translates va and runs use on the physical address while the
// translation is guaranteed to hold.
func (p *Process) accessPage(
	va uint64,
	write, user bool,
	use func(pa uint64),
) error {
	m := p.machine

	for i := 0; i < maxFaultsPerAccess; i++ {
		m.remap.RLock()
		pa, fault := m.PageTable.Access(p.PID(), va, write, user, p.stackPointer)
		if fault == nil {
			use(pa)
			m.remap.RUnlock()

			return nil
		}
		m.remap.RUnlock()

		m.remap.Lock()
		err := m.Manager.ResolveFault(p.as, *fault)
		m.remap.Unlock()

		if err != nil {
			return fmt.Errorf("%w: %w", ErrKilled, err)
		}
	}

	return fmt.Errorf("%w: access at 0x%x keeps faulting", ErrKilled, va)
}
