package workload

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/vmcore/mem/backing"
	"github.com/sarchlab/vmcore/mem/phys"
	"github.com/sarchlab/vmcore/mem/swap"
	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/mmu"
)

func newMachine(numFrames, swapSlots int) *Machine {
	pool := phys.NewPool(0x100000, numFrames)
	pt := mmu.MakeBuilder().Build()
	mgr := vm.MakeBuilder().
		WithPhysicalAllocator(pool).
		WithTranslator(pt).
		WithSwapDevice(swap.NewMemDevice(swapSlots)).
		Build("VM")

	return NewMachine(mgr, pt, pool)
}

var _ = Describe("Process", func() {
	var (
		m *Machine
		p *Process
	)

	BeforeEach(func() {
		m = newMachine(4, 64)

		var err error
		p, err = m.Spawn(1)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should start with the stack pointer at the top of the stack", func() {
		Expect(p.StackPointer()).To(Equal(vm.DefaultLayout().UserStackTop))
		Expect(p.AddressSpace().SPT().Len()).To(Equal(1))
	})

	It("should be killed when touching an unmapped address", func() {
		err := p.Store(0x20000000, []byte{1})

		Expect(err).To(MatchError(ErrKilled))
		Expect(err).To(MatchError(vm.ErrInvalidAccess))
	})

	It("should store and load across a page boundary", func() {
		Expect(p.AddressSpace().AllocatePage(vm.KindAnon, heapPage(0), true)).
			To(Succeed())
		Expect(p.AddressSpace().AllocatePage(vm.KindAnon, heapPage(1), true)).
			To(Succeed())

		data := []byte("spans two pages")
		va := heapPage(1) - 4
		Expect(p.Store(va, data)).To(Succeed())

		buf := make([]byte, len(data))
		Expect(p.Load(va, buf)).To(Succeed())
		Expect(buf).To(Equal(data))
	})

	It("should not write to a read-only page", func() {
		Expect(p.AddressSpace().AllocatePage(vm.KindAnon, heapPage(0), false)).
			To(Succeed())

		Expect(p.Load(heapPage(0), make([]byte, 8))).To(Succeed())
		Expect(p.Store(heapPage(0), []byte{1})).
			To(MatchError(vm.ErrNotWritable))
	})

	It("should grow the stack on push", func() {
		top := vm.DefaultLayout().UserStackTop

		Expect(p.Push(make([]byte, 3*vm.PageSize))).To(Succeed())

		Expect(p.StackPointer()).To(Equal(top - 3*vm.PageSize))
		Expect(p.AddressSpace().StackBottom()).To(Equal(top - 3*vm.PageSize))
		Expect(m.Manager.Stats().StackGrowths).To(Equal(uint64(2)))
	})

	It("should restore the stack pointer when a push fails", func() {
		top := p.StackPointer()
		huge := make([]byte, 2<<20)

		Expect(p.Push(huge)).To(MatchError(ErrKilled))
		Expect(p.StackPointer()).To(Equal(top))
	})

	It("should grow the stack from a system call near the saved sp", func() {
		top := vm.DefaultLayout().UserStackTop

		Expect(p.Push(make([]byte, vm.PageSize))).To(Succeed())
		Expect(p.AddressSpace().StackBottom()).To(Equal(top - vm.PageSize))

		buf := []byte("from the kernel")
		target := p.StackPointer() - 8
		Expect(p.SyscallWrite(target, buf)).To(Succeed())

		Expect(p.AddressSpace().SavedStackPointer()).To(Equal(p.StackPointer()))
		Expect(p.AddressSpace().StackBottom()).To(Equal(top - 2*vm.PageSize))

		got := make([]byte, len(buf))
		Expect(p.SyscallRead(target, got)).To(Succeed())
		Expect(got).To(Equal(buf))
	})

	It("should refuse system call arguments that are not mapped", func() {
		Expect(p.SyscallRead(heapPage(0), make([]byte, 4))).
			To(MatchError(vm.ErrInvalidAccess))
		Expect(p.SyscallWrite(vm.DefaultLayout().KernelBase, []byte{1})).
			To(MatchError(ErrKilled))
		Expect(p.SyscallWrite(heapPage(0), []byte{1})).
			To(MatchError(vm.ErrInvalidAccess))
	})

	It("should release its frames on exit", func() {
		Expect(p.Exit()).To(Succeed())
		Expect(p.Exit()).To(Succeed())

		Expect(m.Pool.NumFree()).To(Equal(4))
		_, found := m.Manager.Space(1)
		Expect(found).To(BeFalse())
	})

	It("should report write-back failures on exit", func() {
		file := readOnlyFile{backing.NewMemFile(make([]byte, vm.PageSize))}
		addr, err := p.Mmap(heapBase, vm.PageSize, true, file, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Store(addr, []byte("changed"))).To(Succeed())

		Expect(p.Exit()).To(MatchError(errReadOnlyFile))

		Expect(m.Pool.NumFree()).To(Equal(4))
		_, found := m.Manager.Space(1)
		Expect(found).To(BeFalse())
	})
})

var errReadOnlyFile = errors.New("read-only file")

type readOnlyFile struct {
	*backing.MemFile
}

func (readOnlyFile) WriteAt([]byte, int64) (int, error) {
	return 0, errReadOnlyFile
}

var _ = Describe("Scenarios", func() {
	var m *Machine

	BeforeEach(func() {
		m = newMachine(4, 64)
	})

	run := func(name string, pages int) {
		p, err := m.Spawn(1)
		Expect(err).NotTo(HaveOccurred())

		Expect(Scenarios()[name].Run(context.Background(), p, pages)).
			To(Succeed())
		Expect(p.Exit()).To(Succeed())
		Expect(m.Pool.NumFree()).To(Equal(4))
	}

	It("should list every scenario", func() {
		Expect(Scenarios()).To(HaveLen(5))
		Expect(Scenarios()).To(HaveKey("pressure"))
	})

	It("should read zeros from lazy pages", func() {
		run("lazy", 6)

		Expect(m.Manager.Stats().LazyLoads).To(BeNumerically(">=", 6))
	})

	It("should survive memory pressure", func() {
		run("pressure", 8)

		stats := m.Manager.Stats()
		Expect(stats.Evictions).To(BeNumerically(">", 0))
		Expect(stats.SwapIns).To(BeNumerically(">", 0))
	})

	It("should keep a forked child independent", func() {
		run("fork", 2)
	})

	It("should grow and shrink the stack", func() {
		run("stack", 3)
	})

	It("should write a mapped file back", func() {
		run("mmap", 6)

		Expect(m.Manager.Stats().WriteBacks).To(BeNumerically(">=", 6))
	})
})

var _ = Describe("Runner", func() {
	var (
		mockCtrl *gomock.Controller
		progress *MockProgress
		m        *Machine
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		progress = NewMockProgress(mockCtrl)
		m = newMachine(8, 256)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should run processes concurrently", func() {
		progress.EXPECT().IncrementInProgress(uint64(1)).Times(6)
		progress.EXPECT().MoveInProgressToFinished(uint64(1)).Times(6)

		r := NewRunner(m).WithProgress(progress)
		err := r.Run(context.Background(),
			Job{Scenario: Scenarios()["pressure"], Processes: 4, Pages: 6},
			Job{Scenario: Scenarios()["mmap"], Processes: 2, Pages: 3},
		)

		Expect(err).NotTo(HaveOccurred())
		Expect(m.Pool.NumFree()).To(Equal(8))
		Expect(m.Manager.AddressSpaces()).To(BeEmpty())
	})

	It("should reject a job without pages", func() {
		r := NewRunner(m)

		err := r.Run(context.Background(),
			Job{Scenario: Scenarios()["lazy"], Processes: 1})

		Expect(err).To(HaveOccurred())
	})

	It("should stop when the context is canceled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		r := NewRunner(m)
		err := r.Run(ctx,
			Job{Scenario: Scenarios()["pressure"], Processes: 2, Pages: 4})

		Expect(err).To(MatchError(context.Canceled))
		Expect(m.Manager.AddressSpaces()).To(BeEmpty())
	})
})
