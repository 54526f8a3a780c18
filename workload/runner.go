package workload

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/vmcore/mem/vm"
)

// Progress is told how many processes are running and how many have
// finished.
type Progress interface {
	IncrementInProgress(amount uint64)
	MoveInProgressToFinished(amount uint64)
}

// A Job asks the runner to start Processes processes that each run Scenario
// on Pages pages.
type Job struct {
	Scenario  Scenario
	Processes int
	Pages     int
}

// Runner runs jobs on a machine, one goroutine per process.
type Runner struct {
	machine  *Machine
	progress Progress
	nextPID  vm.PID
}

// NewRunner creates a runner on the given machine.
func NewRunner(m *Machine) *Runner {
	return &Runner{
		machine: m,
		nextPID: 1,
	}
}

// WithProgress reports process completion to p.
func (r *Runner) WithProgress(p Progress) *Runner {
	r.progress = p
	return r
}

// Run starts every process of every job and waits for all of them. The
// first failure cancels the processes that are still running.
func (r *Runner) Run(ctx context.Context, jobs ...Job) error {
	for _, job := range jobs {
		if job.Pages < 1 {
			return fmt.Errorf("scenario %s needs at least one page",
				job.Scenario.Name())
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	for _, job := range jobs {
		for i := 0; i < job.Processes; i++ {
			pid := r.nextPID
			r.nextPID++

			if r.progress != nil {
				r.progress.IncrementInProgress(1)
			}

			g.Go(func() error {
				return r.runProcess(ctx, pid, job)
			})
		}
	}

	return g.Wait()
}

func (r *Runner) runProcess(ctx context.Context, pid vm.PID, job Job) error {
	if r.progress != nil {
		defer r.progress.MoveInProgressToFinished(1)
	}

	p, err := r.machine.Spawn(pid)
	if err != nil {
		return fmt.Errorf("spawning %d: %w", pid, err)
	}

	err = job.Scenario.Run(ctx, p, job.Pages)
	exitErr := p.Exit()

	if err != nil {
		return fmt.Errorf("process %d running %s: %w",
			pid, job.Scenario.Name(), err)
	}

	return exitErr
}
