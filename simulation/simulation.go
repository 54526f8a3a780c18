// Package simulation puts together a machine, its memory manager and the
// services that watch it: trace recording, logging and the monitor.
package simulation

import (
	"context"
	"errors"
	"io"

	"github.com/sarchlab/vmcore/datarecording"
	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/monitoring"
	"github.com/sarchlab/vmcore/tracing"
	"github.com/sarchlab/vmcore/workload"
)

// A Simulation owns a machine and everything attached to it.
type Simulation struct {
	id         string
	machine    *workload.Machine
	swapCloser io.Closer

	outputPath   string
	dataRecorder datarecording.DataRecorder
	execRecorder *datarecording.ExecRecorder
	dbTracer     *tracing.DBTracer
	stepCounter  *tracing.StepCountTracer

	monitor    *monitoring.Monitor
	monitorURL string
}

// ID returns the unique ID of the simulation.
func (s *Simulation) ID() string {
	return s.id
}

// Machine returns the simulated machine.
func (s *Simulation) Machine() *workload.Machine {
	return s.machine
}

// Manager returns the memory manager of the machine.
func (s *Simulation) Manager() *vm.Manager {
	return s.machine.Manager
}

// GetDataRecorder returns the data recorder used in the simulation. It is
// nil when recording is disabled.
func (s *Simulation) GetDataRecorder() datarecording.DataRecorder {
	return s.dataRecorder
}

// OutputPath returns the path of the trace database, without the
// ".sqlite3" suffix. It is empty unless tasks are recorded to SQLite.
func (s *Simulation) OutputPath() string {
	return s.outputPath
}

// GetStepCounter returns the tracer that counts faults and evictions.
func (s *Simulation) GetStepCounter() *tracing.StepCountTracer {
	return s.stepCounter
}

// GetMonitor returns the monitor used in the simulation, if any.
func (s *Simulation) GetMonitor() *monitoring.Monitor {
	return s.monitor
}

// MonitorURL returns where the monitor can be reached. It is empty when
// monitoring is disabled.
func (s *Simulation) MonitorURL() string {
	return s.monitorURL
}

// Run runs the jobs to completion on the machine.
func (s *Simulation) Run(ctx context.Context, jobs ...workload.Job) error {
	r := workload.NewRunner(s.machine)

	if s.monitor != nil {
		total := 0
		for _, j := range jobs {
			total += j.Processes
		}

		bar := s.monitor.CreateProgressBar("Processes", uint64(total))
		defer s.monitor.CompleteProgressBar(bar)

		r.WithProgress(bar)
	}

	return r.Run(ctx, jobs...)
}

// Terminate flushes the recorded traces and releases the resources of the
// simulation.
func (s *Simulation) Terminate() error {
	var errs []error

	if s.dataRecorder != nil {
		s.execRecorder.End()
		s.dbTracer.Flush()
		errs = append(errs, s.dataRecorder.Close())
	}

	if s.swapCloser != nil {
		errs = append(errs, s.swapCloser.Close())
	}

	if s.monitor != nil {
		errs = append(errs, s.monitor.StopServer())
	}

	return errors.Join(errs...)
}
