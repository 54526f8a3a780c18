package simulation

import (
	"strconv"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/vmcore/datarecording"
	"github.com/sarchlab/vmcore/mem/phys"
	"github.com/sarchlab/vmcore/mem/swap"
	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/mmu"
	"github.com/sarchlab/vmcore/monitoring"
	"github.com/sarchlab/vmcore/tracing"
	"github.com/sarchlab/vmcore/workload"
)

// The physical address where the user pool starts.
const poolBase = 0x100000

// Builder can be used to build a simulation.
type Builder struct {
	numFrames      int
	swapSlots      int
	swapPath       string
	recordingOn    bool
	monitorOn      bool
	monitorPort    int
	outputFileName string
	clickHouse     *datarecording.ClickHouseOptions
	logger         logrus.FieldLogger
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{
		numFrames:   16,
		swapSlots:   1024,
		recordingOn: true,
		monitorOn:   true,
	}
}

// WithNumFrames sets the number of physical frames user pages can use.
func (b Builder) WithNumFrames(n int) Builder {
	b.numFrames = n
	return b
}

// WithSwapSlots sets the capacity of the swap device, in pages.
func (b Builder) WithSwapSlots(n int) Builder {
	b.swapSlots = n
	return b
}

// WithSQLiteSwap keeps swapped-out pages in a SQLite database at path
// instead of in memory.
func (b Builder) WithSQLiteSwap(path string) Builder {
	b.swapPath = path
	return b
}

// WithoutRecording sets the simulation to not record traced tasks.
func (b Builder) WithoutRecording() Builder {
	b.recordingOn = false
	return b
}

// WithoutMonitoring sets the simulation to not use monitoring.
func (b Builder) WithoutMonitoring() Builder {
	b.monitorOn = false
	return b
}

// WithOutputFileName sets the custom output file name for the data recorder.
func (b Builder) WithOutputFileName(filename string) Builder {
	b.outputFileName = filename
	return b
}

// WithClickHouse records traced tasks into a ClickHouse server instead of
// a SQLite file.
func (b Builder) WithClickHouse(opts datarecording.ClickHouseOptions) Builder {
	b.clickHouse = &opts
	return b
}

// WithMonitorPort sets the port number for the monitoring server.
func (b Builder) WithMonitorPort(port int) Builder {
	b.monitorPort = port
	return b
}

// WithLogger logs every traced task to logger.
func (b Builder) WithLogger(logger logrus.FieldLogger) Builder {
	b.logger = logger
	return b
}

func (b Builder) parametersMustBeValid() {
	if !b.monitorOn && b.monitorPort != 0 {
		panic("monitor port cannot be set when monitoring is disabled")
	}

	if !b.recordingOn && b.outputFileName != "" {
		panic("output file cannot be set when recording is disabled")
	}

	if b.clickHouse != nil && b.outputFileName != "" {
		panic("output file cannot be set when recording to ClickHouse")
	}

	if b.numFrames < 1 {
		panic("a simulation needs at least one frame")
	}
}

// Build builds the simulation. It fails when the swap database cannot be
// opened or the ClickHouse server cannot be reached.
func (b Builder) Build() (*Simulation, error) {
	b.parametersMustBeValid()

	s := &Simulation{
		id: xid.New().String(),
	}

	swapDevice, err := b.buildSwap(s)
	if err != nil {
		return nil, err
	}

	pool := phys.NewPool(poolBase, b.numFrames)
	pt := mmu.MakeBuilder().Build()
	mgr := vm.MakeBuilder().
		WithPhysicalAllocator(pool).
		WithTranslator(pt).
		WithSwapDevice(swapDevice).
		Build("VM")
	s.machine = workload.NewMachine(mgr, pt, pool)

	s.stepCounter = tracing.NewStepCountTracer(tracing.AcceptAll)
	tracing.CollectTrace(mgr, s.stepCounter)

	if b.logger != nil {
		tracing.CollectTrace(mgr,
			tracing.NewLogTracer(b.logger, tracing.WallClock{}))
	}

	if b.recordingOn {
		err = b.buildRecorder(s)
		if err != nil {
			if s.swapCloser != nil {
				_ = s.swapCloser.Close()
			}

			return nil, err
		}

		s.execRecorder = datarecording.NewExecRecorder(s.dataRecorder)
		s.execRecorder.Start(
			datarecording.ExecInfo{
				Property: "Frames", Value: strconv.Itoa(b.numFrames)},
			datarecording.ExecInfo{
				Property: "Swap Slots", Value: strconv.Itoa(b.swapSlots)},
		)
		s.dbTracer = tracing.NewDBTracer(s.dataRecorder, tracing.WallClock{})
		tracing.CollectTrace(mgr, s.dbTracer)
	}

	if b.monitorOn {
		s.monitor = monitoring.NewMonitor()
		if b.monitorPort > 0 {
			s.monitor.WithPortNumber(b.monitorPort)
		}
		s.monitor.RegisterManager(mgr)
		s.monitor.RegisterPool(pool)
		s.monitorURL = s.monitor.StartServer()
	}

	return s, nil
}

func (b Builder) buildRecorder(s *Simulation) error {
	if b.clickHouse != nil {
		r, err := datarecording.NewClickHouse(*b.clickHouse)
		if err != nil {
			return err
		}

		s.dataRecorder = r

		return nil
	}

	s.outputPath = b.outputFileName
	if s.outputPath == "" {
		s.outputPath = "vmsim_" + s.id
	}

	s.dataRecorder = datarecording.New(s.outputPath)

	return nil
}

func (b Builder) buildSwap(s *Simulation) (vm.SwapDevice, error) {
	if b.swapPath == "" {
		return swap.NewMemDevice(b.swapSlots), nil
	}

	d, err := swap.NewSQLiteDevice(b.swapPath, b.swapSlots)
	if err != nil {
		return nil, err
	}

	s.swapCloser = d

	return d, nil
}
