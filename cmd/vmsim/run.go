package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sarchlab/vmcore/config"
	"github.com/sarchlab/vmcore/datarecording"
	"github.com/sarchlab/vmcore/simulation"
	"github.com/sarchlab/vmcore/workload"
)

var openBrowser bool

var runCmd = &cobra.Command{
	Use:   "run [scenario...]",
	Short: "Run the configured jobs, or only the named scenarios.",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, logger, err := loadConfig()
		if err != nil {
			return err
		}

		jobs, err := selectJobs(c.Jobs, args)
		if err != nil {
			return err
		}

		s, err := buildSimulation(c, logger)
		if err != nil {
			return err
		}

		if openBrowser && s.MonitorURL() != "" {
			err = s.GetMonitor().OpenInBrowser(s.MonitorURL())
			if err != nil {
				logger.WithError(err).Warn("cannot open the monitor")
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		runErr := s.Run(ctx, jobs...)

		report(logger, s)

		return errors.Join(runErr, s.Terminate())
	},
}

func init() {
	runCmd.Flags().BoolVar(&openBrowser, "open", false,
		"open the monitor in a browser")
}

func selectJobs(configured []config.Job, names []string) ([]workload.Job, error) {
	scenarios := workload.Scenarios()
	wanted := make(map[string]bool, len(names))

	for _, name := range names {
		if _, ok := scenarios[name]; !ok {
			return nil, fmt.Errorf("unknown scenario %q", name)
		}

		wanted[name] = true
	}

	jobs := make([]workload.Job, 0, len(configured))
	for _, j := range configured {
		if len(wanted) > 0 && !wanted[j.Scenario] {
			continue
		}

		scenario, ok := scenarios[j.Scenario]
		if !ok {
			return nil, fmt.Errorf("unknown scenario %q", j.Scenario)
		}

		jobs = append(jobs, workload.Job{
			Scenario:  scenario,
			Processes: j.Processes,
			Pages:     j.Pages,
		})
	}

	if len(jobs) == 0 {
		return nil, errors.New("no job to run")
	}

	return jobs, nil
}

func buildSimulation(
	c config.Config,
	logger *logrus.Logger,
) (*simulation.Simulation, error) {
	b := simulation.MakeBuilder().
		WithNumFrames(c.Machine.Frames).
		WithSwapSlots(c.Machine.SwapSlots).
		WithLogger(logger)

	if c.Machine.SwapKind == config.SwapSQLite {
		b = b.WithSQLiteSwap(c.Machine.SwapPath)
	}

	switch {
	case c.ClickHouse.Addr != "":
		b = b.WithClickHouse(datarecording.ClickHouseOptions{
			Addr:     c.ClickHouse.Addr,
			Database: c.ClickHouse.Database,
			Username: c.ClickHouse.Username,
			Password: c.ClickHouse.Password,
		})
	case c.TraceDB != "":
		b = b.WithOutputFileName(c.TraceDB)
	default:
		b = b.WithoutRecording()
	}

	if !c.Monitor {
		b = b.WithoutMonitoring()
	} else if c.Port > 0 {
		b = b.WithMonitorPort(c.Port)
	}

	return b.Build()
}

func report(logger *logrus.Logger, s *simulation.Simulation) {
	stats := s.Manager().Stats()

	logger.WithFields(logrus.Fields{
		"faults":        stats.Faults,
		"failed_faults": stats.FailedFaults,
		"lazy_loads":    stats.LazyLoads,
		"stack_growths": stats.StackGrowths,
		"cow_repairs":   stats.COWRepairs,
		"evictions":     stats.Evictions,
		"swap_ins":      stats.SwapIns,
		"swap_outs":     stats.SwapOuts,
		"write_backs":   stats.WriteBacks,
	}).Info("simulation finished")

	counter := s.GetStepCounter()
	for _, step := range counter.GetStepNames() {
		logger.WithFields(logrus.Fields{
			"step":  step,
			"count": counter.GetStepCount(step),
			"tasks": counter.GetTaskCount(step),
		}).Debug("task steps")
	}

	if path := s.OutputPath(); path != "" {
		logger.Infof("traces recorded in %s.sqlite3", path)
	}
}
