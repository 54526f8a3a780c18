package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/vmcore/config"
)

var (
	configPath string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vmsim",
	Short: "vmsim runs processes on a simulated demand-paged memory manager.",
	Long: `vmsim runs scripted processes on a simulated machine. Every page ` +
		`fault the processes raise is served by the memory manager, which ` +
		`loads pages lazily, grows stacks and evicts pages to swap.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"TOML file describing the machine and the jobs")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"overrides the log level of the configuration")

	rootCmd.AddCommand(runCmd, listCmd)
}

// loadConfig reads the configuration and sets up the logger from it.
func loadConfig() (config.Config, *logrus.Logger, error) {
	c, err := config.Load(configPath)
	if err != nil {
		return c, nil, err
	}

	if logLevel != "" {
		c.LogLevel = logLevel
	}

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return c, nil, err
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	return c, logger, nil
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
