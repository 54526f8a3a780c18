// Package config holds the settings of a simulated machine and of the
// scenarios that run on it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// The swap device kinds.
const (
	SwapMemory = "mem"
	SwapSQLite = "sqlite"
)

// ErrInvalid is returned when a configuration does not describe a machine
// that can run.
var ErrInvalid = errors.New("invalid configuration")

// Machine describes the simulated hardware.
type Machine struct {
	Frames       int    `toml:"frames"`
	SwapSlots    int    `toml:"swap_slots"`
	SwapKind     string `toml:"swap_kind"`
	SwapPath     string `toml:"swap_path"`
	Log2PageSize uint64 `toml:"log2_page_size"`
}

// ClickHouse locates a ClickHouse server that receives traced tasks
// instead of a SQLite file.
type ClickHouse struct {
	Addr     string `toml:"addr"`
	Database string `toml:"database"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// Job asks for a number of processes that run the same scenario.
type Job struct {
	Scenario  string `toml:"scenario"`
	Processes int    `toml:"processes"`
	Pages     int    `toml:"pages"`
}

// Config is everything a run needs.
type Config struct {
	Machine    Machine    `toml:"machine"`
	LogLevel   string     `toml:"log_level"`
	TraceDB    string     `toml:"trace_db"`
	ClickHouse ClickHouse `toml:"clickhouse"`
	Monitor    bool       `toml:"monitor"`
	Port       int        `toml:"port"`
	Jobs       []Job      `toml:"jobs"`
}

// Default returns a small machine that runs every scenario once.
func Default() Config {
	return Config{
		Machine: Machine{
			Frames:       16,
			SwapSlots:    1024,
			SwapKind:     SwapMemory,
			Log2PageSize: 12,
		},
		LogLevel: "info",
		Jobs: []Job{
			{Scenario: "lazy", Processes: 1, Pages: 8},
			{Scenario: "pressure", Processes: 2, Pages: 24},
			{Scenario: "fork", Processes: 1, Pages: 8},
			{Scenario: "stack", Processes: 1, Pages: 8},
			{Scenario: "mmap", Processes: 1, Pages: 8},
		},
	}
}

// Load reads the configuration from path, on top of the defaults. An empty
// path keeps the defaults. Variables from a .env file in the working
// directory and from the environment override the file.
func Load(path string) (Config, error) {
	c := Default()

	if path != "" {
		meta, err := toml.DecodeFile(path, &c)
		if err != nil {
			return c, err
		}

		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return c, fmt.Errorf("%w: unknown key %s", ErrInvalid, undecoded[0])
		}
	}

	err := godotenv.Load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return c, err
	}

	err = c.applyEnv(os.LookupEnv)
	if err != nil {
		return c, err
	}

	return c, c.Validate()
}

// The environment variables that override the configuration.
const (
	EnvFrames    = "VMSIM_FRAMES"
	EnvSwapSlots = "VMSIM_SWAP_SLOTS"
	EnvSwapKind  = "VMSIM_SWAP_KIND"
	EnvSwapPath  = "VMSIM_SWAP_PATH"
	EnvLogLevel  = "VMSIM_LOG_LEVEL"
	EnvTraceDB   = "VMSIM_TRACE_DB"
	EnvCHAddr    = "VMSIM_CLICKHOUSE_ADDR"
	EnvCHUser    = "VMSIM_CLICKHOUSE_USER"
	EnvCHPass    = "VMSIM_CLICKHOUSE_PASSWORD"
	EnvMonitor   = "VMSIM_MONITOR"
	EnvPort      = "VMSIM_PORT"
)

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	ints := map[string]*int{
		EnvFrames:    &c.Machine.Frames,
		EnvSwapSlots: &c.Machine.SwapSlots,
		EnvPort:      &c.Port,
	}

	for name, field := range ints {
		value, ok := lookup(name)
		if !ok {
			continue
		}

		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", ErrInvalid, name, value)
		}

		*field = n
	}

	strs := map[string]*string{
		EnvSwapKind: &c.Machine.SwapKind,
		EnvSwapPath: &c.Machine.SwapPath,
		EnvLogLevel: &c.LogLevel,
		EnvTraceDB:  &c.TraceDB,
		EnvCHAddr:   &c.ClickHouse.Addr,
		EnvCHUser:   &c.ClickHouse.Username,
		EnvCHPass:   &c.ClickHouse.Password,
	}

	for name, field := range strs {
		if value, ok := lookup(name); ok {
			*field = value
		}
	}

	if value, ok := lookup(EnvMonitor); ok {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalid, EnvMonitor, value)
		}

		c.Monitor = b
	}

	return nil
}

// Validate checks that the machine can be built and that every job names
// a scenario.
func (c Config) Validate() error {
	var problems []string

	if c.Machine.Frames < 1 {
		problems = append(problems, "machine needs at least one frame")
	}

	if c.Machine.SwapSlots < 0 {
		problems = append(problems, "swap_slots cannot be negative")
	}

	if c.Machine.Log2PageSize != 12 {
		problems = append(problems, "only 4 KiB pages are supported")
	}

	switch c.Machine.SwapKind {
	case SwapMemory:
	case SwapSQLite:
		if c.Machine.SwapPath == "" {
			problems = append(problems, "sqlite swap needs swap_path")
		}
	default:
		problems = append(problems,
			fmt.Sprintf("unknown swap_kind %q", c.Machine.SwapKind))
	}

	if c.TraceDB != "" && c.ClickHouse.Addr != "" {
		problems = append(problems, "trace_db and clickhouse cannot both be set")
	}

	if c.Port < 0 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port %d out of range", c.Port))
	}

	for i, job := range c.Jobs {
		if job.Scenario == "" {
			problems = append(problems, fmt.Sprintf("job %d has no scenario", i))
		}

		if job.Processes < 1 || job.Pages < 1 {
			problems = append(problems,
				fmt.Sprintf("job %d needs processes and pages", i))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}

	return nil
}
