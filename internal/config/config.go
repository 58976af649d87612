// Package config provides configuration loading for cowtrace sweeps.
// It supports loading from YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nvandessel/cowtrace/internal/logging"
	"github.com/nvandessel/cowtrace/internal/mobility"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file looked up in the working directory when no
// path is given.
const DefaultFile = "cowtrace.yaml"

// DefaultPlaceholder is the token in the simulator config template that is
// replaced by the trace file name.
const DefaultPlaceholder = "xxPOSITION_FILExx"

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config contains all cowtrace configuration settings.
type Config struct {
	// Sweep enumerates the parameter axes and how runs are scheduled.
	Sweep SweepConfig `json:"sweep" yaml:"sweep"`

	// Generator holds trace settings that are not swept.
	Generator GeneratorConfig `json:"generator" yaml:"generator"`

	// Layout names the directories sweep artifacts are written to.
	Layout LayoutConfig `json:"layout" yaml:"layout"`

	// Simulator configures the external simulator invocation.
	Simulator SimulatorConfig `json:"simulator" yaml:"simulator"`

	// Ledger configures the SQLite run ledger.
	Ledger LedgerConfig `json:"ledger" yaml:"ledger"`

	// Logging contains settings for operational and event logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// SweepConfig lists the values of each swept axis. Runs are the Cartesian
// product node_distances x swap_couples x shuffle_distances x repetitions.
type SweepConfig struct {
	NodeDistances    []int `json:"node_distances" yaml:"node_distances"`
	SwapCouples      []int `json:"swap_couples" yaml:"swap_couples"`
	ShuffleDistances []int `json:"shuffle_distances" yaml:"shuffle_distances"`
	Repetitions      int   `json:"repetitions" yaml:"repetitions"`

	// Workers bounds how many repetitions of one combination run at once.
	// 1 runs everything sequentially.
	Workers int `json:"workers" yaml:"workers"`

	// Seed is the base seed for per-run PRNGs. Unset draws a base from
	// entropy when the sweep starts; any value, 0 included, is reproducible.
	Seed *int64 `json:"seed,omitempty" yaml:"seed,omitempty"`

	// Resume skips runs whose compressed log already exists.
	Resume bool `json:"resume" yaml:"resume"`
}

// GeneratorConfig holds the unswept trace generator settings.
type GeneratorConfig struct {
	Nodes          int `json:"nodes" yaml:"nodes"`
	Duration       int `json:"duration" yaml:"duration"`
	SampleInterval int `json:"sample_interval" yaml:"sample_interval"`
}

// LayoutConfig names the sweep root and its artifact directories.
// Artifact directories are relative to Root.
type LayoutConfig struct {
	Root      string `json:"root" yaml:"root"`
	Positions string `json:"positions" yaml:"positions"`
	Configs   string `json:"configs" yaml:"configs"`
	Results   string `json:"results" yaml:"results"`
}

// SimulatorConfig configures the external simulator.
type SimulatorConfig struct {
	// Enabled runs the simulator for every trace. When false the sweep only
	// produces traces and simulator configs.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Template is the simulator config template, relative to the sweep root.
	Template string `json:"template" yaml:"template"`

	// Placeholder is replaced by the trace file name in the template.
	Placeholder string `json:"placeholder" yaml:"placeholder"`

	// Command is the simulator executable. Supports ${VAR} syntax.
	Command string `json:"command" yaml:"command"`

	// Args are passed to Command. "{config}" and "{log}" are replaced by the
	// run's config and log paths. Supports ${VAR} syntax.
	Args []string `json:"args" yaml:"args"`

	// Timeout bounds a single simulator run. Zero means no limit.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Compress gzips each simulator log and removes the plain copy.
	Compress bool `json:"compress" yaml:"compress"`
}

// LedgerConfig configures the run ledger.
type LedgerConfig struct {
	// Path is the SQLite database, relative to the sweep root.
	// Empty disables the ledger.
	Path string `json:"path" yaml:"path"`
}

// LoggingConfig configures cowtrace's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables the sweep event log in the results directory.
	Level string `json:"level" yaml:"level"`
}

// Default returns the full Cooja mobility sweep: 27 combinations, 64 repetitions each.
func Default() *Config {
	return &Config{
		Sweep: SweepConfig{
			NodeDistances:    []int{8, 15, 30},
			SwapCouples:      []int{0, 5, 10},
			ShuffleDistances: []int{10, 50, 100},
			Repetitions:      64,
			Workers:          1,
		},
		Generator: GeneratorConfig{
			Nodes:          mobility.DefaultNodes,
			Duration:       mobility.DefaultDuration,
			SampleInterval: mobility.DefaultSampleInterval,
		},
		Layout: LayoutConfig{
			Root:      ".",
			Positions: "positions",
			Configs:   "csc",
			Results:   "results",
		},
		Simulator: SimulatorConfig{
			Enabled:     true,
			Template:    "sim.csc.template",
			Placeholder: DefaultPlaceholder,
			Command:     "java",
			Args: []string{
				"-Xmx256m",
				"-Doutputfile={log}",
				"-jar", "../../../tools/cooja/dist/cooja.jar",
				"-nogui={config}",
			},
			Compress: true,
		},
		Ledger: LedgerConfig{
			Path: filepath.Join("results", "runs.db"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from path, or from ./cowtrace.yaml when path is
// empty and that file exists, then applies environment variable overrides.
// Order: defaults -> config file -> environment variables
func Load(path string) (*Config, error) {
	config := Default()

	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		config = fileConfig
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
// Keys missing from the file keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Simulator.Command = expandEnvVars(config.Simulator.Command)
	config.Simulator.Template = expandEnvVars(config.Simulator.Template)
	for i, a := range config.Simulator.Args {
		config.Simulator.Args[i] = expandEnvVars(a)
	}

	return config, nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// GeneratorOptions returns the mobility options for one run seeded with seed.
func (c *Config) GeneratorOptions(seed int64) mobility.Options {
	return mobility.Options{
		Nodes:          c.Generator.Nodes,
		Duration:       c.Generator.Duration,
		SampleInterval: c.Generator.SampleInterval,
		Seed:           seed,
	}
}

// Validate checks that the configuration is valid and that every swept
// combination yields a positive reshuffle period.
func (c *Config) Validate() error {
	s := c.Sweep
	if len(s.NodeDistances) == 0 || len(s.SwapCouples) == 0 || len(s.ShuffleDistances) == 0 {
		return fmt.Errorf("%w: every sweep axis needs at least one value", ErrInvalidConfig)
	}
	if s.Repetitions < 1 {
		return fmt.Errorf("%w: repetitions must be at least 1, got %d", ErrInvalidConfig, s.Repetitions)
	}
	if s.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1, got %d", ErrInvalidConfig, s.Workers)
	}
	for _, nd := range s.NodeDistances {
		for _, ns := range s.SwapCouples {
			for _, ds := range s.ShuffleDistances {
				p := mobility.Params{NodeDistance: nd, SwapCouples: ns, ShuffleDistance: ds}
				if err := p.Validate(); err != nil {
					return fmt.Errorf("%w: combination %s: %v", ErrInvalidConfig, p, err)
				}
			}
		}
	}

	if err := c.GeneratorOptions(0).Validate(); err != nil {
		return fmt.Errorf("%w: generator: %v", ErrInvalidConfig, err)
	}

	l := c.Layout
	if l.Root == "" || l.Positions == "" || l.Configs == "" || l.Results == "" {
		return fmt.Errorf("%w: layout directories must not be empty", ErrInvalidConfig)
	}

	if c.Simulator.Template == "" {
		return fmt.Errorf("%w: simulator template must be set", ErrInvalidConfig)
	}
	if c.Simulator.Placeholder == "" {
		return fmt.Errorf("%w: simulator placeholder must be set", ErrInvalidConfig)
	}
	if c.Simulator.Enabled && c.Simulator.Command == "" {
		return fmt.Errorf("%w: simulator command must be set when the simulator is enabled", ErrInvalidConfig)
	}
	if c.Simulator.Timeout < 0 {
		return fmt.Errorf("%w: simulator timeout must be non-negative, got %v", ErrInvalidConfig, c.Simulator.Timeout)
	}

	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("%w: invalid log level: %s (valid: info, debug, trace, or empty for default)", ErrInvalidConfig, c.Logging.Level)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("COWTRACE_ROOT"); v != "" {
		config.Layout.Root = v
	}

	if v := os.Getenv("COWTRACE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Sweep.Workers = n
		}
	}
	if v := os.Getenv("COWTRACE_REPETITIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Sweep.Repetitions = n
		}
	}
	if v := os.Getenv("COWTRACE_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Sweep.Seed = &n
		}
	}
	if v := os.Getenv("COWTRACE_RESUME"); v != "" {
		config.Sweep.Resume = v == "true" || v == "1"
	}

	if v := os.Getenv("COWTRACE_SIMULATOR_ENABLED"); v != "" {
		config.Simulator.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("COWTRACE_SIMULATOR_COMMAND"); v != "" {
		config.Simulator.Command = v
	}
	if v := os.Getenv("COWTRACE_SIMULATOR_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Simulator.Timeout = d
		}
	}

	if v, ok := os.LookupEnv("COWTRACE_LEDGER"); ok {
		config.Ledger.Path = v
	}

	if v := os.Getenv("COWTRACE_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
