package sweep

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/nvandessel/cowtrace/internal/config"
)

// Argument placeholders understood by ExecSimulator.
const (
	ConfigArg = "{config}"
	LogArg    = "{log}"
)

// waitDelay bounds how long Run waits for output pipes after the simulator
// is killed, in case it left children holding them open.
const waitDelay = 2 * time.Second

// maxStderr bounds how much simulator stderr is kept for error messages.
const maxStderr = 4 << 10

// Simulator runs one simulation for a rendered config, writing its log to
// logPath. Both paths are relative to the sweep root.
type Simulator interface {
	Run(ctx context.Context, configPath, logPath string) error
}

// SimulatorFunc adapts a function to Simulator.
type SimulatorFunc func(ctx context.Context, configPath, logPath string) error

// Run calls f.
func (f SimulatorFunc) Run(ctx context.Context, configPath, logPath string) error {
	return f(ctx, configPath, logPath)
}

// ExecSimulator runs an external simulator process.
type ExecSimulator struct {
	// Command is the executable, looked up in PATH if it has no separator.
	Command string
	// Args may contain ConfigArg and LogArg, which are substituted per run.
	Args []string
	// Dir is the working directory, normally the sweep root.
	Dir string
	// Timeout bounds one run. Zero means no limit.
	Timeout time.Duration
}

// NewExecSimulator returns the simulator described by cfg, run from dir.
func NewExecSimulator(cfg config.SimulatorConfig, dir string) *ExecSimulator {
	return &ExecSimulator{
		Command: cfg.Command,
		Args:    append([]string(nil), cfg.Args...),
		Dir:     dir,
		Timeout: cfg.Timeout,
	}
}

// Run executes the simulator and waits for it to exit. A non-zero exit
// status is an error that carries the tail of stderr.
func (s *ExecSimulator) Run(ctx context.Context, configPath, logPath string) error {
	if s.Command == "" {
		return errors.New("simulator command is empty")
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, s.Command, s.expandArgs(configPath, logPath)...)
	cmd.Dir = s.Dir
	cmd.WaitDelay = waitDelay

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("simulator timed out after %v", s.Timeout)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("simulator interrupted: %w", ctx.Err())
		}
		return fmt.Errorf("simulator failed: %w (stderr: %s)", err, tail(stderr.String(), maxStderr))
	}
	return nil
}

// CommandLine returns the command that Run would execute, for display.
func (s *ExecSimulator) CommandLine(configPath, logPath string) string {
	return strings.Join(append([]string{s.Command}, s.expandArgs(configPath, logPath)...), " ")
}

func (s *ExecSimulator) expandArgs(configPath, logPath string) []string {
	r := strings.NewReplacer(ConfigArg, configPath, LogArg, logPath)
	args := make([]string, len(s.Args))
	for i, a := range s.Args {
		args[i] = r.Replace(a)
	}
	return args
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
