package sweep

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nvandessel/cowtrace/internal/config"
)

func requireShell(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-based simulator tests need a POSIX shell")
	}
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}

func TestNewExecSimulator_DefaultArgs(t *testing.T) {
	sim := NewExecSimulator(config.Default().Simulator, "/sweeps/a")

	got := sim.expandArgs("csc/sim_8_0_10_0.csc", "results/log8_0_10_0.txt")
	want := []string{
		"-Xmx256m",
		"-Doutputfile=results/log8_0_10_0.txt",
		"-jar", "../../../tools/cooja/dist/cooja.jar",
		"-nogui=csc/sim_8_0_10_0.csc",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("expandArgs() mismatch (-want +got):\n%s", diff)
	}
	if sim.Dir != "/sweeps/a" {
		t.Errorf("Dir = %q, want /sweeps/a", sim.Dir)
	}

	line := sim.CommandLine("csc/x.csc", "results/x.txt")
	if !strings.HasPrefix(line, "java -Xmx256m -Doutputfile=results/x.txt") {
		t.Errorf("CommandLine() = %q", line)
	}
}

func TestNewExecSimulator_CopiesArgs(t *testing.T) {
	cfg := config.Default().Simulator
	sim := NewExecSimulator(cfg, ".")
	cfg.Args[0] = "changed"
	if sim.Args[0] != "-Xmx256m" {
		t.Errorf("simulator args alias the config: %v", sim.Args)
	}
}

func TestExecSimulator_Run(t *testing.T) {
	sh := requireShell(t)
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "results"), 0755); err != nil {
		t.Fatal(err)
	}

	sim := &ExecSimulator{
		Command: sh,
		Args:    []string{"-c", `echo "simulated $0" > "$1"`, "{config}", "{log}"},
		Dir:     dir,
	}
	if err := sim.Run(context.Background(), "csc/sim_8_0_10_0.csc", "results/log8_0_10_0.txt"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "results", "log8_0_10_0.txt"))
	if err != nil {
		t.Fatalf("log not written in working directory: %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != "simulated csc/sim_8_0_10_0.csc" {
		t.Errorf("log = %q", got)
	}
}

func TestExecSimulator_Failure(t *testing.T) {
	sh := requireShell(t)
	sim := &ExecSimulator{
		Command: sh,
		Args:    []string{"-c", "echo 'cannot load {config}' >&2; exit 3"},
		Dir:     t.TempDir(),
	}
	err := sim.Run(context.Background(), "csc/bad.csc", "results/bad.txt")
	if err == nil {
		t.Fatal("Run() expected error for non-zero exit")
	}
	if !strings.Contains(err.Error(), "cannot load csc/bad.csc") {
		t.Errorf("error = %v, want stderr included", err)
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 3 {
		t.Errorf("error = %v, want exit status 3", err)
	}
}

func TestExecSimulator_Timeout(t *testing.T) {
	sh := requireShell(t)
	sim := &ExecSimulator{
		Command: sh,
		Args:    []string{"-c", "exec sleep 5"},
		Dir:     t.TempDir(),
		Timeout: 50 * time.Millisecond,
	}
	start := time.Now()
	err := sim.Run(context.Background(), "c", "l")
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("Run() error = %v, want timeout", err)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("Run() took %v, timeout not enforced", elapsed)
	}
}

func TestExecSimulator_EmptyCommand(t *testing.T) {
	if err := (&ExecSimulator{}).Run(context.Background(), "c", "l"); err == nil {
		t.Error("Run() with empty command expected error")
	}
}

func TestTail(t *testing.T) {
	if got := tail("  short \n", 10); got != "short" {
		t.Errorf("tail() = %q", got)
	}
	if got := tail("0123456789", 4); got != "...6789" {
		t.Errorf("tail() = %q, want ...6789", got)
	}
}
