package sweep

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nvandessel/cowtrace/internal/archive"
	"github.com/nvandessel/cowtrace/internal/config"
	"github.com/nvandessel/cowtrace/internal/mobility"
	"github.com/nvandessel/cowtrace/internal/store"
)

// testConfig returns a small sweep rooted in a temp dir with a template in place.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "sim.csc.template"), []byte(cscTemplate), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Layout.Root = root
	cfg.Sweep.NodeDistances = []int{8}
	cfg.Sweep.SwapCouples = []int{0, 5}
	cfg.Sweep.ShuffleDistances = []int{10}
	cfg.Sweep.Repetitions = 3
	seed := int64(7)
	cfg.Sweep.Seed = &seed
	cfg.Generator.Duration = 200
	return cfg
}

// fakeSimulator writes a log naming the config it was given.
type fakeSimulator struct {
	root string
	fail string // run id to fail after writing a partial log

	// lingering names a run that only finishes once ctx is cancelled. The
	// failing run waits for it to start.
	lingering string
	entered   chan struct{}

	mu       sync.Mutex
	calls    []string
	inflight map[string]int
	maxLive  int
	overlap  bool
}

func (f *fakeSimulator) Run(ctx context.Context, configPath, logPath string) error {
	id := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(configPath), "sim_"), ".csc")
	combo := id[:strings.LastIndex(id, "_")]

	f.mu.Lock()
	f.calls = append(f.calls, id)
	if f.inflight == nil {
		f.inflight = map[string]int{}
	}
	f.inflight[combo]++
	if len(f.inflight) > 1 {
		f.overlap = true
	}
	live := 0
	for _, n := range f.inflight {
		live += n
	}
	if live > f.maxLive {
		f.maxLive = live
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inflight[combo]--
		if f.inflight[combo] == 0 {
			delete(f.inflight, combo)
		}
		f.mu.Unlock()
	}()

	if id == f.lingering {
		close(f.entered)
		<-ctx.Done()
	}
	if id == f.fail {
		if f.entered != nil {
			<-f.entered
		}
		os.WriteFile(filepath.Join(f.root, logPath), []byte("partial\n"), 0644)
		return fmt.Errorf("simulator exited with status 1")
	}
	if _, err := os.Stat(filepath.Join(f.root, configPath)); err != nil {
		return fmt.Errorf("config missing: %w", err)
	}
	return os.WriteFile(filepath.Join(f.root, logPath), []byte("log for "+configPath+"\n"), 0644)
}

func (f *fakeSimulator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func openLedger(t *testing.T, cfg *config.Config) *store.SQLiteLedger {
	t.Helper()
	l, err := store.OpenLedger(filepath.Join(cfg.Layout.Root, cfg.Ledger.Path))
	if err != nil {
		t.Fatalf("OpenLedger() error = %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestNewDriver_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Sweep.NodeDistances = []int{0}
	cfg.Sweep.ShuffleDistances = []int{0}

	if _, err := NewDriver(cfg, DriverOptions{}); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("NewDriver() error = %v, want ErrInvalidConfig", err)
	}
	if _, err := NewDriver(nil, DriverOptions{}); err == nil {
		t.Error("NewDriver(nil) expected error")
	}
}

func TestDriver_Runs(t *testing.T) {
	cfg := testConfig(t)
	d, err := NewDriver(cfg, DriverOptions{SweepID: "fixed"})
	if err != nil {
		t.Fatal(err)
	}
	if d.SweepID() != "fixed" {
		t.Errorf("SweepID() = %q, want fixed", d.SweepID())
	}
	runs := d.Runs()
	if len(runs) != 6 {
		t.Fatalf("len(Runs()) = %d, want 6", len(runs))
	}
	if runs[0].ID() != "8_0_10_0" || runs[5].ID() != "8_5_10_2" {
		t.Errorf("Runs() = %v..%v", runs[0].ID(), runs[5].ID())
	}

	generated, err := NewDriver(cfg, DriverOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(generated.SweepID()) != 36 {
		t.Errorf("generated SweepID() = %q, want a UUID", generated.SweepID())
	}
}

func TestDriver_RunWithSimulator(t *testing.T) {
	cfg := testConfig(t)
	root := cfg.Layout.Root
	sim := &fakeSimulator{root: root}
	ledger := openLedger(t, cfg)

	d, err := NewDriver(cfg, DriverOptions{Simulator: sim, Ledger: ledger})
	if err != nil {
		t.Fatalf("NewDriver() error = %v", err)
	}
	report, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.Total != 6 || report.Succeeded != 6 || report.Failed != 0 || report.Skipped != 0 {
		t.Errorf("report = %+v, want 6 succeeded", report)
	}
	if report.SweepID != d.SweepID() {
		t.Errorf("report.SweepID = %q, want %q", report.SweepID, d.SweepID())
	}
	if sim.callCount() != 6 {
		t.Errorf("simulator calls = %d, want 6", sim.callCount())
	}

	for _, run := range d.Runs() {
		trace := filepath.Join(root, "positions", run.TraceName())
		f, err := os.Open(trace)
		if err != nil {
			t.Errorf("trace %s missing: %v", run.ID(), err)
			continue
		}
		samples, err := mobility.ReadTrace(f)
		f.Close()
		if err != nil {
			t.Errorf("ReadTrace(%s) error = %v", run.ID(), err)
		}
		if len(samples) == 0 {
			t.Errorf("trace %s is empty", run.ID())
		}

		csc, err := os.ReadFile(filepath.Join(root, "csc", run.ConfigName()))
		if err != nil {
			t.Errorf("config %s missing: %v", run.ID(), err)
		} else if !strings.Contains(string(csc), "<positions_file>"+run.TraceName()+"</positions_file>") {
			t.Errorf("config %s does not reference its trace", run.ID())
		}

		logPath := filepath.Join(root, "results", run.LogName())
		if _, err := os.Stat(logPath); !os.IsNotExist(err) {
			t.Errorf("plain log %s not removed after compression", run.LogName())
		}
		var buf bytes.Buffer
		if _, err := archive.DecompressFile(archive.PathFor(logPath), &buf); err != nil {
			t.Errorf("DecompressFile(%s) error = %v", run.ID(), err)
		} else if want := "log for " + filepath.Join("csc", run.ConfigName()) + "\n"; buf.String() != want {
			t.Errorf("archive %s = %q, want %q", run.ID(), buf.String(), want)
		}
	}

	ctx := context.Background()
	counts, err := ledger.SweepSummary(ctx, d.SweepID())
	if err != nil {
		t.Fatalf("SweepSummary() error = %v", err)
	}
	if counts.Succeeded != 6 || counts.Total != 6 {
		t.Errorf("ledger counts = %+v, want 6 succeeded", counts)
	}
	runs, err := ledger.ListRuns(ctx, store.RunFilter{SweepID: d.SweepID()})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range runs {
		if !strings.HasPrefix(r.Checksum, "sha256:") {
			t.Errorf("run %s checksum = %q", r.RunID, r.Checksum)
		}
		if r.Seed != DeriveSeed(7, r.RunID) {
			t.Errorf("run %s seed = %d, want derived seed", r.RunID, r.Seed)
		}
		// 242 ticks, sampled at 0, 10, ..., 240.
		if r.Samples != 25*25 {
			t.Errorf("run %s samples = %d, want %d", r.RunID, r.Samples, 25*25)
		}
	}
	sweeps, err := ledger.ListSweeps(ctx, 1)
	if err != nil || len(sweeps) != 1 || sweeps[0].Status != store.SweepComplete {
		t.Errorf("ListSweeps() = %+v, %v; want one complete sweep", sweeps, err)
	}
}

func TestDriver_TraceOnly(t *testing.T) {
	cfg := testConfig(t)
	root := cfg.Layout.Root
	if err := os.Remove(filepath.Join(root, "sim.csc.template")); err != nil {
		t.Fatal(err)
	}

	d, err := NewDriver(cfg, DriverOptions{})
	if err != nil {
		t.Fatal(err)
	}
	report, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Succeeded != 6 {
		t.Errorf("Succeeded = %d, want 6", report.Succeeded)
	}

	traces, _ := filepath.Glob(filepath.Join(root, "positions", "pos_*.txt"))
	if len(traces) != 6 {
		t.Errorf("traces = %d, want 6", len(traces))
	}
	configs, _ := filepath.Glob(filepath.Join(root, "csc", "*.csc"))
	if len(configs) != 0 {
		t.Errorf("configs rendered without a template: %v", configs)
	}
}

func TestDriver_TraceOnlyRendersConfigsWhenTemplateExists(t *testing.T) {
	cfg := testConfig(t)
	d, err := NewDriver(cfg, DriverOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	configs, _ := filepath.Glob(filepath.Join(cfg.Layout.Root, "csc", "*.csc"))
	if len(configs) != 6 {
		t.Errorf("configs = %d, want 6", len(configs))
	}
}

func TestDriver_MissingTemplateWithSimulator(t *testing.T) {
	cfg := testConfig(t)
	if err := os.Remove(filepath.Join(cfg.Layout.Root, "sim.csc.template")); err != nil {
		t.Fatal(err)
	}
	sim := &fakeSimulator{root: cfg.Layout.Root}
	d, err := NewDriver(cfg, DriverOptions{Simulator: sim})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Run(context.Background()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Run() error = %v, want os.ErrNotExist", err)
	}
	if sim.callCount() != 0 {
		t.Errorf("simulator ran %d times without a template", sim.callCount())
	}
}

func TestDriver_FailureStopsSweep(t *testing.T) {
	cfg := testConfig(t)
	root := cfg.Layout.Root
	sim := &fakeSimulator{root: root, fail: "8_0_10_1"}
	ledger := openLedger(t, cfg)

	d, err := NewDriver(cfg, DriverOptions{Simulator: sim, Ledger: ledger})
	if err != nil {
		t.Fatal(err)
	}
	report, err := d.Run(context.Background())
	if err == nil {
		t.Fatal("Run() expected error")
	}
	if !strings.Contains(err.Error(), "run 8_0_10_1") {
		t.Errorf("error = %v, want failing run id", err)
	}

	if report.Failed != 1 || report.Succeeded != 1 {
		t.Errorf("report = %+v, want 1 succeeded and 1 failed", report)
	}
	// The next combination never starts.
	if _, err := os.Stat(filepath.Join(root, "positions", "pos_8_5_10_0.txt")); !os.IsNotExist(err) {
		t.Error("next combination ran after a failure")
	}

	ctx := context.Background()
	failed, err := ledger.ListRuns(ctx, store.RunFilter{Status: store.RunFailed})
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].RunID != "8_0_10_1" || !strings.Contains(failed[0].Error, "status 1") {
		t.Errorf("failed runs = %+v", failed)
	}
	sweeps, err := ledger.ListSweeps(ctx, 1)
	if err != nil || len(sweeps) != 1 || sweeps[0].Status != store.SweepFailed {
		t.Errorf("ListSweeps() = %+v, %v; want one failed sweep", sweeps, err)
	}
}

func TestDriver_WorkersRespectCombinationBarrier(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sweep.SwapCouples = []int{0, 5, 10}
	cfg.Sweep.Repetitions = 8
	cfg.Sweep.Workers = 4
	sim := &fakeSimulator{root: cfg.Layout.Root}

	d, err := NewDriver(cfg, DriverOptions{Simulator: sim})
	if err != nil {
		t.Fatal(err)
	}
	report, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Succeeded != 24 {
		t.Errorf("Succeeded = %d, want 24", report.Succeeded)
	}
	if sim.overlap {
		t.Error("runs of different combinations overlapped")
	}
	if sim.maxLive > 4 {
		t.Errorf("max concurrent runs = %d, want <= 4", sim.maxLive)
	}

	// Calls are grouped by combination in sweep order.
	var order []string
	for _, id := range sim.calls {
		combo := id[:strings.LastIndex(id, "_")]
		if len(order) == 0 || order[len(order)-1] != combo {
			order = append(order, combo)
		}
	}
	if want := []string{"8_0_10", "8_5_10", "8_10_10"}; strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("combination order = %v, want %v", order, want)
	}
}

func TestDriver_Resume(t *testing.T) {
	cfg := testConfig(t)
	sim := &fakeSimulator{root: cfg.Layout.Root}
	ledger := openLedger(t, cfg)

	first, err := NewDriver(cfg, DriverOptions{Simulator: sim, Ledger: ledger})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := first.Run(context.Background()); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	// Drop one archive so exactly one run is redone.
	redo := Run{Combination: Combination{8, 5, 10}, Repetition: 1}
	if err := os.Remove(archive.PathFor(filepath.Join(cfg.Layout.Root, "results", redo.LogName()))); err != nil {
		t.Fatal(err)
	}

	cfg.Sweep.Resume = true
	second, err := NewDriver(cfg, DriverOptions{Simulator: sim, Ledger: ledger})
	if err != nil {
		t.Fatal(err)
	}
	report, err := second.Run(context.Background())
	if err != nil {
		t.Fatalf("resumed Run() error = %v", err)
	}
	if report.Skipped != 5 || report.Succeeded != 1 {
		t.Errorf("resumed report = %+v, want 5 skipped and 1 succeeded", report)
	}
	if sim.callCount() != 7 {
		t.Errorf("simulator calls = %d, want 7", sim.callCount())
	}

	counts, err := ledger.SweepSummary(context.Background(), second.SweepID())
	if err != nil {
		t.Fatal(err)
	}
	if counts.Skipped != 5 || counts.Succeeded != 1 {
		t.Errorf("ledger counts = %+v", counts)
	}
}

func TestDriver_SeededSweepIsReproducible(t *testing.T) {
	read := func(cfg *config.Config) map[string][]byte {
		t.Helper()
		d, err := NewDriver(cfg, DriverOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := d.Run(context.Background()); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		out := map[string][]byte{}
		for _, run := range d.Runs() {
			data, err := os.ReadFile(d.Layout().TracePath(run))
			if err != nil {
				t.Fatal(err)
			}
			out[run.ID()] = data
		}
		return out
	}

	a := testConfig(t)
	a.Sweep.Workers = 1
	b := testConfig(t)
	b.Sweep.Workers = 3

	ta, tb := read(a), read(b)
	for id, data := range ta {
		if !bytes.Equal(data, tb[id]) {
			t.Errorf("trace %s differs between sequential and parallel sweeps", id)
		}
	}
	if bytes.Equal(ta["8_5_10_0"], ta["8_5_10_1"]) {
		t.Error("repetitions produced identical traces")
	}
}

func TestDriver_Cancelled(t *testing.T) {
	cfg := testConfig(t)
	sim := &fakeSimulator{root: cfg.Layout.Root}
	d, err := NewDriver(cfg, DriverOptions{Simulator: sim})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := d.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if report.Succeeded != 0 || sim.callCount() != 0 {
		t.Errorf("cancelled sweep ran: report = %+v, calls = %d", report, sim.callCount())
	}
}

func TestDriver_NoCompression(t *testing.T) {
	cfg := testConfig(t)
	cfg.Simulator.Compress = false
	cfg.Sweep.SwapCouples = []int{0}
	cfg.Sweep.Repetitions = 1
	sim := &fakeSimulator{root: cfg.Layout.Root}

	d, err := NewDriver(cfg, DriverOptions{Simulator: sim})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	logPath := filepath.Join(cfg.Layout.Root, "results", "log8_0_10_0.txt")
	if _, err := os.Stat(logPath); err != nil {
		t.Errorf("plain log missing: %v", err)
	}
	if _, err := os.Stat(archive.PathFor(logPath)); !os.IsNotExist(err) {
		t.Error("archive written with compression disabled")
	}
}

func TestDriver_RunFinishingAfterSiblingFailureIsRecorded(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sweep.SwapCouples = []int{0}
	cfg.Sweep.Repetitions = 2
	cfg.Sweep.Workers = 2
	sim := &fakeSimulator{
		root:      cfg.Layout.Root,
		fail:      "8_0_10_0",
		lingering: "8_0_10_1",
		entered:   make(chan struct{}),
	}
	ledger := openLedger(t, cfg)

	d, err := NewDriver(cfg, DriverOptions{Simulator: sim, Ledger: ledger})
	if err != nil {
		t.Fatal(err)
	}
	report, err := d.Run(context.Background())
	if err == nil {
		t.Fatal("Run() expected error")
	}
	if report.Succeeded != 1 || report.Failed != 1 {
		t.Errorf("report = %+v, want 1 succeeded and 1 failed", report)
	}

	runs, err := ledger.ListRuns(context.Background(), store.RunFilter{SweepID: d.SweepID()})
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]store.RunStatus{}
	for _, r := range runs {
		got[r.RunID] = r.Status
	}
	want := map[string]store.RunStatus{
		"8_0_10_0": store.RunFailed,
		"8_0_10_1": store.RunSucceeded,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ledger statuses mismatch (-want +got):\n%s", diff)
	}
}

func TestDriver_ResumeTraceOnlyRedoesRunsWithoutConfig(t *testing.T) {
	cfg := testConfig(t)
	d, err := NewDriver(cfg, DriverOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	// A trace whose config never got rendered is not a finished run.
	redo := Run{Combination: Combination{8, 0, 10}, Repetition: 2}
	configPath := filepath.Join(cfg.Layout.Root, "csc", redo.ConfigName())
	if err := os.Remove(configPath); err != nil {
		t.Fatal(err)
	}

	cfg.Sweep.Resume = true
	resumed, err := NewDriver(cfg, DriverOptions{})
	if err != nil {
		t.Fatal(err)
	}
	report, err := resumed.Run(context.Background())
	if err != nil {
		t.Fatalf("resumed Run() error = %v", err)
	}
	if report.Skipped != 5 || report.Succeeded != 1 {
		t.Errorf("resumed report = %+v, want 5 skipped and 1 succeeded", report)
	}
	if _, err := os.Stat(configPath); err != nil {
		t.Errorf("config not re-rendered: %v", err)
	}
}

func TestDriver_FailedLogIsSetAside(t *testing.T) {
	cfg := testConfig(t)
	cfg.Simulator.Compress = false
	cfg.Sweep.SwapCouples = []int{0}
	cfg.Sweep.Repetitions = 2
	sim := &fakeSimulator{root: cfg.Layout.Root, fail: "8_0_10_1"}

	d, err := NewDriver(cfg, DriverOptions{Simulator: sim})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Run(context.Background()); err == nil {
		t.Fatal("Run() expected error")
	}
	logPath := filepath.Join(cfg.Layout.Root, "results", "log8_0_10_1.txt")
	if _, err := os.Stat(logPath); !os.IsNotExist(err) {
		t.Error("partial log of a failed run left in place")
	}
	if data, err := os.ReadFile(logPath + ".failed"); err != nil || string(data) != "partial\n" {
		t.Errorf("failed log = %q, %v", data, err)
	}

	// The failed run is redone on resume; the finished one is not.
	cfg.Sweep.Resume = true
	sim.fail = ""
	resumed, err := NewDriver(cfg, DriverOptions{Simulator: sim})
	if err != nil {
		t.Fatal(err)
	}
	report, err := resumed.Run(context.Background())
	if err != nil {
		t.Fatalf("resumed Run() error = %v", err)
	}
	if report.Skipped != 1 || report.Succeeded != 1 {
		t.Errorf("resumed report = %+v, want 1 skipped and 1 succeeded", report)
	}
}

func TestDriver_UnsetSeedIsPinnedInSnapshot(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sweep.Seed = nil
	ledger := openLedger(t, cfg)

	d, err := NewDriver(cfg, DriverOptions{Ledger: ledger})
	if err != nil {
		t.Fatal(err)
	}
	report, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.BaseSeed != d.BaseSeed() {
		t.Errorf("report.BaseSeed = %d, want %d", report.BaseSeed, d.BaseSeed())
	}

	ctx := context.Background()
	sweeps, err := ledger.ListSweeps(ctx, 1)
	if err != nil || len(sweeps) != 1 {
		t.Fatalf("ListSweeps() = %+v, %v", sweeps, err)
	}
	if want := fmt.Sprintf("seed: %d", d.BaseSeed()); !strings.Contains(sweeps[0].Config, want) {
		t.Errorf("config snapshot missing %q:\n%s", want, sweeps[0].Config)
	}
	runs, err := ledger.ListRuns(ctx, store.RunFilter{SweepID: d.SweepID()})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range runs {
		if r.Seed != DeriveSeed(d.BaseSeed(), r.RunID) {
			t.Errorf("run %s seed = %d, want seed derived from base %d", r.RunID, r.Seed, d.BaseSeed())
		}
	}
}
