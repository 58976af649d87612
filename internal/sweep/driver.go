package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nvandessel/cowtrace/internal/archive"
	"github.com/nvandessel/cowtrace/internal/config"
	"github.com/nvandessel/cowtrace/internal/logging"
	"github.com/nvandessel/cowtrace/internal/mobility"
	"github.com/nvandessel/cowtrace/internal/pathutil"
	"github.com/nvandessel/cowtrace/internal/store"
)

// Report summarizes a finished sweep.
type Report struct {
	SweepID   string        `json:"sweep_id"`
	BaseSeed  int64         `json:"base_seed"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Elapsed   time.Duration `json:"elapsed"`
}

// DriverOptions wires a Driver to its collaborators. Every field is optional.
type DriverOptions struct {
	// Simulator runs each rendered config. Nil produces traces and configs only.
	Simulator Simulator

	// Ledger records sweep and run outcomes. Nil disables recording.
	Ledger store.Ledger

	// Logger receives progress logs. Nil discards them.
	Logger *slog.Logger

	// Events receives structured sweep events. Nil disables them.
	Events *logging.EventLogger

	// SweepID identifies the sweep in the ledger and event log. Empty
	// generates a random UUID.
	SweepID string
}

// Driver runs a sweep.
type Driver struct {
	cfg     *config.Config
	layout  Layout
	combos  []Combination
	sim     Simulator
	ledger  store.Ledger
	logger  *slog.Logger
	events  *logging.EventLogger
	sweepID string
	base    int64
	now     func() time.Time
}

type tally struct {
	succeeded atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
}

// NewDriver validates cfg and returns a driver for it.
func NewDriver(cfg *config.Config, opts DriverOptions) (*Driver, error) {
	if cfg == nil {
		return nil, errors.New("sweep: config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Driver{
		cfg:     cfg,
		layout:  NewLayout(cfg.Layout),
		combos:  Plan(cfg.Sweep),
		sim:     opts.Simulator,
		ledger:  opts.Ledger,
		logger:  opts.Logger,
		events:  opts.Events,
		sweepID: opts.SweepID,
		now:     time.Now,
	}
	if d.ledger == nil {
		d.ledger = store.NopLedger{}
	}
	if d.logger == nil {
		d.logger = logging.Discard()
	}
	if d.sweepID == "" {
		d.sweepID = uuid.NewString()
	}
	if cfg.Sweep.Seed != nil {
		d.base = *cfg.Sweep.Seed
	} else {
		d.base = mobility.RandomSeed()
	}
	return d, nil
}

// SweepID returns the identifier of the sweep this driver runs.
func (d *Driver) SweepID() string { return d.sweepID }

// BaseSeed returns the base every run seed is derived from. It is drawn from
// entropy when the config leaves the seed unset.
func (d *Driver) BaseSeed() int64 { return d.base }

// Layout returns the artifact layout.
func (d *Driver) Layout() Layout { return d.layout }

// Runs lists every run of the sweep in execution order.
func (d *Driver) Runs() []Run {
	return Runs(d.combos, d.cfg.Sweep.Repetitions)
}

// Run executes the sweep. Combinations run one after another; the
// repetitions of a combination run concurrently up to the configured worker
// count, and all of them finish before the next combination starts. The
// first failing run cancels the rest and its error is returned. The report
// is valid even when an error is returned.
func (d *Driver) Run(ctx context.Context) (Report, error) {
	start := d.now()
	report := Report{
		SweepID:  d.sweepID,
		BaseSeed: d.base,
		Total:    len(d.combos) * d.cfg.Sweep.Repetitions,
	}

	if err := d.layout.Provision(); err != nil {
		return report, err
	}
	tmpl, err := d.loadTemplate()
	if err != nil {
		return report, err
	}

	// The snapshot pins the resolved seed so the sweep can be replayed.
	pinned := *d.cfg
	pinned.Sweep.Seed = &d.base
	snapshot, err := pinned.Marshal()
	if err != nil {
		d.logger.Warn("failed to snapshot config", "error", err)
	}
	d.warnLedger(d.ledger.BeginSweep(context.WithoutCancel(ctx), store.SweepRecord{
		ID:        d.sweepID,
		Status:    store.SweepRunning,
		Config:    string(snapshot),
		StartedAt: start,
	}))
	d.logger.Info("sweep started",
		"sweep_id", d.sweepID,
		"combinations", len(d.combos),
		"runs", report.Total,
		"workers", d.cfg.Sweep.Workers,
		"seed", d.base,
		"simulator", d.sim != nil)
	d.events.Log("sweep_started", "", map[string]any{
		"combinations": len(d.combos),
		"runs":         report.Total,
		"workers":      d.cfg.Sweep.Workers,
		"seed":         d.base,
	})

	var t tally
	var runErr error
	for _, c := range d.combos {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if err := d.runCombination(ctx, c, tmpl, &t); err != nil {
			runErr = err
			break
		}
	}

	report.Succeeded = int(t.succeeded.Load())
	report.Skipped = int(t.skipped.Load())
	report.Failed = int(t.failed.Load())
	report.Elapsed = d.now().Sub(start)

	status := store.SweepComplete
	switch {
	case runErr == nil:
	case ctx.Err() != nil:
		status = store.SweepCancelled
	default:
		status = store.SweepFailed
	}
	d.warnLedger(d.ledger.EndSweep(context.WithoutCancel(ctx), d.sweepID, status, d.now()))

	d.events.Log("sweep_finished", "", map[string]any{
		"status":     string(status),
		"succeeded":  report.Succeeded,
		"skipped":    report.Skipped,
		"failed":     report.Failed,
		"elapsed_ms": report.Elapsed.Milliseconds(),
	})
	d.logger.Info("sweep finished",
		"sweep_id", d.sweepID,
		"status", status,
		"succeeded", report.Succeeded,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"elapsed", report.Elapsed.Round(time.Millisecond))

	return report, runErr
}

// runCombination fans out the repetitions of c and waits for all of them.
func (d *Driver) runCombination(ctx context.Context, c Combination, tmpl *Template, t *tally) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Sweep.Workers)

	for r := 0; r < d.cfg.Sweep.Repetitions; r++ {
		run := Run{Combination: c, Repetition: r}
		g.Go(func() error {
			// A sibling failed or the sweep was interrupted.
			if err := gctx.Err(); err != nil {
				return err
			}
			return d.execute(gctx, run, tmpl, t)
		})
	}
	return g.Wait()
}

func (d *Driver) execute(ctx context.Context, run Run, tmpl *Template, t *tally) error {
	id := run.ID()
	seed := DeriveSeed(d.base, id)
	logger := d.logger.With("run_id", id)
	// Ledger rows must land even after a sibling failure cancels ctx.
	lctx := context.WithoutCancel(ctx)

	rec := store.RunRecord{
		SweepID:         d.sweepID,
		RunID:           id,
		NodeDistance:    run.NodeDistance,
		SwapCouples:     run.SwapCouples,
		ShuffleDistance: run.ShuffleDistance,
		Repetition:      run.Repetition,
		Seed:            seed,
		TracePath:       d.layout.TracePath(run),
		StartedAt:       d.now(),
	}

	if d.cfg.Sweep.Resume {
		if path := d.artifact(run, tmpl); exists(path) {
			logger.Info("skipping completed run", "artifact", pathutil.RedactPath(path))
			if d.sim != nil && d.cfg.Simulator.Compress {
				rec.ArchivePath = path
			}
			d.warnLedger(d.ledger.RecordSkip(lctx, rec))
			d.events.Log("run_skipped", id, map[string]any{"artifact": path})
			t.skipped.Add(1)
			return nil
		}
	}

	logger.Info("running",
		"node_distance", run.NodeDistance,
		"swap_couples", run.SwapCouples,
		"shuffle_distance", run.ShuffleDistance,
		"repetition", run.Repetition)
	d.warnLedger(d.ledger.RecordStart(lctx, rec))
	d.events.Log("run_started", id, map[string]any{"seed": seed})

	err := d.perform(ctx, run, tmpl, &rec, logger)
	rec.FinishedAt = d.now()
	if err != nil {
		rec.Status = store.RunFailed
		rec.Error = err.Error()
		d.warnLedger(d.ledger.RecordFinish(lctx, rec))
		d.events.Log("run_failed", id, map[string]any{"error": err.Error()})
		logger.Error("run failed", "error", err)
		t.failed.Add(1)
		return fmt.Errorf("run %s: %w", id, err)
	}

	rec.Status = store.RunSucceeded
	d.warnLedger(d.ledger.RecordFinish(lctx, rec))
	d.events.Log("run_finished", id, map[string]any{
		"samples":     rec.Samples,
		"reshuffles":  rec.Reshuffles,
		"checksum":    rec.Checksum,
		"duration_ms": rec.FinishedAt.Sub(rec.StartedAt).Milliseconds(),
	})
	logger.Debug("run finished", "samples", rec.Samples, "reshuffles", rec.Reshuffles)
	t.succeeded.Add(1)
	return nil
}

// perform generates the trace, renders the config, runs the simulator and
// archives its log, filling in rec as it goes.
func (d *Driver) perform(ctx context.Context, run Run, tmpl *Template, rec *store.RunRecord, logger *slog.Logger) error {
	stats, err := mobility.ProduceTrace(rec.TracePath, run.Params(), d.cfg.GeneratorOptions(rec.Seed))
	if err != nil {
		return fmt.Errorf("generating trace: %w", err)
	}
	rec.Samples = stats.Samples
	rec.Reshuffles = stats.Reshuffles
	logger.Log(ctx, logging.LevelTrace, "trace written",
		"path", pathutil.RedactPath(rec.TracePath),
		"ticks", stats.Ticks,
		"samples", stats.Samples,
		"reshuffles", stats.Reshuffles)

	if tmpl == nil {
		return nil
	}
	configRel := d.layout.ConfigRel(run)
	rec.ConfigPath = d.layout.Path(configRel)
	if err := tmpl.WriteFile(rec.ConfigPath, run.TraceName()); err != nil {
		return err
	}

	if d.sim == nil {
		return nil
	}
	logRel := d.layout.LogRel(run)
	if err := d.sim.Run(ctx, configRel, logRel); err != nil {
		d.setAsideLog(d.layout.Path(logRel), logger)
		return err
	}
	if !d.cfg.Simulator.Compress {
		return nil
	}

	archived, err := archive.CompressFile(d.layout.Path(logRel))
	if err != nil {
		return fmt.Errorf("archiving simulator log: %w", err)
	}
	rec.ArchivePath = archived
	sum, err := archive.Checksum(archived)
	if err != nil {
		return fmt.Errorf("checksumming archive: %w", err)
	}
	rec.Checksum = sum
	return nil
}

// loadTemplate reads the simulator config template. Without a simulator a
// missing template only disables config rendering.
func (d *Driver) loadTemplate() (*Template, error) {
	path := d.cfg.Simulator.Template
	if !filepath.IsAbs(path) {
		path = d.layout.Path(path)
	}
	if d.sim == nil && !exists(path) {
		d.logger.Warn("simulator template not found, skipping configs", "template", pathutil.RedactPath(path))
		return nil, nil
	}
	return LoadTemplate(path, d.cfg.Simulator.Placeholder)
}

// artifact is the last file a run produces; its presence marks the run done.
func (d *Driver) artifact(run Run, tmpl *Template) string {
	switch {
	case d.sim == nil && tmpl == nil:
		return d.layout.TracePath(run)
	case d.sim == nil:
		return d.layout.Path(d.layout.ConfigRel(run))
	case d.cfg.Simulator.Compress:
		return archive.PathFor(d.layout.Path(d.layout.LogRel(run)))
	default:
		return d.layout.Path(d.layout.LogRel(run))
	}
}

// setAsideLog renames the log of a failed simulator run to path+".failed"
// so it is kept for inspection but never mistaken for a finished run.
func (d *Driver) setAsideLog(path string, logger *slog.Logger) {
	if !exists(path) {
		return
	}
	if err := os.Rename(path, path+failedExt); err != nil {
		logger.Warn("failed to set aside simulator log", "path", pathutil.RedactPath(path), "error", err)
	}
}

// warnLedger logs ledger failures. The ledger is bookkeeping; losing a row
// does not fail the run.
func (d *Driver) warnLedger(err error) {
	if err != nil {
		d.logger.Warn("ledger write failed", "error", err)
	}
}

// failedExt marks the log of a failed simulator run.
const failedExt = ".failed"

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
