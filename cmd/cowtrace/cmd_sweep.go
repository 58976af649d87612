package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nvandessel/cowtrace/internal/config"
	"github.com/nvandessel/cowtrace/internal/logging"
	"github.com/nvandessel/cowtrace/internal/store"
	"github.com/nvandessel/cowtrace/internal/sweep"
)

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the parameter sweep",
		Long: `Generate a trace for every (node distance, swap couples, shuffle distance,
repetition) of the configured sweep, render a simulator config for it and
run the simulator. Simulator logs are gzipped into the results directory.

Repetitions of one combination run on up to --workers workers; the next
combination starts once all of them have finished. The first failure stops
the sweep. Interrupt with Ctrl-C and continue later with --resume.

Examples:
  cowtrace sweep                         # full sweep in the current directory
  cowtrace sweep --workers 8 --resume    # continue an interrupted sweep
  cowtrace sweep --trace-only --seed 1   # traces and configs only
  cowtrace sweep plan                    # list runs without executing`,
		RunE: runSweep,
	}

	cmd.PersistentFlags().String("root", "", "Sweep root directory (overrides config)")
	cmd.Flags().Int("workers", 0, "Concurrent repetitions per combination (overrides config)")
	cmd.Flags().Bool("trace-only", false, "Generate traces and configs without running the simulator")
	cmd.Flags().Bool("resume", false, "Skip runs whose output already exists")
	cmd.Flags().Int64("seed", 0, "Base seed for reproducible sweeps (overrides config; random when unset)")

	cmd.AddCommand(newSweepPlanCmd())

	return cmd
}

// loadSweepConfig loads the config and applies sweep flag overrides.
func loadSweepConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("root") {
		cfg.Layout.Root, _ = flags.GetString("root")
	}
	if flags.Changed("workers") {
		cfg.Sweep.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("resume") {
		cfg.Sweep.Resume, _ = flags.GetBool("resume")
	}
	if flags.Changed("seed") {
		seed, _ := flags.GetInt64("seed")
		cfg.Sweep.Seed = &seed
	}
	if flags.Changed("trace-only") {
		if traceOnly, _ := flags.GetBool("trace-only"); traceOnly {
			cfg.Simulator.Enabled = false
		}
	}
	return cfg, nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")

	cfg, err := loadSweepConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)
	layout := sweep.NewLayout(cfg.Layout)
	sweepID := uuid.NewString()

	var ledger store.Ledger = store.NopLedger{}
	if cfg.Ledger.Path != "" {
		path := cfg.Ledger.Path
		if !filepath.IsAbs(path) {
			path = layout.Path(path)
		}
		l, err := store.OpenLedger(path)
		if err != nil {
			return fmt.Errorf("failed to open run ledger: %w", err)
		}
		defer l.Close()
		ledger = l
	}

	var sim sweep.Simulator
	if cfg.Simulator.Enabled {
		sim = sweep.NewExecSimulator(cfg.Simulator, layout.Root)
	}

	events := logging.NewEventLogger(layout.Path(cfg.Layout.Results), cfg.Logging.Level, sweepID)
	defer events.Close()

	driver, err := sweep.NewDriver(cfg, sweep.DriverOptions{
		Simulator: sim,
		Ledger:    ledger,
		Logger:    logger,
		Events:    events,
		SweepID:   sweepID,
	})
	if err != nil {
		return err
	}

	ctx, cancel := withSignals(cmd.Context())
	defer cancel()

	report, runErr := driver.Run(ctx)

	if jsonOut {
		if err := json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
			"sweep_id":   report.SweepID,
			"base_seed":  report.BaseSeed,
			"total":      report.Total,
			"succeeded":  report.Succeeded,
			"skipped":    report.Skipped,
			"failed":     report.Failed,
			"elapsed_ms": report.Elapsed.Milliseconds(),
		}); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Sweep %s (seed %d): %d/%d succeeded, %d skipped, %d failed in %v\n",
			report.SweepID, report.BaseSeed, report.Succeeded, report.Total, report.Skipped, report.Failed,
			report.Elapsed.Round(time.Millisecond))
	}

	if runErr != nil {
		return fmt.Errorf("sweep %s: %w", report.SweepID, runErr)
	}
	return nil
}

func newSweepPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "List the runs of the sweep without executing them",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadSweepConfig(cmd)
			if err != nil {
				return err
			}
			driver, err := sweep.NewDriver(cfg, sweep.DriverOptions{})
			if err != nil {
				return err
			}
			layout := driver.Layout()
			runs := driver.Runs()

			type planEntry struct {
				ID     string `json:"id"`
				sweep.Run
				Period int    `json:"period"`
				Seed   int64  `json:"seed"`
				Trace  string `json:"trace"`
				Config string `json:"config"`
				Log    string `json:"log"`
			}
			entries := make([]planEntry, 0, len(runs))
			for _, r := range runs {
				entries = append(entries, planEntry{
					ID:     r.ID(),
					Run:    r,
					Period: r.Params().Period(),
					Seed:   sweep.DeriveSeed(driver.BaseSeed(), r.ID()),
					Trace:  layout.TracePath(r),
					Config: layout.ConfigRel(r),
					Log:    layout.LogRel(r),
				})
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(entries)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d combinations x %d repetitions = %d runs (workers: %d, seed: %d)\n",
				len(runs)/cfg.Sweep.Repetitions, cfg.Sweep.Repetitions, len(runs), cfg.Sweep.Workers, driver.BaseSeed())
			if cfg.Sweep.Seed == nil {
				fmt.Fprintln(out, "No seed configured: the base above is random; pass --seed to pin it.")
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "%-16s %6s %6s %6s %4s %7s\n", "ID", "ND", "NS", "DS", "REP", "PERIOD")
			for _, e := range entries {
				fmt.Fprintf(out, "%-16s %6d %6d %6d %4d %7d\n",
					e.ID, e.NodeDistance, e.SwapCouples, e.ShuffleDistance, e.Repetition, e.Period)
			}
			return nil
		},
	}
}
