package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/cowtrace/internal/store"
	"github.com/nvandessel/cowtrace/internal/sweep"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Query the run ledger",
		Long: `Query the SQLite ledger that records every sweep and run.

Examples:
  cowtrace runs list --status failed
  cowtrace runs list --sweep 3f2c... --limit 20
  cowtrace runs sweeps`,
	}

	cmd.PersistentFlags().String("root", "", "Sweep root directory (overrides config)")

	cmd.AddCommand(
		newRunsListCmd(),
		newRunsSweepsCmd(),
	)

	return cmd
}

// openExistingLedger opens the configured ledger without creating one.
func openExistingLedger(cmd *cobra.Command) (*store.SQLiteLedger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("root") {
		cfg.Layout.Root, _ = cmd.Flags().GetString("root")
	}
	if cfg.Ledger.Path == "" {
		return nil, errors.New("run ledger is disabled (ledger.path is empty)")
	}

	path := cfg.Ledger.Path
	if !filepath.IsAbs(path) {
		path = sweep.NewLayout(cfg.Layout).Path(path)
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no run ledger at %s; run a sweep first", path)
		}
		return nil, fmt.Errorf("failed to stat run ledger: %w", err)
	}

	l, err := store.OpenLedger(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run ledger: %w", err)
	}
	return l, nil
}

func newRunsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			sweepID, _ := cmd.Flags().GetString("sweep")
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")

			if status != "" && !store.RunStatus(status).Valid() {
				return fmt.Errorf("invalid status %q (valid: running, succeeded, failed, skipped)", status)
			}

			ledger, err := openExistingLedger(cmd)
			if err != nil {
				return err
			}
			defer ledger.Close()

			runs, err := ledger.ListRuns(cmd.Context(), store.RunFilter{
				SweepID: sweepID,
				Status:  store.RunStatus(status),
				Limit:   limit,
			})
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}

			if jsonOut {
				if runs == nil {
					runs = []store.RunRecord{}
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(runs)
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}
			fmt.Fprintf(out, "%-16s %-10s %-8s %-20s %s\n", "RUN", "STATUS", "SWEEP", "STARTED", "DURATION")
			for _, r := range runs {
				fmt.Fprintf(out, "%-16s %-10s %-8s %-20s %s\n",
					r.RunID, r.Status, shortID(r.SweepID),
					r.StartedAt.Local().Format(time.DateTime), runDuration(r))
				if r.Error != "" {
					fmt.Fprintf(out, "    error: %s\n", r.Error)
				}
			}
			return nil
		},
	}

	cmd.Flags().String("sweep", "", "Only runs of this sweep")
	cmd.Flags().String("status", "", "Only runs with this status (running, succeeded, failed, skipped)")
	cmd.Flags().Int("limit", 50, "Maximum number of runs (0 for all)")

	return cmd
}

func newRunsSweepsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweeps",
		Short: "List recorded sweeps with run counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			limit, _ := cmd.Flags().GetInt("limit")

			ledger, err := openExistingLedger(cmd)
			if err != nil {
				return err
			}
			defer ledger.Close()

			ctx := cmd.Context()
			sweeps, err := ledger.ListSweeps(ctx, limit)
			if err != nil {
				return fmt.Errorf("failed to list sweeps: %w", err)
			}

			type sweepEntry struct {
				store.SweepRecord
				Counts store.SweepCounts `json:"counts"`
			}
			entries := make([]sweepEntry, 0, len(sweeps))
			for _, s := range sweeps {
				counts, err := ledger.SweepSummary(ctx, s.ID)
				if err != nil {
					return fmt.Errorf("failed to summarize sweep %s: %w", s.ID, err)
				}
				s.Config = ""
				entries = append(entries, sweepEntry{SweepRecord: s, Counts: counts})
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(entries)
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No sweeps recorded.")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(out, "%s  %-9s  started %s\n", e.ID, e.Status, e.StartedAt.Local().Format(time.DateTime))
				fmt.Fprintf(out, "    %d runs: %d succeeded, %d failed, %d skipped, %d running\n",
					e.Counts.Total, e.Counts.Succeeded, e.Counts.Failed, e.Counts.Skipped, e.Counts.Running)
			}
			return nil
		},
	}

	cmd.Flags().Int("limit", 10, "Maximum number of sweeps (0 for all)")

	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func runDuration(r store.RunRecord) string {
	if r.FinishedAt.IsZero() {
		return "-"
	}
	return r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
}
