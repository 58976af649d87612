// Package store records sweep runs in a SQLite ledger so that long sweeps can
// be audited and inspected after the fact.
package store

import (
	"context"
	"time"
)

// RunStatus is the lifecycle state of a single run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunSkipped   RunStatus = "skipped"
)

// Valid reports whether s is a known status. The empty status is not valid.
func (s RunStatus) Valid() bool {
	switch s {
	case RunRunning, RunSucceeded, RunFailed, RunSkipped:
		return true
	}
	return false
}

// SweepStatus is the lifecycle state of a sweep.
type SweepStatus string

const (
	SweepRunning   SweepStatus = "running"
	SweepComplete  SweepStatus = "complete"
	SweepFailed    SweepStatus = "failed"
	SweepCancelled SweepStatus = "cancelled"
)

// SweepRecord is one row of the sweeps table.
type SweepRecord struct {
	ID         string      `json:"id"`
	Status     SweepStatus `json:"status"`
	Config     string      `json:"config,omitempty"` // YAML snapshot
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at,omitzero"`
}

// RunRecord is one row of the runs table.
type RunRecord struct {
	SweepID         string    `json:"sweep_id"`
	RunID           string    `json:"run_id"`
	NodeDistance    int       `json:"node_distance"`
	SwapCouples     int       `json:"swap_couples"`
	ShuffleDistance int       `json:"shuffle_distance"`
	Repetition      int       `json:"repetition"`
	Seed            int64     `json:"seed"`
	Status          RunStatus `json:"status"`
	TracePath       string    `json:"trace_path,omitempty"`
	ConfigPath      string    `json:"config_path,omitempty"`
	ArchivePath     string    `json:"archive_path,omitempty"`
	Checksum        string    `json:"checksum,omitempty"`
	Samples         int       `json:"samples"`
	Reshuffles      int       `json:"reshuffles"`
	Error           string    `json:"error,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at,omitzero"`
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	SweepID string
	Status  RunStatus
	Limit   int
}

// SweepCounts tallies a sweep's runs by status.
type SweepCounts struct {
	SweepID   string `json:"sweep_id"`
	Total     int    `json:"total"`
	Running   int    `json:"running"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
}

// Ledger persists sweep and run records.
type Ledger interface {
	// BeginSweep records a new sweep in the running state.
	BeginSweep(ctx context.Context, sweep SweepRecord) error

	// EndSweep sets a sweep's final status and finish time.
	EndSweep(ctx context.Context, id string, status SweepStatus, finishedAt time.Time) error

	// RecordStart marks a run as running. Recording the same run again
	// overwrites the earlier attempt.
	RecordStart(ctx context.Context, run RunRecord) error

	// RecordFinish stores a run's outcome. run.Status must be succeeded or failed.
	RecordFinish(ctx context.Context, run RunRecord) error

	// RecordSkip records a run that was not executed because its output
	// already exists.
	RecordSkip(ctx context.Context, run RunRecord) error

	// ListRuns returns runs matching filter, most recent first.
	ListRuns(ctx context.Context, filter RunFilter) ([]RunRecord, error)

	// ListSweeps returns up to limit sweeps, most recent first. limit <= 0 means all.
	ListSweeps(ctx context.Context, limit int) ([]SweepRecord, error)

	// SweepSummary counts the runs of one sweep by status.
	SweepSummary(ctx context.Context, sweepID string) (SweepCounts, error)

	// Close releases the underlying resources.
	Close() error
}

// NopLedger discards everything. It is used when the ledger is disabled.
type NopLedger struct{}

var _ Ledger = NopLedger{}

func (NopLedger) BeginSweep(context.Context, SweepRecord) error { return nil }

func (NopLedger) EndSweep(context.Context, string, SweepStatus, time.Time) error { return nil }

func (NopLedger) RecordStart(context.Context, RunRecord) error { return nil }

func (NopLedger) RecordFinish(context.Context, RunRecord) error { return nil }

func (NopLedger) RecordSkip(context.Context, RunRecord) error { return nil }

func (NopLedger) ListRuns(context.Context, RunFilter) ([]RunRecord, error) { return nil, nil }

func (NopLedger) ListSweeps(context.Context, int) ([]SweepRecord, error) { return nil, nil }

func (NopLedger) SweepSummary(_ context.Context, sweepID string) (SweepCounts, error) {
	return SweepCounts{SweepID: sweepID}, nil
}

func (NopLedger) Close() error { return nil }
