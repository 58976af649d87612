package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// ErrInvalidRun is returned when a run record is missing required fields.
var ErrInvalidRun = errors.New("invalid run record")

// SQLiteLedger implements Ledger on a single SQLite database file.
type SQLiteLedger struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	nowFor func() time.Time
}

var _ Ledger = (*SQLiteLedger)(nil)

// OpenLedger opens or creates the ledger database at path, creating parent
// directories as needed.
func OpenLedger(path string) (*SQLiteLedger, error) {
	if path == "" {
		return nil, errors.New("ledger path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}

	return &SQLiteLedger{db: db, path: path, nowFor: time.Now}, nil
}

// Path returns the database file path.
func (l *SQLiteLedger) Path() string { return l.path }

// BeginSweep records a new sweep.
func (l *SQLiteLedger) BeginSweep(ctx context.Context, sweep SweepRecord) error {
	if sweep.ID == "" {
		return errors.New("sweep id is empty")
	}
	if sweep.Status == "" {
		sweep.Status = SweepRunning
	}
	if sweep.StartedAt.IsZero() {
		sweep.StartedAt = l.nowFor()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO sweeps (id, status, config, started_at)
		VALUES (?, ?, ?, ?)`,
		sweep.ID, string(sweep.Status), nullString(sweep.Config), formatTime(sweep.StartedAt))
	if err != nil {
		return fmt.Errorf("failed to record sweep %s: %w", sweep.ID, err)
	}
	return nil
}

// EndSweep sets the final status of a sweep.
func (l *SQLiteLedger) EndSweep(ctx context.Context, id string, status SweepStatus, finishedAt time.Time) error {
	if finishedAt.IsZero() {
		finishedAt = l.nowFor()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.db.ExecContext(ctx,
		`UPDATE sweeps SET status = ?, finished_at = ? WHERE id = ?`,
		string(status), formatTime(finishedAt), id)
	if err != nil {
		return fmt.Errorf("failed to finish sweep %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sweep %s not found", id)
	}
	return nil
}

// RecordStart marks run as running.
func (l *SQLiteLedger) RecordStart(ctx context.Context, run RunRecord) error {
	run.Status = RunRunning
	run.FinishedAt = time.Time{}
	return l.upsertRun(ctx, run)
}

// RecordFinish stores the outcome of run.
func (l *SQLiteLedger) RecordFinish(ctx context.Context, run RunRecord) error {
	if run.Status != RunSucceeded && run.Status != RunFailed {
		return fmt.Errorf("%w: finish status %q", ErrInvalidRun, run.Status)
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = l.nowFor()
	}
	return l.upsertRun(ctx, run)
}

// RecordSkip records a run skipped on resume.
func (l *SQLiteLedger) RecordSkip(ctx context.Context, run RunRecord) error {
	run.Status = RunSkipped
	now := l.nowFor()
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = now
	}
	return l.upsertRun(ctx, run)
}

func (l *SQLiteLedger) upsertRun(ctx context.Context, run RunRecord) error {
	if run.SweepID == "" || run.RunID == "" {
		return fmt.Errorf("%w: sweep and run ids are required", ErrInvalidRun)
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = l.nowFor()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO runs (
			sweep_id, run_id, node_distance, swap_couples, shuffle_distance, repetition, seed,
			status, trace_path, config_path, archive_path, checksum, samples, reshuffles, error,
			started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sweep_id, run_id) DO UPDATE SET
			seed = excluded.seed,
			status = excluded.status,
			trace_path = COALESCE(excluded.trace_path, runs.trace_path),
			config_path = COALESCE(excluded.config_path, runs.config_path),
			archive_path = excluded.archive_path,
			checksum = excluded.checksum,
			samples = excluded.samples,
			reshuffles = excluded.reshuffles,
			error = excluded.error,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at`,
		run.SweepID, run.RunID, run.NodeDistance, run.SwapCouples, run.ShuffleDistance, run.Repetition, run.Seed,
		string(run.Status), nullString(run.TracePath), nullString(run.ConfigPath),
		nullString(run.ArchivePath), nullString(run.Checksum), run.Samples, run.Reshuffles,
		nullString(run.Error), formatTime(run.StartedAt), nullTime(run.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to record run %s/%s: %w", run.SweepID, run.RunID, err)
	}
	return nil
}

// ListRuns returns the runs matching filter, most recently started first.
func (l *SQLiteLedger) ListRuns(ctx context.Context, filter RunFilter) ([]RunRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var whereClauses []string
	var args []any
	if filter.SweepID != "" {
		whereClauses = append(whereClauses, "sweep_id = ?")
		args = append(args, filter.SweepID)
	}
	if filter.Status != "" {
		whereClauses = append(whereClauses, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `
		SELECT sweep_id, run_id, node_distance, swap_couples, shuffle_distance, repetition, seed,
			status, trace_path, config_path, archive_path, checksum, samples, reshuffles, error,
			started_at, finished_at
		FROM runs`
	if len(whereClauses) > 0 {
		query += " WHERE " + strings.Join(whereClauses, " AND ")
	}
	query += " ORDER BY started_at DESC, run_id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			r                                         RunRecord
			status                                    string
			tracePath, configPath, archivePath, check sql.NullString
			runErr, finishedAt                        sql.NullString
			startedAt                                 string
		)
		if err := rows.Scan(&r.SweepID, &r.RunID, &r.NodeDistance, &r.SwapCouples, &r.ShuffleDistance,
			&r.Repetition, &r.Seed, &status, &tracePath, &configPath, &archivePath, &check,
			&r.Samples, &r.Reshuffles, &runErr, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Status = RunStatus(status)
		r.TracePath = tracePath.String
		r.ConfigPath = configPath.String
		r.ArchivePath = archivePath.String
		r.Checksum = check.String
		r.Error = runErr.String
		r.StartedAt = parseTime(startedAt)
		r.FinishedAt = parseTime(finishedAt.String)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// ListSweeps returns up to limit sweeps, most recent first.
func (l *SQLiteLedger) ListSweeps(ctx context.Context, limit int) ([]SweepRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	query := `SELECT id, status, config, started_at, finished_at FROM sweeps ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sweeps: %w", err)
	}
	defer rows.Close()

	var sweeps []SweepRecord
	for rows.Next() {
		var (
			s                  SweepRecord
			status, startedAt  string
			config, finishedAt sql.NullString
		)
		if err := rows.Scan(&s.ID, &status, &config, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sweep: %w", err)
		}
		s.Status = SweepStatus(status)
		s.Config = config.String
		s.StartedAt = parseTime(startedAt)
		s.FinishedAt = parseTime(finishedAt.String)
		sweeps = append(sweeps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sweeps: %w", err)
	}
	return sweeps, nil
}

// SweepSummary counts the runs of sweepID by status.
func (l *SQLiteLedger) SweepSummary(ctx context.Context, sweepID string) (SweepCounts, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	counts := SweepCounts{SweepID: sweepID}
	rows, err := l.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM runs WHERE sweep_id = ? GROUP BY status`, sweepID)
	if err != nil {
		return counts, fmt.Errorf("failed to summarize sweep %s: %w", sweepID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return counts, fmt.Errorf("failed to scan summary: %w", err)
		}
		counts.Total += n
		switch RunStatus(status) {
		case RunRunning:
			counts.Running = n
		case RunSucceeded:
			counts.Succeeded = n
		case RunFailed:
			counts.Failed = n
		case RunSkipped:
			counts.Skipped = n
		}
	}
	return counts, rows.Err()
}

// Close closes the database.
func (l *SQLiteLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Close()
}

// timeLayout is fixed width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return nullString(formatTime(t))
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
