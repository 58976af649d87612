// Package logging provides leveled logging and sweep event tracing for cowtrace.
// It offers two complementary outputs:
//   - A leveled slog.Logger for stderr (progress and operational output)
//   - An EventLogger for structured JSONL sweep events (<results>/events.jsonl)
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LevelTrace is a custom slog level below Debug.
// At this level every generator reshuffle and simulator command line is logged.
const LevelTrace = slog.LevelDebug - 4

// EventsFile is the name of the JSONL event log inside the results directory.
const EventsFile = "events.jsonl"

// ParseLevel maps a string level name to a slog.Level.
// Supported values: "info", "debug", "trace" (case-insensitive).
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// ValidLevel reports whether s names a level ParseLevel understands.
// The empty string is valid and means info.
func ValidLevel(s string) bool {
	switch strings.ToLower(s) {
	case "", "info", "debug", "trace":
		return true
	}
	return false
}

// NewLogger creates a leveled slog.Logger writing to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Event is one line of the sweep event log.
type Event struct {
	Time    time.Time      `json:"time"`
	Kind    string         `json:"event"`
	SweepID string         `json:"sweep_id,omitempty"`
	RunID   string         `json:"run_id,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// EventLogger appends sweep events to a JSONL file.
// It is safe for concurrent use by sweep workers. A nil EventLogger is safe
// to use; all methods are no-ops on nil receiver.
type EventLogger struct {
	mu      sync.Mutex
	file    *os.File
	sweepID string
	nowFunc func() time.Time
}

// NewEventLogger creates an event logger writing to dir/events.jsonl.
// At "info" level it returns nil and no file is created.
// At "debug" or "trace" level the file is opened for append.
// Returns nil if the file cannot be opened.
func NewEventLogger(dir, level, sweepID string) *EventLogger {
	if ParseLevel(level) == slog.LevelInfo {
		return nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil
	}

	path := filepath.Join(dir, EventsFile)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil
	}

	return &EventLogger{file: f, sweepID: sweepID, nowFunc: time.Now}
}

// Log writes one event. fields is copied, never retained.
// Safe to call on nil receiver.
func (el *EventLogger) Log(kind, runID string, fields map[string]any) {
	if el == nil {
		return
	}

	ev := Event{Kind: kind, SweepID: el.sweepID, RunID: runID}
	if len(fields) > 0 {
		ev.Fields = make(map[string]any, len(fields))
		for k, v := range fields {
			ev.Fields[k] = v
		}
	}

	el.mu.Lock()
	defer el.mu.Unlock()

	if el.file == nil {
		return
	}
	ev.Time = el.nowFunc().UTC()

	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	data = append(data, '\n')
	_, _ = el.file.Write(data)
}

// Close closes the underlying file. Safe to call on nil receiver.
func (el *EventLogger) Close() {
	if el == nil {
		return
	}

	el.mu.Lock()
	defer el.mu.Unlock()

	if el.file != nil {
		el.file.Close()
		el.file = nil
	}
}
