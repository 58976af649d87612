package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  slog.Level
	}{
		{"info", "info", slog.LevelInfo},
		{"debug", "debug", slog.LevelDebug},
		{"trace", "trace", LevelTrace},
		{"uppercase DEBUG", "DEBUG", slog.LevelDebug},
		{"mixed case Trace", "Trace", LevelTrace},
		{"unknown defaults to info", "verbose", slog.LevelInfo},
		{"empty defaults to info", "", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidLevel(t *testing.T) {
	for _, s := range []string{"", "info", "DEBUG", "trace"} {
		if !ValidLevel(s) {
			t.Errorf("ValidLevel(%q) = false, want true", s)
		}
	}
	for _, s := range []string{"warn", "verbose", "0"} {
		if ValidLevel(s) {
			t.Errorf("ValidLevel(%q) = true, want false", s)
		}
	}
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		name       string
		level      string
		logAtDebug bool
		logAtTrace bool
	}{
		{"info filters debug", "info", false, false},
		{"debug passes debug", "debug", true, false},
		{"trace passes everything", "trace", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(tt.level, &buf)

			logger.Debug("debug message")
			if got := strings.Contains(buf.String(), "debug message"); got != tt.logAtDebug {
				t.Errorf("debug message visible = %v, want %v (buf: %q)", got, tt.logAtDebug, buf.String())
			}

			buf.Reset()
			logger.Log(context.Background(), LevelTrace, "trace message")
			if got := strings.Contains(buf.String(), "trace message"); got != tt.logAtTrace {
				t.Errorf("trace message visible = %v, want %v (buf: %q)", got, tt.logAtTrace, buf.String())
			}
			if tt.logAtTrace && !strings.Contains(buf.String(), "level=TRACE") {
				t.Errorf("trace level not labelled: %q", buf.String())
			}
		})
	}
}

func TestNewEventLogger_InfoLevel(t *testing.T) {
	dir := t.TempDir()
	el := NewEventLogger(dir, "info", "sweep-1")
	if el != nil {
		t.Error("expected nil EventLogger at info level")
	}

	// nil logger is still usable
	el.Log("run_started", "8_0_10_0", nil)
	el.Close()

	if _, err := os.Stat(filepath.Join(dir, EventsFile)); err == nil {
		t.Errorf("%s should not exist at info level", EventsFile)
	}
}

func TestEventLogger_WritesJSONL(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "results")
	el := NewEventLogger(dir, "debug", "sweep-1")
	if el == nil {
		t.Fatal("expected EventLogger at debug level")
	}
	fixed := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	el.nowFunc = func() time.Time { return fixed }

	fields := map[string]any{"repetition": 3}
	el.Log("run_started", "8_0_10_3", fields)
	el.Log("run_finished", "8_0_10_3", nil)
	el.Close()

	fields["mutated"] = true // must not leak into the written event

	data, err := os.ReadFile(filepath.Join(dir, EventsFile))
	if err != nil {
		t.Fatalf("failed to read events: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), data)
	}

	var first Event
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("failed to parse event: %v", err)
	}
	if first.Kind != "run_started" || first.SweepID != "sweep-1" || first.RunID != "8_0_10_3" {
		t.Errorf("unexpected event: %+v", first)
	}
	if !first.Time.Equal(fixed) {
		t.Errorf("Time = %v, want %v", first.Time, fixed)
	}
	if first.Fields["repetition"] != float64(3) {
		t.Errorf("repetition = %v, want 3", first.Fields["repetition"])
	}
	if _, ok := first.Fields["mutated"]; ok {
		t.Error("caller map mutation leaked into event")
	}
}

func TestEventLogger_ConcurrentWriters(t *testing.T) {
	dir := t.TempDir()
	el := NewEventLogger(dir, "trace", "sweep-2")
	defer el.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				el.Log("tick", "", map[string]any{"worker": i, "n": j})
			}
		}(i)
	}
	wg.Wait()
	el.Close()

	data, err := os.ReadFile(filepath.Join(dir, EventsFile))
	if err != nil {
		t.Fatalf("failed to read events: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 200 {
		t.Fatalf("expected 200 lines, got %d", len(lines))
	}
	for i, line := range lines {
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", i, err)
		}
	}
}

func TestEventLogger_LogAfterClose(t *testing.T) {
	el := NewEventLogger(t.TempDir(), "debug", "")
	el.Close()
	el.Log("after_close", "", nil)
	el.Close()
}
