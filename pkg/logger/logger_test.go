package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name        string
		config      *Config
		expectError bool
	}{
		{"default", DefaultConfig(), false},
		{"debug", DebugConfig(), false},
		{"production", ProductionConfig(), false},
		{"bad level", &Config{Level: "verbose", Format: TextFormat, Output: StderrOutput}, true},
		{"bad format", &Config{Level: InfoLevel, Format: "xml", Output: StderrOutput}, true},
		{"file without path", &Config{Level: InfoLevel, Format: TextFormat, Output: FileOutput}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectError && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestDerivedLoggersKeepFields(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(&Config{Level: DebugLevel, Format: JSONFormat, Output: StdoutOutput}, &buf)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	log.WithComponent("reconciler").
		WithFields(Fields{"item_id": "abc"}).
		WithError(errors.New("boom")).
		Info("payment failed")

	var line map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if line["component"] != "reconciler" {
		t.Errorf("expected component field, got %v", line["component"])
	}
	if line["item_id"] != "abc" {
		t.Errorf("expected item_id field, got %v", line["item_id"])
	}
	if line["error"] != "boom" {
		t.Errorf("expected error field, got %v", line["error"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(&Config{Level: WarnLevel, Format: TextFormat, Output: StdoutOutput}, &buf)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("visible")

	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("expected debug/info to be filtered, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("expected warn to be written, got %q", buf.String())
	}
}

func TestProgressTracker(t *testing.T) {
	var buf bytes.Buffer
	log, _ := NewWithWriter(DefaultConfig(), &buf)

	tracker := NewProgressTracker(ProgressConfig{Operation: "batch", Total: 3, Logger: log})
	tracker.Increment(false)
	tracker.Increment(true)

	stats := tracker.GetStats()
	if stats.Current != 2 || stats.Failed != 1 {
		t.Errorf("expected 2 processed and 1 failed, got %d/%d", stats.Current, stats.Failed)
	}
	if stats.Percentage < 66 || stats.Percentage > 67 {
		t.Errorf("expected ~66.7%% complete, got %.2f", stats.Percentage)
	}

	tracker.Complete()
	if !strings.Contains(buf.String(), "Operation completed") {
		t.Errorf("expected completion log, got %q", buf.String())
	}
}

func TestTimedOperation(t *testing.T) {
	var buf bytes.Buffer
	log, _ := NewWithWriter(DefaultConfig(), &buf)

	if err := TimedOperation("migrate up", log, func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "Operation completed successfully") || !strings.Contains(buf.String(), "duration=") {
		t.Errorf("expected completion log with duration, got %q", buf.String())
	}

	buf.Reset()
	boom := errors.New("boom")
	if err := TimedOperation("migrate down", log, func() error { return boom }); err != boom {
		t.Errorf("expected the operation error to be returned, got %v", err)
	}
	if !strings.Contains(buf.String(), "Operation failed") {
		t.Errorf("expected failure log, got %q", buf.String())
	}
}
