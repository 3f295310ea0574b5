package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewTo(t *testing.T) {
	t.Run("JSON", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewTo(&buf, "info", "json")
		if err != nil {
			t.Fatalf("failed to create logger: %v", err)
		}

		logger.Debug("hidden")
		logger.Info("contract loaded", "contract", "ECON")

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 1 {
			t.Fatalf("expected 1 line above debug level, got %d: %q", len(lines), buf.String())
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
			t.Fatalf("failed to decode log line: %v", err)
		}
		if entry["msg"] != "contract loaded" || entry["contract"] != "ECON" {
			t.Errorf("unexpected entry: %v", entry)
		}
	})

	t.Run("Text", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewTo(&buf, "debug", "text")
		if err != nil {
			t.Fatalf("failed to create logger: %v", err)
		}
		logger.Debug("visible", "coupon", "T1_1")
		if !strings.Contains(buf.String(), "coupon=T1_1") {
			t.Errorf("expected text output, got %q", buf.String())
		}
	})

	t.Run("UnknownFormat", func(t *testing.T) {
		if _, err := NewTo(&bytes.Buffer{}, "info", "xml"); err == nil {
			t.Error("expected error for unknown format")
		}
	})

	t.Run("UnknownLevel", func(t *testing.T) {
		if _, err := NewTo(&bytes.Buffer{}, "loud", "json"); err == nil {
			t.Error("expected error for unknown level")
		}
	})
}
