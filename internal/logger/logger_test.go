package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewFormats(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Level: "INFO", Format: "json", Output: &buf}).Info("hello", "collection", "users")
	if !strings.Contains(buf.String(), `"collection":"users"`) {
		t.Errorf("json output = %s", buf.String())
	}

	buf.Reset()
	New(Config{Level: "INFO", Format: "text", Output: &buf}).Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug record should be filtered at INFO, got %s", buf.String())
	}

	buf.Reset()
	New(Config{Level: "DEBUG", Format: "tint", Output: &buf}).Debug("statement", "sql", "SELECT 1")
	out := buf.String()
	if !strings.Contains(out, "statement") || !strings.Contains(out, "SELECT 1") {
		t.Errorf("tint output = %s", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("tint output to a buffer should not be coloured: %q", out)
	}
}

func TestGetReturnsLogger(t *testing.T) {
	if Get() == nil {
		t.Fatal("Get should never return nil")
	}
	Discard().Error("dropped")
}
