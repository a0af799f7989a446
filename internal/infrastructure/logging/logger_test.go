package logging

import (
	"log/slog"
	"testing"

	"github.com/nerrad567/gray-audio-core/internal/infrastructure/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewReturnsUsableLogger(t *testing.T) {
	logger := New(config.LoggingConfig{
		Level:  "debug",
		Format: "text",
		Output: "stderr",
	}, "test")

	if logger == nil || logger.Logger == nil {
		t.Fatal("New() returned nil logger")
	}

	// Must not panic.
	logger.Debug("debug message", "key", "value")
	logger.Info("info message")
}

func TestWithAddsAttributes(t *testing.T) {
	logger := Default()
	child := logger.With("component", "test")

	if child == nil {
		t.Fatal("With() returned nil")
	}
	if child == logger {
		t.Error("With() should return a new logger")
	}
}
