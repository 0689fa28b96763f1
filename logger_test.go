package tegra

import (
	"context"
	"log/slog"
	"testing"
)

func TestLoggerDefaultsToNop(t *testing.T) {
	l := Logger()
	if l == nil {
		t.Fatal("Logger returned nil")
	}
	if l.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("default logger should be disabled at every level")
	}
}

func TestSetLoggerNilRestoresNop(t *testing.T) {
	custom := slog.Default()
	SetLogger(custom)
	if Logger() != custom {
		t.Fatal("SetLogger did not install the custom logger")
	}

	SetLogger(nil)
	if Logger().Enabled(context.Background(), slog.LevelError) {
		t.Fatal("nil SetLogger should restore the silent logger")
	}
}
