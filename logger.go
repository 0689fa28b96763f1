package tegra

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/tegra/bufcache"
	"github.com/gogpu/tegra/engine"
	"github.com/gogpu/tegra/pusher"
	"github.com/gogpu/tegra/querycache"
	"github.com/gogpu/tegra/texcache"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely, making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	l := newNopLogger()
	loggerPtr.Store(l)
}

// SetLogger configures the logger for tegra and all its sub-packages.
// By default, tegra produces no log output. Call SetLogger to enable logging.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by tegra:
//   - [slog.LevelDebug]: internal diagnostics (method traces, cache state)
//   - [slog.LevelWarn]: non-fatal issues (unmapped addresses, unhandled
//     methods, host resource errors)
//
// Example:
//
//	// Enable warn-level logging to stderr:
//	tegra.SetLogger(slog.Default())
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	engine.SetLogger(l)
	pusher.SetLogger(l)
	bufcache.SetLogger(l)
	texcache.SetLogger(l)
	querycache.SetLogger(l)
}

// Logger returns the current logger. Never returns nil; when logging is
// disabled, returns a logger that discards everything.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
