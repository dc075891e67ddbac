package terrain

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/terrain/cull"
	gpu "github.com/gogpu/terrain/internal/gpu"
	"github.com/gogpu/terrain/pool"
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

// SetLogger configures the logger for terrain and all its sub-packages.
// By default the engine produces no log output.
//
// Log levels used:
//   - [slog.LevelDebug]: per-allocation and per-dispatch diagnostics
//   - [slog.LevelInfo]: lifecycle events (adapter selected, workers started)
//   - [slog.LevelWarn]: non-fatal degradation (CPU culling fallback, load
//     failures, memory pressure)
//
// Pass nil to disable logging (restore default silent behavior).
// SetLogger is safe for concurrent use.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
	pool.SetLogger(l)
	cull.SetLogger(l)
	gpu.SetLogger(l)
}

// Logger returns the current logger. Sub-systems constructed by the
// engine share this logger.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
