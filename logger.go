package blockcache

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with cache-specific helpers.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// LogInit logs the construction of a cache behind a handle.
func (l *Logger) LogInit(capacity int64, err error) {
	if l == nil {
		return
	}
	if err != nil {
		l.Error("cache init failed",
			"capacity", capacity,
			"error", err,
		)
	} else {
		l.Debug("cache initialized",
			"capacity", capacity,
		)
	}
}

// LogReplace logs a swap of the reference slot.
// A capacity of -1 means the slot was empty on that side.
func (l *Logger) LogReplace(oldCapacity, newCapacity int64) {
	if l == nil {
		return
	}
	l.Debug("cache replaced",
		"old_capacity", oldCapacity,
		"new_capacity", newCapacity,
	)
}

// LogRelease logs the final release of a cache.
func (l *Logger) LogRelease(capacity, bytesFreed int64, err error) {
	if l == nil {
		return
	}
	if err != nil {
		l.Warn("cache release failed",
			"capacity", capacity,
			"error", err,
		)
	} else {
		l.Debug("cache released",
			"capacity", capacity,
			"bytes_freed", bytesFreed,
		)
	}
}
