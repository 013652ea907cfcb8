package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	logger     atomic.Pointer[slog.Logger]
	loggerOnce sync.Once
	level      = new(slog.LevelVar)
)

// current returns the installed logger, defaulting to a text handler on
// stderr. The level is shared through a LevelVar so SetLevel can be called
// at any time.
func current() *slog.Logger {
	loggerOnce.Do(func() {
		level.Set(slog.LevelInfo)
		logger.CompareAndSwap(nil, newLogger(os.Stderr))
	})
	return logger.Load()
}

func newLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// SetOutput redirects log output. Tests use it to silence or capture logs.
// It is safe to call while other goroutines are logging.
func SetOutput(w io.Writer) {
	current()
	logger.Store(newLogger(w))
}

func SetLevel(l Level) {
	current()
	level.Set(toSlog(l))
}

// ParseLevel accepts "debug", "info", "warn", "error" in any case.
// Unknown values map to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func Debug(msg string, kv ...any) {
	current().Debug(msg, kv...)
}

func Info(msg string, kv ...any) {
	current().Info(msg, kv...)
}

func Warn(msg string, kv ...any) {
	current().Warn(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	current().Error(msg, extended...)
}

func toSlog(l Level) slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
