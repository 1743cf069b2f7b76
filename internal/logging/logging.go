package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New builds the process logger. Production writes JSON, everything else
// writes text. level follows LOG_LEVEL naming ("debug", "info", "warn",
// "error"); unknown values fall back to info.
func New(environment, level string) *slog.Logger {
	return newLogger(os.Stderr, environment, level)
}

// Init installs New(...) as the slog default and returns it.
func Init(environment, level string) *slog.Logger {
	logger := New(environment, level)
	slog.SetDefault(logger)
	return logger
}

// Discard returns a logger that drops everything. Tests use it.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLogger(w io.Writer, environment, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if environment == "production" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps a LOG_LEVEL value to a slog level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "production", "prod":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
