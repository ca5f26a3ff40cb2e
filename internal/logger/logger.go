// Package logger provides structured logging for the workflow and its stages.
//
// It wraps Go's standard log/slog. All exported functions use the global
// DefaultLogger, which is initialized from the LOG_LEVEL environment variable
// and writes text records to stderr.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

var (
	// DefaultLogger is the global structured logger instance.
	// It is safe for concurrent use and initialized with slog.LevelInfo by default.
	DefaultLogger *slog.Logger

	output io.Writer = os.Stderr
	format           = "text"
)

func init() {
	DefaultLogger = newLogger(ParseLevel(os.Getenv("LOG_LEVEL")))
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(output, opts))
	}

	return slog.New(slog.NewTextHandler(output, opts))
}

// Configure replaces the global logger. Format is "text" or "json".
// This is not safe to call concurrently with logging; do it once at startup.
func Configure(w io.Writer, level slog.Level, logFormat string) {
	if w != nil {
		output = w
	}
	if logFormat != "" {
		format = strings.ToLower(logFormat)
	}
	DefaultLogger = newLogger(level)
}

// SetLevel changes the logging level for all subsequent log operations.
func SetLevel(level slog.Level) {
	DefaultLogger = newLogger(level)
}

// SetVerbose enables debug-level logging when verbose is true, otherwise sets info-level.
func SetVerbose(verbose bool) {
	if verbose {
		SetLevel(slog.LevelDebug)
	} else {
		SetLevel(slog.LevelInfo)
	}
}

// With returns a child of the global logger carrying the given attributes.
func With(args ...any) *slog.Logger {
	return DefaultLogger.With(args...)
}

// Info logs an informational message with structured key-value attributes.
func Info(msg string, args ...any) {
	DefaultLogger.Info(msg, args...)
}

// InfoContext logs an informational message with context and structured attributes.
func InfoContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.InfoContext(ctx, msg, args...)
}

// Debug logs a debug-level message with structured attributes.
func Debug(msg string, args ...any) {
	DefaultLogger.Debug(msg, args...)
}

// Warn logs a warning message with structured attributes.
func Warn(msg string, args ...any) {
	DefaultLogger.Warn(msg, args...)
}

// Error logs an error message with structured attributes.
func Error(msg string, args ...any) {
	DefaultLogger.Error(msg, args...)
}

// ErrorContext logs an error message with context and structured attributes.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.ErrorContext(ctx, msg, args...)
}
