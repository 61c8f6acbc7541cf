// Package logging provides structured logging setup using Go's standard library log/slog package.
//
// The logging package configures slog with logfmt format (human-readable key=value pairs)
// and maps string log levels (ERROR, WARNING, INFO, DEBUG) to slog levels.
// Log output of client-go, which uses klog, is routed into the same handler.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"k8s.io/klog/v2"
)

// NewLogger creates a new structured logger with the specified log level.
// Supported levels (case-insensitive): ERROR, WARNING, INFO, DEBUG.
// Invalid levels default to INFO. Uses logfmt format for output.
func NewLogger(level string) *slog.Logger {
	return NewLoggerWithWriter(os.Stdout, level)
}

// NewLoggerWithWriter is NewLogger writing to w.
func NewLoggerWithWriter(w io.Writer, level string) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: parseLogLevel(level),
	})

	return slog.New(handler)
}

// VerboseLevel maps the numeric verbosity of the configuration and the
// VERBOSE environment variable to a level name: 0 = WARNING, 1 = INFO,
// 2 = DEBUG.
func VerboseLevel(verbose int) string {
	switch {
	case verbose <= 0:
		return "WARNING"
	case verbose == 1:
		return "INFO"
	default:
		return "DEBUG"
	}
}

// RouteKlog sends klog output (client-go informers, leader election,
// event broadcaster) to the handler of logger.
func RouteKlog(logger *slog.Logger) {
	klog.SetLogger(logr.FromSlogHandler(logger.Handler()))
}

// parseLogLevel converts string log level to slog.Level.
// Returns slog.LevelInfo for invalid or empty levels (safe default).
func parseLogLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "ERROR":
		return slog.LevelError
	case "WARNING", "WARN":
		return slog.LevelWarn
	case "INFO":
		return slog.LevelInfo
	case "DEBUG":
		return slog.LevelDebug
	default:
		// Default to INFO for invalid or empty levels
		return slog.LevelInfo
	}
}
