// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	// Set global log level
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	// Configure output
	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output}
	}

	// Create logger with timestamp
	logger := zerolog.New(output).With().Timestamp().Logger()

	// Set as global logger
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ForRun returns a component logger tagged with a pipeline run.
func ForRun(component, runID, project string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Str("run_id", runID).
		Str("project", project).
		Logger()
}

// IsValidLevel reports whether level names a known log level.
func IsValidLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return true
	default:
		return false
	}
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Page progress (every 10 pages of a query)
//   - Request URLs
//
// Info: Normal operation events
//   - Task start/finish with record counts
//   - Fan-out progress (every 100 traces)
//   - Rows upserted per table
//
// Warn: Warning conditions that don't prevent operation
//   - Retry attempts with computed wait
//   - Skipped work (no traces, so no observations)
//   - Run ledger unavailable
//
// Error: Error conditions requiring attention
//   - Failed pages (after retries)
//   - Failed traces aborting a fan-out
//   - Failed runs
//
// Context Fields:
//   - run_id: Pipeline run id
//   - project: Langfuse project name
//   - entity: traces, scores or observations
//   - endpoint: API path
//   - page: Page number
//   - trace_id: Trace of an observation query
//   - attempt / max_attempts / wait: Retry state
//   - error_class: Error classification (client, server, rate_limit, network, decode)
