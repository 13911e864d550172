// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"fmt"
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

	// RunID is attached to every log line when set.
	RunID string
}

// DefaultConfig returns a default logger configuration.
// The CLI prints its own progress on stdout, so only warnings surface by default.
func DefaultConfig() Config {
	return Config{
		Level:  LevelWarn,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	var output io.Writer = cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.RunID != "" {
		ctx = ctx.Str("run_id", cfg.RunID)
	}
	logger := ctx.Logger()

	log.Logger = logger

	return logger
}

// ParseLevel validates a user-supplied level name.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return "", fmt.Errorf("unknown log level %q (want debug, info, warn or error)", s)
	}
}

// parseLevel converts LogLevel to zerolog.Level. Unknown levels fall back to info.
func parseLevel(level LogLevel) zerolog.Level {
	valid, err := ParseLevel(string(level))
	if err != nil {
		return zerolog.InfoLevel
	}
	switch valid {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: one line per API request and per page
//   - endpoint, params, status, duration
//   - pacer waits
//
// Info: per base and per table
//   - table written (records, comments)
//   - run summary
//
// Warn: conditions worth a look that do not stop the run
//   - skipped tables
//   - failure to write the metrics textfile
//
// Error: the terminal failure of a run
//
// Context Fields:
//   - component: airtable-client, pacer, paginator, walker, archive
//   - run_id: unique id of one backup run
//   - base_id, table_id, record_id
//   - endpoint: API path
//   - status_code: HTTP status code
//   - duration: request duration
//   - error_class: client, server, network
