// Package nxlog provides structured logging for the database core,
// wrapping zerolog the same way the rest of this codebase's stack does:
// one global default logger plus per-database scoped child loggers that
// write to the database's own log file.
package nxlog

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors the handful of severities the core actually emits.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls how the global default logger is initialized.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Logger is the global default instance, used before any database has
// been opened and by code that has no per-database scope of its own.
var Logger zerolog.Logger

func init() {
	Init(Config{Level: InfoLevel, JSONOutput: false, Output: os.Stderr})
}

// Init (re)configures the global default logger.
func Init(cfg Config) {
	level := toZerolog(cfg.Level)
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).Level(level).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).Level(level).With().Timestamp().Logger()
	}
}

func toZerolog(l Level) zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// DatabaseLogger is a per-database scoped logger plus the open file it
// appends to, per the "{stem}_logs/{stem}.log" file layout contract.
type DatabaseLogger struct {
	zerolog.Logger
	file *os.File
}

// Open creates (or appends to) "{stem}_logs/{stem}.log" next to the
// database's base path and returns a component logger scoped to it.
func Open(stem string) (*DatabaseLogger, error) {
	dir := stem + "_logs"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, filepath.Base(stem)+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	child := zerolog.New(f).With().Timestamp().Str("db", filepath.Base(stem)).Logger()
	return &DatabaseLogger{Logger: child, file: f}, nil
}

// Close flushes and closes the underlying log file.
func (d *DatabaseLogger) Close() error {
	if d == nil || d.file == nil {
		return nil
	}
	return d.file.Close()
}

// WithComponent returns a child logger tagged with a component name,
// e.g. "compactor", "sweeper", "collection:users".
func (d *DatabaseLogger) WithComponent(component string) zerolog.Logger {
	return d.Logger.With().Str("component", component).Logger()
}
