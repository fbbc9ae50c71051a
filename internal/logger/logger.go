// Package logger configures the converter's structured logging: JSON for
// production runs, a phase-aware console format everywhere else.
//
// The conversion pipeline is a fixed sequence of stages - parse, derive,
// mux, finalize - and log records are tagged with the stage that produced
// them via Phase or WithPhase. The console handler lifts that tag out of the
// attribute list and renders it as a prefix, so a scrolling conversion log
// reads as a timeline of the pipeline.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// PhaseKey tags a record with the pipeline stage that produced it.
const PhaseKey = "phase"

// Pipeline stage names used across the converter.
const (
	PhaseParse    = "parse"
	PhaseDerive   = "derive"
	PhaseMux      = "mux"
	PhaseFinalize = "finalize"
)

// Phase builds the attribute the console handler recognizes as a stage tag.
func Phase(name string) slog.Attr {
	return slog.String(PhaseKey, name)
}

// Logger wraps slog.Logger with converter-specific helpers.
type Logger struct {
	*slog.Logger
}

// WithPhase returns a logger whose records all carry the given stage tag.
func (l *Logger) WithPhase(name string) *Logger {
	return &Logger{Logger: l.Logger.With(Phase(name))}
}

// Output formats.
const (
	formatJSON    = "json"
	formatConsole = "console"
)

// Config holds logger configuration.
type Config struct {
	Writer      io.Writer
	Format      string // "json" or "console"; empty picks by environment
	Environment string
	Level       slog.Level
}

// New creates a logger with the given configuration. Production defaults to
// JSON so log shippers get structured records; everything else gets the
// console format.
func New(cfg Config) *Logger {
	if cfg.Writer == nil {
		cfg.Writer = os.Stderr
	}

	format := cfg.Format
	if format == "" {
		if cfg.Environment == "production" {
			format = formatJSON
		} else {
			format = formatConsole
		}
	}

	var handler slog.Handler
	if format == formatJSON {
		handler = slog.NewJSONHandler(cfg.Writer, &slog.HandlerOptions{Level: cfg.Level})
	} else {
		handler = newConsoleHandler(cfg.Writer, cfg.Level)
	}

	return &Logger{Logger: slog.New(handler)}
}

var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ParseLevel converts a config string to a slog.Level, defaulting to Info.
func ParseLevel(level string) slog.Level {
	if lvl, ok := levelNames[strings.ToLower(level)]; ok {
		return lvl
	}
	return slog.LevelInfo
}
