// Package logging provides utilities for structured logging across the system.
//
// Design principles:
//   - Logging is dependency-injected, never global
//   - Each component owns its own scoped logger
//   - Logger scoping happens once at construction time
//   - slog.With() is used to attach default attributes
//   - If no logger is provided, a discard logger is used
//
// Global configuration (output format, level, destination) belongs only in main().
// Components must never call slog.SetDefault or access global loggers.
//
// Logging is intentionally sparse:
//   - No logging inside tight loops (tokenization, scanning, indexing inner loops)
//   - Lifecycle boundaries are the intended log points
package logging

import (
	"context"
	"io"
	"log/slog"
)

// discardHandler is a handler that discards all log records.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Discard returns a logger that discards all output.
// Use this as a default when no logger is provided.
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// Default returns the provided logger if non-nil, otherwise returns a discard logger.
// This is the standard pattern for optional logger parameters:
//
//	func NewComponent(logger *slog.Logger) *Component {
//	    logger = logging.Default(logger)
//	    return &Component{logger: logger.With("component", "name")}
//	}
func Default(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return Discard()
}

// levelColor maps a level to its ANSI escape prefix. No third-party
// colored-logging library appears anywhere in the example pack (the
// only ANSI-aware dependency retrieved is charmbracelet/lipgloss, a
// full TUI framework, not a fit for a headless daemon's log lines),
// so coloring is the handful of escape codes below, applied directly.
var levelColor = map[slog.Level]string{
	slog.LevelDebug: "\x1b[90m",
	slog.LevelInfo:  "\x1b[36m",
	slog.LevelWarn:  "\x1b[33m",
	slog.LevelError: "\x1b[31m",
}

const colorReset = "\x1b[0m"

// NewHandler builds the process-wide base handler for a composition
// root's main(), honoring spec.md §6's VERBOSE, LOG_ENABLE_TIMESTAMP,
// and LOG_ENABLE_COLORED_OUTPUT environment variables.
func NewHandler(w io.Writer, verbose, timestamps, colored bool) slog.Handler {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			if !timestamps && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			if colored && a.Key == slog.LevelKey {
				lvl, _ := a.Value.Any().(slog.Level)
				if c, ok := levelColor[lvl]; ok {
					a.Value = slog.StringValue(c + a.Value.String() + colorReset)
				}
			}
			return a
		},
	}
	return slog.NewTextHandler(w, opts)
}
