// Package logger configures structured logging for gradekeeper.
//
// It wraps Go's standard log/slog. The configured *slog.Logger is returned
// to the caller and passed explicitly into the batch driver and handlers,
// so tests and library callers can supply their own.
//
// Supported levels: debug, info, warn, error. Supported formats: console
// (human-readable text) and json.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/gradekeeper/gradekeeper/config"
)

// New builds a logger writing to w. An empty level defaults to info, an
// empty format to console.
func New(w io.Writer, cfg config.LoggingConfig) (*slog.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "console", "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return slog.New(handler), nil
}

// NewStderr builds a logger writing to standard error.
func NewStderr(cfg config.LoggingConfig) (*slog.Logger, error) {
	return New(os.Stderr, cfg)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
