// Package logging builds the gateway's slog root. Every component logger
// hangs off the one returned here, so the component attribute and output
// shape are decided exactly once.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/healthpages/shellgate/internal/config"
)

// New returns the root logger for the configured level and format.
// Unrecognised values are rejected rather than silently defaulted so a typo
// in deployment config fails at startup.
func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	handler, err := newHandler(os.Stdout, cfg.Format, level)
	if err != nil {
		return nil, err
	}
	return slog.New(handler).With(slog.String("component", "shellgate")), nil
}

func parseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("logging: unsupported level %q", name)
}

func newHandler(w io.Writer, format string, level slog.Level) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(format) {
	case "json", "":
		return slog.NewJSONHandler(w, opts), nil
	case "text":
		return slog.NewTextHandler(w, opts), nil
	}
	return nil, fmt.Errorf("logging: unsupported format %q", format)
}
