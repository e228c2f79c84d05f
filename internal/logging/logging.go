// Package logging configures the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Config selects the log level and output format.
type Config struct {
	Level  string `yaml:"level" json:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" json:"format" envconfig:"FORMAT"`
}

// DefaultConfig logs at info level in text format.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "text"}
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// New builds a logger writing to w. Text output goes through tint.
func New(cfg Config, w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.RFC3339,
		})), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}

// Setup installs a logger for cfg on stderr as the slog default.
func Setup(cfg Config) error {
	logger, err := New(cfg, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return nil
}

// Component returns the default logger tagged with a component field.
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}

// WithComponent tags logger with a component field.
func WithComponent(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		return Component(name)
	}
	return logger.With("component", name)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
