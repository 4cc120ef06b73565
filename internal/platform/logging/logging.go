// Package logging builds the process logger from the environment.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/animus-labs/pipestack/internal/platform/env"
)

type Config struct {
	Level  slog.Level
	Format string
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{Format: strings.ToLower(env.String("PIPESTACK_LOG_FORMAT", "text"))}
	if err := cfg.Level.UnmarshalText([]byte(env.String("PIPESTACK_LOG_LEVEL", "info"))); err != nil {
		return Config{}, fmt.Errorf("PIPESTACK_LOG_LEVEL: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Format {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("PIPESTACK_LOG_FORMAT must be text or json, got %q", c.Format)
	}
}

func New(cfg Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// OrDiscard returns logger, or one that drops everything when it is nil.
func OrDiscard(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
