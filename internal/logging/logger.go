// Package logging builds the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/abhinav118/avatar-stream-vibe/internal/config"
)

// New returns a logger configured from cfg. Unknown levels fall back to info.
func New(cfg config.LogConfig) zerolog.Logger {
	return newWithWriter(cfg, os.Stdout)
}

func newWithWriter(cfg config.LogConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Component tags every entry of the returned logger with the owning package.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
