// Package logging builds the service logger from configuration: output
// selection (stdout, stderr, or rotating file), JSON or pretty text format,
// and level filtering.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"github.com/praciller/listing-assistant/internal/config"
)

// NewLogger constructs a slog.Logger per the logging config. The returned
// closer is non-nil when the output is a rotating file and must be closed
// on shutdown.
func NewLogger(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	var out io.Writer
	var closer io.Closer

	switch cfg.Output {
	case "stdout", "":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		rw, err := NewRotatingWriter(cfg.Output, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
		if err != nil {
			return nil, nil, err
		}
		out = rw
		closer = rw
	}

	level := parseLevel(cfg.Level)

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = tint.NewHandler(out, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler), closer, nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
