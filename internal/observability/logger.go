package observability

import (
	"log/slog"
	"os"

	"github.com/overcastlabs/nam-zarr-etl/internal/config"
)

// NewLogger builds the process-wide slog logger from config. LOG_FORMAT picks
// the handler (json or text), LOG_LEVEL the threshold; unknown levels fall
// back to info rather than failing startup.
func NewLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
