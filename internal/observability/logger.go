package observability

import (
	"io"
	"log/slog"

	"github.com/couchcryptid/mesh-timeseries-etl/internal/config"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
)

// NewLogger builds the service logger from LOG_LEVEL and LOG_FORMAT and
// installs it as the slog default.
func NewLogger(cfg *config.Config) *slog.Logger {
	return sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
}

// NewTextLogger builds a text logger for command-line tools that keep
// stdout for their results. Unknown levels fall back to info.
func NewTextLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
