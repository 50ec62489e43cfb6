package app

import (
	"log/slog"
	"os"
)

// NewLogger returns the process logger. Production defaults to JSON with
// source locations; any other environment gets a plain text handler unless
// LOG_FORMAT forces json.
func NewLogger(cfg *Config) *slog.Logger {
	if cfg != nil && (cfg.LogFormat == "json" || cfg.IsProduction()) {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}
