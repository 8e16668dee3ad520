package app

import (
	"log/slog"
	"os"
)

// NewLogger returns the process logger. Production deployments log JSON;
// everything else gets text output. Every record carries the service name so
// api and worker logs stay distinguishable in a shared stream.
func NewLogger(cfg *Config) *slog.Logger {
	var handler slog.Handler
	if cfg != nil && cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{AddSource: true})
	}
	return slog.New(handler).With(slog.String("service", "sourcelane"))
}
