// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"codeberg.org/oliverandrich/socialnet-auth/internal/config"
)

// serviceName tags every record so aggregated logs can be told apart.
const serviceName = "socialnet-auth"

// setupLogger installs the process-wide slog logger.
func setupLogger(cfg config.LogConfig) {
	slog.SetDefault(newLogger(os.Stdout, cfg))
}

// newLogger builds a JSON or colored text logger. Unknown levels fall back
// to info.
func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(w, &tint.Options{Level: level, TimeFormat: time.DateTime})
	}

	return slog.New(handler).With("service", serviceName)
}
