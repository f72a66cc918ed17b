// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Purge deletes ledger rows that can no longer authorize a request and
// passcodes past their expiry. Neither is needed for correctness.
func (a *App) Purge(ctx context.Context) error {
	sessions, sessErr := a.ledger.PurgeStale(ctx)
	codes, otpErr := a.otp.Purge(ctx)
	if err := errors.Join(sessErr, otpErr); err != nil {
		return err
	}
	if sessions > 0 || codes > 0 {
		slog.Info("janitor_purged", "sessions", sessions, "otps", codes)
	}
	return nil
}

// RunJanitor calls Purge every interval until ctx is done. A non-positive
// interval disables it.
func (a *App) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Purge(ctx); err != nil {
				slog.Error("janitor_failed", "error", err)
			}
		}
	}
}
