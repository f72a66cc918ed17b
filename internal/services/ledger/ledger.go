// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package ledger keeps the durable record of issued access tokens that makes
// otherwise stateless JWTs revocable.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"codeberg.org/oliverandrich/socialnet-auth/internal/models"
	"codeberg.org/oliverandrich/socialnet-auth/internal/repository"
	"codeberg.org/oliverandrich/socialnet-auth/internal/services/token"
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrSessionExpiry = errors.New("token carries no usable expiry")
)

// DeviceInfo is best-effort metadata about the client that opened a session.
type DeviceInfo struct {
	UserAgent  string
	DeviceType string
	DeviceName string
	IPAddress  string
}

// ClaimsParser reads the claims of a token minted by this service.
type ClaimsParser interface {
	Parse(raw string) (*token.Claims, error)
}

// Ledger records, looks up and revokes sessions.
type Ledger struct {
	repo   *repository.Repository
	parser ClaimsParser
	now    func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// New creates a Ledger.
func New(repo *repository.Repository, parser ClaimsParser, opts ...Option) *Ledger {
	l := &Ledger{repo: repo, parser: parser, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WithRepository returns a copy of the ledger bound to repo, typically a transaction.
func (l *Ledger) WithRepository(repo *repository.Repository) *Ledger {
	cp := *l
	cp.repo = repo
	return &cp
}

// RecordSession stores a new valid session for accessToken. The row's expiry
// is taken from the token's own exp claim.
func (l *Ledger) RecordSession(ctx context.Context, user *models.User, accessToken string, device DeviceInfo) (*models.Token, error) {
	claims, err := l.parser.Parse(accessToken)
	if err != nil {
		return nil, fmt.Errorf("record session: %w", err)
	}
	expiresAt := claims.ExpiresAtMillis()
	if expiresAt.IsZero() {
		return nil, ErrSessionExpiry
	}

	row := &models.Token{
		Token:      accessToken,
		UserID:     user.ID,
		TokenType:  models.TokenTypeBearer,
		ExpiresAt:  expiresAt,
		UserAgent:  device.UserAgent,
		DeviceType: device.DeviceType,
		DeviceName: device.DeviceName,
		IPAddress:  device.IPAddress,
		CreatedAt:  models.Millis(l.now()),
	}
	if err := l.repo.CreateToken(ctx, row); err != nil {
		return nil, fmt.Errorf("record session: %w", err)
	}

	slog.Debug("session_recorded", "user_id", user.ID, "session_id", row.ID, "device_type", device.DeviceType)
	return row, nil
}

// FindByToken looks up the session holding accessToken.
func (l *Ledger) FindByToken(ctx context.Context, accessToken string) (*models.Token, error) {
	row, err := l.repo.GetToken(ctx, accessToken)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	return row, err
}

// Revoke deletes the session holding accessToken. Revoking an unknown token is
// not an error.
func (l *Ledger) Revoke(ctx context.Context, accessToken string) error {
	n, err := l.repo.DeleteToken(ctx, accessToken)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if n == 0 {
		slog.Warn("revoke_unknown_token")
	}
	return nil
}

// RevokeAllForUser deletes every currently valid session of the user and
// returns how many were removed. Sessions created concurrently may survive.
func (l *Ledger) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	n, err := l.repo.DeleteValidTokens(ctx, userID, l.now())
	if err != nil {
		return 0, fmt.Errorf("revoke all sessions: %w", err)
	}
	slog.Info("sessions_revoked", "user_id", userID, "count", n)
	return n, nil
}

// RevokeSession deletes one session of the user by its ID.
func (l *Ledger) RevokeSession(ctx context.Context, userID, sessionID int64) error {
	n, err := l.repo.DeleteUserToken(ctx, userID, sessionID)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActive returns the user's valid sessions, newest first.
func (l *Ledger) ListActive(ctx context.Context, userID int64) ([]models.Token, error) {
	return l.repo.ListValidTokens(ctx, userID, l.now())
}

// TouchLastUsed refreshes the session's last-used time. Failures are swallowed.
func (l *Ledger) TouchLastUsed(ctx context.Context, accessToken string) {
	if err := l.repo.TouchToken(ctx, accessToken, l.now()); err != nil {
		slog.Debug("touch_session_failed", "error", err)
	}
}

// PurgeStale removes rows that can never validate again.
func (l *Ledger) PurgeStale(ctx context.Context) (int64, error) {
	return l.repo.DeleteStaleTokens(ctx, l.now())
}
