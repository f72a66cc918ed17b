// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package session opens authenticated sessions: it mints the token pair and
// records the access token in the ledger. Password, passcode and OAuth logins
// all end here.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"codeberg.org/oliverandrich/socialnet-auth/internal/metrics"
	"codeberg.org/oliverandrich/socialnet-auth/internal/models"
	"codeberg.org/oliverandrich/socialnet-auth/internal/repository"
	"codeberg.org/oliverandrich/socialnet-auth/internal/services/ledger"
	"codeberg.org/oliverandrich/socialnet-auth/internal/services/token"
)

// Method names how a session was opened.
type Method string

const (
	MethodPassword Method = "password"
	MethodOTP      Method = "otp"
	MethodOAuth    Method = "oauth2"
)

// TokenPair is handed to the client after a successful login.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	SessionID    int64  `json:"session_id"`
}

// Manager issues and records sessions.
type Manager struct {
	issuer  *token.Issuer
	ledger  *ledger.Ledger
	repo    *repository.Repository
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for last-login stamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithMetrics counts issued sessions.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// NewManager creates a Manager.
func NewManager(issuer *token.Issuer, l *ledger.Ledger, repo *repository.Repository, opts ...Option) *Manager {
	m := &Manager{issuer: issuer, ledger: l, repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start mints an access and refresh token for user and records the access
// token as a new device session.
func (m *Manager) Start(ctx context.Context, user *models.User, device ledger.DeviceInfo, method Method) (*TokenPair, error) {
	access, err := m.issuer.IssueAccessToken(user)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := m.issuer.IssueRefreshToken(user)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	row, err := m.ledger.RecordSession(ctx, user, access, device)
	if err != nil {
		return nil, err
	}

	if err := m.repo.TouchLastLogin(ctx, user.ID, m.now()); err != nil {
		slog.Warn("last_login_update_failed", "user_id", user.ID, "error", err)
	}

	m.metrics.SessionIssued(string(method))
	slog.Info("session_started", "user_id", user.ID, "session_id", row.ID, "method", method,
		"device_type", device.DeviceType, "ip", device.IPAddress)

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(m.issuer.AccessTTL() / time.Second),
		SessionID:    row.ID,
	}, nil
}
