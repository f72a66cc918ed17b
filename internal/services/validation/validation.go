// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package validation decides whether a presented bearer token authenticates
// its holder. A token is accepted only when its signature verifies, its
// expiry has not passed and its ledger row is still valid.
package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"codeberg.org/oliverandrich/socialnet-auth/internal/auth"
	"codeberg.org/oliverandrich/socialnet-auth/internal/metrics"
	"codeberg.org/oliverandrich/socialnet-auth/internal/repository"
	"codeberg.org/oliverandrich/socialnet-auth/internal/services/ledger"
	"codeberg.org/oliverandrich/socialnet-auth/internal/services/token"
)

// Reason names why a token was rejected.
type Reason string

const (
	ReasonMalformed       Reason = "malformed"
	ReasonExpired         Reason = "expired"
	ReasonRevoked         Reason = "revoked"
	ReasonUserNotFound    Reason = "user_not_found"
	ReasonSubjectMismatch Reason = "subject_mismatch"
	ReasonDisabled        Reason = "account_disabled"
	ReasonInternal        Reason = "internal"
)

// RejectError is returned for every token that does not authenticate.
type RejectError struct {
	Reason Reason
	Err    error
}

func (e *RejectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token rejected (%s): %v", e.Reason, e.Err)
	}
	return "token rejected (" + string(e.Reason) + ")"
}

func (e *RejectError) Unwrap() error {
	return e.Err
}

// ReasonOf extracts the rejection reason of err, or ReasonInternal.
func ReasonOf(err error) Reason {
	var rej *RejectError
	if errors.As(err, &rej) {
		return rej.Reason
	}
	return ReasonInternal
}

func reject(reason Reason, err error) *RejectError {
	return &RejectError{Reason: reason, Err: err}
}

// Pipeline validates bearer tokens.
type Pipeline struct {
	issuer  *token.Issuer
	ledger  *ledger.Ledger
	repo    *repository.Repository
	metrics *metrics.Metrics
	touch   bool
	now     func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// WithMetrics counts validation outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithTouch records the last-used time of sessions that authenticate.
func WithTouch(enabled bool) Option {
	return func(p *Pipeline) {
		p.touch = enabled
	}
}

// New creates a Pipeline.
func New(issuer *token.Issuer, l *ledger.Ledger, repo *repository.Repository, opts ...Option) *Pipeline {
	p := &Pipeline{issuer: issuer, ledger: l, repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Validate returns the identity raw authenticates, or a *RejectError. It
// never returns any other error; failures of the store and panics resolve to
// ReasonInternal.
func (p *Pipeline) Validate(ctx context.Context, raw string) (id *auth.Identity, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("token_validation_panic", "panic", r)
			id, err = nil, reject(ReasonInternal, fmt.Errorf("panic: %v", r))
		}

		outcome := "authenticated"
		if err != nil {
			outcome = string(ReasonOf(err))
			slog.Debug("token_rejected", "reason", outcome, "error", err)
		}
		p.metrics.Validation(outcome)
	}()

	return p.validate(ctx, raw)
}

func (p *Pipeline) validate(ctx context.Context, raw string) (*auth.Identity, error) {
	claims, err := p.issuer.Parse(raw)
	switch {
	case errors.Is(err, token.ErrExpired):
		return nil, reject(ReasonExpired, err)
	case err != nil:
		return nil, reject(ReasonMalformed, err)
	}
	if claims.Kind != token.KindAccess {
		return nil, reject(ReasonMalformed, errors.New("not an access token"))
	}
	now := p.now()
	if claims.ExpiresAt.Time.Before(now) {
		return nil, reject(ReasonExpired, token.ErrExpired)
	}

	row, err := p.ledger.FindByToken(ctx, raw)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, reject(ReasonRevoked, err)
	}
	if err != nil {
		return nil, reject(ReasonInternal, err)
	}
	if !row.IsValid(now) {
		return nil, reject(ReasonRevoked, errors.New("session no longer valid"))
	}

	user, err := p.repo.GetUserByEmail(ctx, claims.Subject)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, reject(ReasonUserNotFound, err)
	}
	if err != nil {
		return nil, reject(ReasonInternal, err)
	}

	if user.Email != claims.Subject || user.ID != claims.UserID || row.UserID != user.ID {
		return nil, reject(ReasonSubjectMismatch, nil)
	}
	if !user.Enabled {
		return nil, reject(ReasonDisabled, nil)
	}

	if p.touch {
		p.ledger.TouchLastUsed(ctx, raw)
	}

	return &auth.Identity{
		UserID:    user.ID,
		Email:     user.Email,
		Roles:     user.Roles,
		SessionID: row.ID,
		Token:     raw,
	}, nil
}
