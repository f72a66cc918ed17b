// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package otp issues and verifies the one-time passcodes that gate account
// activation and password resets.
package otp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"codeberg.org/oliverandrich/socialnet-auth/internal/config"
	"codeberg.org/oliverandrich/socialnet-auth/internal/metrics"
	"codeberg.org/oliverandrich/socialnet-auth/internal/models"
	"codeberg.org/oliverandrich/socialnet-auth/internal/repository"
)

// Status is the outcome of a verification.
type Status string

const (
	StatusVerified Status = "VERIFIED"
	StatusInvalid  Status = "INVALID"
	StatusExpired  Status = "EXPIRED"
)

// Result of Verify. MessageID names the translation of the user-facing message.
type Result struct {
	Status    Status
	MessageID string
}

// OK reports whether the result authorizes the gated action.
func (r Result) OK() bool {
	return r.Status == StatusVerified
}

// Dispatch describes a sent passcode. The code itself is never returned.
type Dispatch struct {
	Email     string
	Type      models.OtpType
	ExpiresAt time.Time
}

// Mailer delivers passcodes.
type Mailer interface {
	SendOTP(ctx context.Context, to, code string, purpose models.OtpType) error
}

// ErrDelivery wraps mailer failures.
var ErrDelivery = errors.New("passcode delivery failed")

// Engine sends and verifies passcodes.
type Engine struct {
	repo    *repository.Repository
	mailer  Mailer
	cfg     config.OTPConfig
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithMetrics records sends and verifications.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New creates an Engine.
func New(repo *repository.Repository, mailer Mailer, cfg config.OTPConfig, opts ...Option) *Engine {
	if cfg.Length == 0 {
		cfg.Length = 6
	}
	if cfg.TTL == 0 {
		cfg.TTL = 10 * time.Minute
	}
	e := &Engine{repo: repo, mailer: mailer, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithRepository returns a copy of the engine bound to repo. Verifying through
// a transaction-bound engine makes consuming the code atomic with whatever
// else the transaction changes.
func (e *Engine) WithRepository(repo *repository.Repository) *Engine {
	cp := *e
	cp.repo = repo
	return &cp
}

// TTL returns the validity window of new passcodes.
func (e *Engine) TTL() time.Duration {
	return e.cfg.TTL
}

// Send replaces any passcode for (email, typ) with a fresh one and mails it.
// A delivery failure fails the call.
func (e *Engine) Send(ctx context.Context, email string, typ models.OtpType) (*Dispatch, error) {
	code, err := GenerateCode(e.cfg.Length)
	if err != nil {
		return nil, err
	}

	now := e.now()
	expiresAt := now.Add(e.cfg.TTL)
	row := &models.Otp{
		Email:     email,
		CodeHash:  HashCode(code),
		Type:      typ,
		Status:    models.OtpPending,
		ExpiresAt: models.Millis(expiresAt),
		CreatedAt: models.Millis(now),
	}
	if err := e.repo.ReplaceOtp(ctx, row); err != nil {
		return nil, fmt.Errorf("store passcode: %w", err)
	}

	if err := e.mailer.SendOTP(ctx, email, code, typ); err != nil {
		slog.Error("otp_delivery_failed", "email", email, "type", typ, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrDelivery, err)
	}

	e.metrics.OTPSent(string(typ))
	slog.Info("otp_sent", "email", email, "type", typ, "expires_at", expiresAt)
	return &Dispatch{Email: email, Type: typ, ExpiresAt: expiresAt}, nil
}

// Verify checks code against the pending passcode for (email, typ). Only a
// VERIFIED result consumes the passcode; a terminal passcode never verifies again.
func (e *Engine) Verify(ctx context.Context, email, code string, typ models.OtpType) (Result, error) {
	result, err := e.verify(ctx, email, NormalizeCode(code), typ)
	if err != nil {
		return Result{}, err
	}
	e.metrics.OTPVerified(string(typ), string(result.Status))
	slog.Info("otp_verify", "email", email, "type", typ, "status", result.Status)
	return result, nil
}

func (e *Engine) verify(ctx context.Context, email, code string, typ models.OtpType) (Result, error) {
	row, err := e.repo.GetPendingOtp(ctx, email, typ)
	if errors.Is(err, repository.ErrNotFound) {
		return Result{Status: StatusInvalid, MessageID: "otp_not_found"}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load passcode: %w", err)
	}

	if row.ExpiresAt.Before(e.now()) {
		if _, err := e.repo.SetOtpStatus(ctx, row.ID, models.OtpExpired); err != nil {
			return Result{}, fmt.Errorf("expire passcode: %w", err)
		}
		return Result{Status: StatusExpired, MessageID: "otp_expired"}, nil
	}

	if !matches(row.CodeHash, code) {
		attempts, err := e.repo.IncrementOtpAttempts(ctx, row.ID)
		if err != nil {
			return Result{}, fmt.Errorf("count attempt: %w", err)
		}
		if e.cfg.MaxAttempts > 0 && attempts >= e.cfg.MaxAttempts {
			if _, err := e.repo.SetOtpStatus(ctx, row.ID, models.OtpExpired); err != nil {
				return Result{}, fmt.Errorf("burn passcode: %w", err)
			}
			return Result{Status: StatusInvalid, MessageID: "otp_attempts_exhausted"}, nil
		}
		return Result{Status: StatusInvalid, MessageID: "otp_invalid"}, nil
	}

	n, err := e.repo.SetOtpStatus(ctx, row.ID, models.OtpVerified)
	if err != nil {
		return Result{}, fmt.Errorf("consume passcode: %w", err)
	}
	if n == 0 {
		// consumed by a concurrent verifier
		return Result{Status: StatusInvalid, MessageID: "otp_not_found"}, nil
	}
	return Result{Status: StatusVerified, MessageID: "otp_verified"}, nil
}

// Purge removes terminal and expired passcodes.
func (e *Engine) Purge(ctx context.Context) (int64, error) {
	return e.repo.DeleteStaleOtps(ctx, e.now())
}
