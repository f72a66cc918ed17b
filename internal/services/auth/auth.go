// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package auth implements the password-based account flows: registration
// gated by a one-time passcode, login, logout and password recovery.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"codeberg.org/oliverandrich/socialnet-auth/internal/events"
	"codeberg.org/oliverandrich/socialnet-auth/internal/metrics"
	"codeberg.org/oliverandrich/socialnet-auth/internal/models"
	"codeberg.org/oliverandrich/socialnet-auth/internal/repository"
	"codeberg.org/oliverandrich/socialnet-auth/internal/services/ledger"
	"codeberg.org/oliverandrich/socialnet-auth/internal/services/otp"
	"codeberg.org/oliverandrich/socialnet-auth/internal/services/session"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountNotVerified = errors.New("account not verified")
	ErrAlreadyVerified    = errors.New("account already verified")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidEmail       = errors.New("invalid email format")
)

// OTPError reports a passcode that did not verify.
type OTPError struct {
	Result otp.Result
}

func (e *OTPError) Error() string {
	return "passcode rejected: " + strings.ToLower(string(e.Result.Status))
}

// dummyHash is used for constant-time login to prevent timing attacks
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), bcrypt.DefaultCost)

// Service runs the account flows.
type Service struct {
	repo      *repository.Repository
	otp       *otp.Engine
	ledger    *ledger.Ledger
	sessions  *session.Manager
	events    *events.Dispatcher
	metrics   *metrics.Metrics
	passwords *PasswordValidator
	cost      int
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics counts revoked sessions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithBcryptCost overrides the hashing cost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) {
		s.cost = cost
	}
}

// WithPasswordValidator replaces the password policy.
func WithPasswordValidator(v *PasswordValidator) Option {
	return func(s *Service) {
		s.passwords = v
	}
}

// NewService creates a Service.
func NewService(repo *repository.Repository, engine *otp.Engine, l *ledger.Ledger, sessions *session.Manager,
	dispatcher *events.Dispatcher, opts ...Option,
) *Service {
	s := &Service{
		repo:      repo,
		otp:       engine,
		ledger:    l,
		sessions:  sessions,
		events:    dispatcher,
		passwords: NewPasswordValidator(6),
		cost:      bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PasswordValidator returns the password policy.
func (s *Service) PasswordValidator() *PasswordValidator {
	return s.passwords
}

// NormalizeEmail lowercases and trims email and checks it is a bare address.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// RegisterParams holds the parameters for user registration.
type RegisterParams struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     string
}

// Registration is the outcome of Register: the account waits for its passcode.
type Registration struct {
	Email        string
	OTPExpiresAt time.Time
}

// Register creates a disabled local account and mails a registration
// passcode. Any existing account with the email is a conflict, pending ones
// included; ResendOTP mails a fresh passcode for those.
func (s *Service) Register(ctx context.Context, params RegisterParams) (*Registration, error) {
	email, err := NormalizeEmail(params.Email)
	if err != nil {
		return nil, err
	}
	if err := s.passwords.Validate(params.Password, email); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	_, err = s.repo.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		slog.Warn("register_failed", "email", email, "reason", "email_taken")
		return nil, ErrEmailTaken
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: string(hash),
		FirstName:    params.FirstName,
		LastName:     params.LastName,
		Phone:        params.Phone,
		Roles:        models.RoleSet{models.RoleUser},
		Provider:     models.ProviderLocal,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	dispatch, err := s.otp.Send(ctx, email, models.OtpRegistration)
	if err != nil {
		return nil, err
	}

	slog.Info("register_success", "email", email)
	return &Registration{Email: email, OTPExpiresAt: dispatch.ExpiresAt}, nil
}

// VerifyRegistration consumes the registration passcode, enables the account
// and opens the first session.
func (s *Service) VerifyRegistration(ctx context.Context, email, code string, device ledger.DeviceInfo) (*session.TokenPair, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}

	var (
		result otp.Result
		user   *models.User
	)
	err = s.repo.InTx(ctx, func(tx *repository.Repository) error {
		var err error
		result, err = s.otp.WithRepository(tx).Verify(ctx, email, code, models.OtpRegistration)
		if err != nil || !result.OK() {
			return err
		}
		if err := tx.EnableUser(ctx, email); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		user, err = tx.GetUserByEmail(ctx, email)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !result.OK() {
		return nil, &OTPError{Result: result}
	}

	slog.Info("registration_verified", "user_id", user.ID, "email", email)
	s.events.UserCreated(events.NewUserCreated(user))

	return s.sessions.Start(ctx, user, device, session.MethodOTP)
}

// ResendOTP sends a fresh passcode of typ to email.
func (s *Service) ResendOTP(ctx context.Context, email string, typ models.OtpType) (*otp.Dispatch, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	switch typ {
	case models.OtpRegistration:
		if user.Enabled {
			return nil, ErrAlreadyVerified
		}
	case models.OtpEmailVerification:
		if user.EmailVerified {
			return nil, ErrAlreadyVerified
		}
	case models.OtpPasswordReset:
		if !user.Enabled {
			return nil, ErrAccountNotVerified
		}
	}

	return s.otp.Send(ctx, email, typ)
}

// Login checks a password and opens a session. Unknown accounts, wrong
// passwords and accounts without a password are indistinguishable.
func (s *Service) Login(ctx context.Context, email, password string, device ledger.DeviceInfo) (*session.TokenPair, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			slog.Warn("login_failed", "email", email, "reason", "user_not_found")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if !user.HasPassword() {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		slog.Warn("login_failed", "email", email, "reason", "no_password")
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		slog.Warn("login_failed", "email", email, "reason", "invalid_password")
		return nil, ErrInvalidCredentials
	}
	if !user.Enabled {
		slog.Warn("login_failed", "email", email, "reason", "not_verified")
		return nil, ErrAccountNotVerified
	}

	pair, err := s.sessions.Start(ctx, user, device, session.MethodPassword)
	if err != nil {
		return nil, err
	}
	slog.Info("login_success", "user_id", user.ID, "email", email)
	return pair, nil
}

// Logout ends the session of accessToken.
func (s *Service) Logout(ctx context.Context, accessToken string) error {
	if err := s.ledger.Revoke(ctx, accessToken); err != nil {
		return err
	}
	s.metrics.SessionsRevoked("logout", 1)
	return nil
}

// LogoutAll ends every valid session of userID. Sessions opened while this
// runs may survive it.
func (s *Service) LogoutAll(ctx context.Context, userID int64) (int64, error) {
	n, err := s.ledger.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.metrics.SessionsRevoked("logout_all", n)
	slog.Info("logout_all", "user_id", userID, "revoked", n)
	return n, nil
}

// RevokeUserSessions ends every session of userID on behalf of an admin.
func (s *Service) RevokeUserSessions(ctx context.Context, userID int64) (int64, error) {
	if _, err := s.repo.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	n, err := s.ledger.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.metrics.SessionsRevoked("admin", n)
	slog.Info("admin_sessions_revoked", "user_id", userID, "revoked", n)
	return n, nil
}

// ListSessions returns the valid sessions of userID, newest first.
func (s *Service) ListSessions(ctx context.Context, userID int64) ([]models.Token, error) {
	return s.ledger.ListActive(ctx, userID)
}

// RevokeSession ends one session of userID.
func (s *Service) RevokeSession(ctx context.Context, userID, sessionID int64) error {
	if err := s.ledger.RevokeSession(ctx, userID, sessionID); err != nil {
		return err
	}
	s.metrics.SessionsRevoked("logout", 1)
	return nil
}

// ForgotPassword mails a reset passcode. Unknown and disabled accounts are
// silently ignored so the endpoint does not reveal which emails exist.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		slog.Info("password_reset_ignored", "email", email, "reason", "user_not_found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}
	if !user.Enabled {
		slog.Info("password_reset_ignored", "email", email, "reason", "not_verified")
		return nil
	}

	_, err = s.otp.Send(ctx, email, models.OtpPasswordReset)
	return err
}

// ResetPassword consumes a reset passcode, sets the new password and ends
// every session of the account, all in one transaction.
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	if err := s.passwords.Validate(newPassword, email); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	var (
		result  otp.Result
		revoked int64
		userID  int64
	)
	err = s.repo.InTx(ctx, func(tx *repository.Repository) error {
		var err error
		result, err = s.otp.WithRepository(tx).Verify(ctx, email, code, models.OtpPasswordReset)
		if err != nil || !result.OK() {
			return err
		}
		user, err := tx.GetUserByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		userID = user.ID
		if err := tx.UpdateUserPassword(ctx, user.ID, string(hash)); err != nil {
			return err
		}
		revoked, err = s.ledger.WithRepository(tx).RevokeAllForUser(ctx, user.ID)
		return err
	})
	if err != nil {
		return err
	}
	if !result.OK() {
		return &OTPError{Result: result}
	}

	s.metrics.SessionsRevoked("password_reset", revoked)
	slog.Info("password_reset_success", "user_id", userID, "revoked", revoked)
	return nil
}

// ChangePassword replaces the password of a signed-in user who knows the
// current one. Every session, including the caller's, ends.
func (s *Service) ChangePassword(ctx context.Context, userID int64, currentPassword, newPassword string) error {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}

	if !user.HasPassword() {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)); err != nil {
		return ErrInvalidCredentials
	}
	if err := s.passwords.Validate(newPassword, user.Email); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	var revoked int64
	err = s.repo.InTx(ctx, func(tx *repository.Repository) error {
		if err := tx.UpdateUserPassword(ctx, userID, string(hash)); err != nil {
			return err
		}
		var err error
		revoked, err = s.ledger.WithRepository(tx).RevokeAllForUser(ctx, userID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	s.metrics.SessionsRevoked("password_change", revoked)
	slog.Info("password_changed", "user_id", userID, "revoked", revoked)
	return nil
}

// EnsureAdmin ensures at least one admin exists, creating or promoting the
// account for email if needed.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) error {
	count, err := s.repo.CountUsersWithRole(ctx, models.RoleAdmin)
	if err != nil {
		return fmt.Errorf("failed to count admins: %w", err)
	}
	if count > 0 {
		return nil
	}

	email, err = NormalizeEmail(email)
	if err != nil {
		return err
	}

	existing, err := s.repo.GetUserByEmail(ctx, email)
	if err == nil {
		roles := append(existing.Roles, models.RoleAdmin)
		if err := s.repo.SetUserRoles(ctx, existing.ID, roles); err != nil {
			return fmt.Errorf("failed to set admin: %w", err)
		}
		if err := s.repo.EnableUser(ctx, email); err != nil {
			return fmt.Errorf("failed to enable admin: %w", err)
		}
		slog.Info("admin_promoted", "user_id", existing.ID, "email", email)
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed to get user: %w", err)
	}

	if err := s.passwords.Validate(password, email); err != nil {
		return fmt.Errorf("admin password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Email:         email,
		PasswordHash:  string(hash),
		FirstName:     "Admin",
		Roles:         models.RoleSet{models.RoleUser, models.RoleAdmin},
		Enabled:       true,
		EmailVerified: true,
		Provider:      models.ProviderLocal,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("failed to create admin: %w", err)
	}

	slog.Info("admin_created", "user_id", user.ID, "email", email)
	return nil
}
