// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"codeberg.org/oliverandrich/socialnet-auth/internal/auth"
	"codeberg.org/oliverandrich/socialnet-auth/internal/i18n"
	"codeberg.org/oliverandrich/socialnet-auth/internal/middleware"
	"codeberg.org/oliverandrich/socialnet-auth/internal/models"
	"codeberg.org/oliverandrich/socialnet-auth/internal/repository"
	authsvc "codeberg.org/oliverandrich/socialnet-auth/internal/services/auth"
	"codeberg.org/oliverandrich/socialnet-auth/internal/services/validation"
)

// AuthHandlers exposes the account and session flows under /api/auth.
type AuthHandlers struct {
	auth     *authsvc.Service
	pipeline middleware.Validator
	repo     *repository.Repository
}

// NewAuth creates a new AuthHandlers instance.
func NewAuth(svc *authsvc.Service, pipeline middleware.Validator, repo *repository.Repository) *AuthHandlers {
	return &AuthHandlers{
		auth:     svc,
		pipeline: pipeline,
		repo:     repo,
	}
}

// RegisterRequest is the request body for registration.
type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

// OTPPendingResponse tells the client where the passcode went and until when it is valid.
type OTPPendingResponse struct {
	Email        string    `json:"email"`
	OTPExpiresAt time.Time `json:"otp_expires_at"`
}

// Register creates a disabled account and mails a registration code.
func (h *AuthHandlers) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return errInvalidRequest(err)
	}
	if req.Email == "" || req.Password == "" {
		return errInvalidRequest(nil)
	}

	reg, err := h.auth.Register(c.Request().Context(), authsvc.RegisterParams{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, OTPPendingResponse{Email: reg.Email, OTPExpiresAt: reg.OTPExpiresAt})
}

// VerifyRequest carries an email and the passcode mailed to it.
type VerifyRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// VerifyRegistration consumes the registration code and signs the user in.
func (h *AuthHandlers) VerifyRegistration(c echo.Context) error {
	var req VerifyRequest
	if err := c.Bind(&req); err != nil {
		return errInvalidRequest(err)
	}
	if req.Email == "" || req.OTP == "" {
		return errInvalidRequest(nil)
	}

	ctx := c.Request().Context()
	pair, err := h.auth.VerifyRegistration(ctx, req.Email, req.OTP, middleware.GetDevice(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pair)
}

// ResendRequest asks for a fresh passcode. Type defaults to REGISTRATION.
type ResendRequest struct {
	Email string `json:"email"`
	Type  string `json:"type"`
}

// ResendOTP replaces the pending passcode of an email.
func (h *AuthHandlers) ResendOTP(c echo.Context) error {
	var req ResendRequest
	if err := c.Bind(&req); err != nil {
		return errInvalidRequest(err)
	}
	if req.Email == "" {
		return errInvalidRequest(nil)
	}

	typ := models.OtpRegistration
	if req.Type != "" {
		parsed, err := models.ParseOtpType(req.Type)
		if err != nil {
			return errInvalidRequest(err)
		}
		typ = parsed
	}

	dispatch, err := h.auth.ResendOTP(c.Request().Context(), req.Email, typ)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, OTPPendingResponse{Email: dispatch.Email, OTPExpiresAt: dispatch.ExpiresAt})
}

// LoginRequest is the request body for password login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login checks the password and opens a session.
func (h *AuthHandlers) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return errInvalidRequest(err)
	}
	if req.Email == "" || req.Password == "" {
		return errInvalidRequest(nil)
	}

	ctx := c.Request().Context()
	pair, err := h.auth.Login(ctx, req.Email, req.Password, middleware.GetDevice(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pair)
}

// ValidateTokenRequest carries the token another service wants checked.
// The Authorization header is used when Token is empty.
type ValidateTokenRequest struct {
	Token string `json:"token"`
}

// ValidateTokenResponse is the verdict of the validation pipeline.
type ValidateTokenResponse struct {
	Valid     bool     `json:"valid"`
	UserID    int64    `json:"user_id,omitempty"`
	Email     string   `json:"email,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	SessionID int64    `json:"session_id,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// ValidateToken runs the validation pipeline for a caller that is not the
// token's holder. Every rejection, internal failures included, is answered
// with 200 and the reason.
func (h *AuthHandlers) ValidateToken(c echo.Context) error {
	var req ValidateTokenRequest
	if err := c.Bind(&req); err != nil {
		return errInvalidRequest(err)
	}
	if req.Token == "" {
		req.Token, _ = middleware.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
	}
	if req.Token == "" {
		return errInvalidRequest(nil)
	}

	id, err := h.pipeline.Validate(c.Request().Context(), req.Token)
	if err != nil {
		return c.JSON(http.StatusOK, ValidateTokenResponse{Valid: false, Reason: string(validation.ReasonOf(err))})
	}

	return c.JSON(http.StatusOK, ValidateTokenResponse{
		Valid:     true,
		UserID:    id.UserID,
		Email:     id.Email,
		Roles:     id.Roles.Strings(),
		SessionID: id.SessionID,
	})
}

// ForgotPasswordRequest names the account to reset.
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// MessageResponse is a translated confirmation.
type MessageResponse struct {
	Message string `json:"message"`
}

// ForgotPassword mails a reset code. The answer is the same whether or not
// the account exists.
func (h *AuthHandlers) ForgotPassword(c echo.Context) error {
	var req ForgotPasswordRequest
	if err := c.Bind(&req); err != nil {
		return errInvalidRequest(err)
	}
	if req.Email == "" {
		return errInvalidRequest(nil)
	}

	ctx := c.Request().Context()
	if err := h.auth.ForgotPassword(ctx, req.Email); err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, MessageResponse{Message: i18n.T(ctx, "password_reset_requested")})
}

// ResetPasswordRequest is the request body for completing a password reset.
type ResetPasswordRequest struct {
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"new_password"`
}

// ResetPassword sets a new password and ends every session of the account.
func (h *AuthHandlers) ResetPassword(c echo.Context) error {
	var req ResetPasswordRequest
	if err := c.Bind(&req); err != nil {
		return errInvalidRequest(err)
	}
	if req.Email == "" || req.OTP == "" || req.NewPassword == "" {
		return errInvalidRequest(nil)
	}

	ctx := c.Request().Context()
	if err := h.auth.ResetPassword(ctx, req.Email, req.OTP, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: i18n.T(ctx, "password_reset_success")})
}

// Logout revokes the presented token.
func (h *AuthHandlers) Logout(c echo.Context) error {
	id := auth.GetIdentity(c.Request().Context())
	if err := h.auth.Logout(c.Request().Context(), id.Token); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// RevokedResponse reports how many sessions were ended.
type RevokedResponse struct {
	Revoked int64 `json:"revoked"`
}

// LogoutAll revokes every session of the caller, including this one.
func (h *AuthHandlers) LogoutAll(c echo.Context) error {
	id := auth.GetIdentity(c.Request().Context())
	n, err := h.auth.LogoutAll(c.Request().Context(), id.UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, RevokedResponse{Revoked: n})
}

// ChangePasswordRequest is the request body for changing the password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword replaces the caller's password and signs out everywhere.
func (h *AuthHandlers) ChangePassword(c echo.Context) error {
	var req ChangePasswordRequest
	if err := c.Bind(&req); err != nil {
		return errInvalidRequest(err)
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		return errInvalidRequest(nil)
	}

	id := auth.GetIdentity(c.Request().Context())
	if err := h.auth.ChangePassword(c.Request().Context(), id.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// MeResponse is the caller's profile.
type MeResponse struct {
	*models.User
	SessionID int64 `json:"session_id"`
}

// Me returns the profile of the authenticated user.
func (h *AuthHandlers) Me(c echo.Context) error {
	id := auth.GetIdentity(c.Request().Context())
	user, err := h.repo.GetUserByID(c.Request().Context(), id.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return authsvc.ErrUserNotFound
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MeResponse{User: user, SessionID: id.SessionID})
}

// SessionResponse describes one active session.
type SessionResponse struct {
	models.Token
	Current bool `json:"current"`
}

// Sessions lists the caller's active sessions, newest first.
func (h *AuthHandlers) Sessions(c echo.Context) error {
	id := auth.GetIdentity(c.Request().Context())
	tokens, err := h.auth.ListSessions(c.Request().Context(), id.UserID)
	if err != nil {
		return err
	}

	sessions := make([]SessionResponse, len(tokens))
	for i, t := range tokens {
		sessions[i] = SessionResponse{Token: t, Current: t.ID == id.SessionID}
	}
	return c.JSON(http.StatusOK, sessions)
}

// RevokeSession ends one of the caller's sessions.
func (h *AuthHandlers) RevokeSession(c echo.Context) error {
	sessionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return errInvalidRequest(err)
	}

	id := auth.GetIdentity(c.Request().Context())
	if err := h.auth.RevokeSession(c.Request().Context(), id.UserID, sessionID); err != nil {
		return err
	}
	slog.Info("session_revoked", "user_id", id.UserID, "session_id", sessionID)
	return c.NoContent(http.StatusNoContent)
}
