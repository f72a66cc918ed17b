// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"codeberg.org/oliverandrich/socialnet-auth/internal/i18n"
	authsvc "codeberg.org/oliverandrich/socialnet-auth/internal/services/auth"
	"codeberg.org/oliverandrich/socialnet-auth/internal/services/federation"
	"codeberg.org/oliverandrich/socialnet-auth/internal/services/ledger"
	"codeberg.org/oliverandrich/socialnet-auth/internal/services/otp"
)

// APIError is an error with a fixed HTTP status and a translated message.
type APIError struct {
	Status    int
	Code      string
	MessageID string
	Details   []string
	Err       error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func newAPIError(status int, code string) *APIError {
	return &APIError{Status: status, Code: code, MessageID: "error_" + code}
}

func errInvalidRequest(err error) *APIError {
	e := newAPIError(http.StatusBadRequest, "invalid_request")
	e.Err = err
	return e
}

var statusCodes = map[int]string{
	http.StatusBadRequest:            "invalid_request",
	http.StatusUnauthorized:          "unauthorized",
	http.StatusForbidden:             "forbidden",
	http.StatusNotFound:              "not_found",
	http.StatusMethodNotAllowed:      "method_not_allowed",
	http.StatusRequestEntityTooLarge: "payload_too_large",
	http.StatusTooManyRequests:       "rate_limited",
}

// toAPIError maps service errors to their HTTP representation. Errors it
// does not know become a generic 500.
func toAPIError(err error) *APIError {
	var (
		apiErr  *APIError
		httpErr *echo.HTTPError
		otpErr  *authsvc.OTPError
		pwErr   *authsvc.PasswordValidationError
	)

	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.As(err, &httpErr):
		code, ok := statusCodes[httpErr.Code]
		if !ok {
			return &APIError{Status: http.StatusInternalServerError, Code: "internal", MessageID: "error_internal", Err: err}
		}
		return &APIError{Status: httpErr.Code, Code: code, MessageID: "error_" + code, Err: err}
	case errors.Is(err, authsvc.ErrInvalidCredentials), errors.Is(err, authsvc.ErrAccountNotVerified):
		// disabled accounts get the same answer as a wrong password
		return &APIError{Status: http.StatusUnauthorized, Code: "invalid_credentials", MessageID: "error_invalid_credentials", Err: err}
	case errors.As(err, &otpErr):
		return &APIError{
			Status:    http.StatusBadRequest,
			Code:      "otp_" + strings.ToLower(string(otpErr.Result.Status)),
			MessageID: otpErr.Result.MessageID,
			Err:       err,
		}
	case errors.As(err, &pwErr):
		e := newAPIError(http.StatusUnprocessableEntity, "weak_password")
		e.Details = pwErr.Messages()
		e.Err = err
		return e
	case errors.Is(err, authsvc.ErrEmailTaken):
		return wrap(http.StatusConflict, "email_taken", err)
	case errors.Is(err, authsvc.ErrAlreadyVerified):
		return wrap(http.StatusConflict, "already_verified", err)
	case errors.Is(err, authsvc.ErrInvalidEmail):
		return wrap(http.StatusBadRequest, "invalid_email", err)
	case errors.Is(err, authsvc.ErrUserNotFound):
		return wrap(http.StatusNotFound, "user_not_found", err)
	case errors.Is(err, ledger.ErrNotFound):
		return wrap(http.StatusNotFound, "session_not_found", err)
	case errors.Is(err, otp.ErrDelivery):
		return wrap(http.StatusServiceUnavailable, "mail_failed", err)
	case errors.Is(err, federation.ErrUnsupportedProvider):
		return wrap(http.StatusNotFound, "provider_unavailable", err)
	case errors.Is(err, federation.ErrInvalidState):
		return wrap(http.StatusBadRequest, "invalid_state", err)
	case errors.Is(err, federation.ErrUnverifiedEmail):
		return wrap(http.StatusForbidden, "email_unverified", err)
	case errors.Is(err, federation.ErrExchange), errors.Is(err, federation.ErrMissingAttribute):
		return wrap(http.StatusBadGateway, "oauth_failed", err)
	}
	return &APIError{Status: http.StatusInternalServerError, Code: "internal", MessageID: "error_internal", Err: err}
}

func wrap(status int, code string, err error) *APIError {
	e := newAPIError(status, code)
	e.Err = err
	return e
}

// ErrorHandler renders every error returned by a handler or middleware as
// an ErrorResponse in the request's language.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	apiErr := toAPIError(err)
	if apiErr.Status >= http.StatusInternalServerError {
		slog.Error("request_failed",
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"status", apiErr.Status,
			"error", err)
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(apiErr.Status)
		return
	}

	_ = c.JSON(apiErr.Status, ErrorResponse{
		Error:   apiErr.Code,
		Message: i18n.T(c.Request().Context(), apiErr.MessageID),
		Details: apiErr.Details,
	})
}
