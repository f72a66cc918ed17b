// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"codeberg.org/oliverandrich/socialnet-auth/internal/auth"
	"codeberg.org/oliverandrich/socialnet-auth/internal/models"
	"codeberg.org/oliverandrich/socialnet-auth/internal/services/validation"
)

// IdentityKey is the echo context key holding the *auth.Identity.
const IdentityKey = "identity"

// Validator resolves a bearer token to an identity.
type Validator interface {
	Validate(ctx context.Context, raw string) (*auth.Identity, error)
}

// BearerToken extracts the token of an "Authorization: Bearer" header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Authenticate runs the validation pipeline on every request that is not a
// public route. Requests without an Authorization header continue
// anonymously; a header that does not validate fails the request with 401.
func Authenticate(v Validator, public validation.PublicRoutes) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if public.Match(req.Method, req.URL.Path) {
				return next(c)
			}

			header := req.Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return next(c)
			}

			raw, ok := BearerToken(header)
			if !ok {
				return unauthorized(c)
			}
			id, err := v.Validate(req.Context(), raw)
			if err != nil {
				return unauthorized(c)
			}

			c.Set(IdentityKey, id)
			c.SetRequest(req.WithContext(auth.WithIdentity(req.Context(), id)))
			return next(c)
		}
	}
}

func unauthorized(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer error="invalid_token"`)
	return echo.NewHTTPError(http.StatusUnauthorized)
}

// RequireAuth rejects anonymous requests.
func RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !auth.IsAuthenticated(c.Request().Context()) {
			c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
			return echo.NewHTTPError(http.StatusUnauthorized)
		}
		return next(c)
	}
}

// RequireRole rejects requests whose identity lacks role.
func RequireRole(role models.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return RequireAuth(func(c echo.Context) error {
			if !auth.GetIdentity(c.Request().Context()).HasRole(role) {
				return echo.NewHTTPError(http.StatusForbidden)
			}
			return next(c)
		})
	}
}
