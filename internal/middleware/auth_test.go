// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/oliverandrich/socialnet-auth/internal/auth"
	"codeberg.org/oliverandrich/socialnet-auth/internal/middleware"
	"codeberg.org/oliverandrich/socialnet-auth/internal/models"
	"codeberg.org/oliverandrich/socialnet-auth/internal/services/validation"
)

type stubValidator struct {
	identities map[string]*auth.Identity
	calls      int
}

func (s *stubValidator) Validate(_ context.Context, raw string) (*auth.Identity, error) {
	s.calls++
	if id, ok := s.identities[raw]; ok {
		return id, nil
	}
	return nil, errors.New("rejected")
}

func newAuthEcho(t *testing.T, v middleware.Validator) *echo.Echo {
	t.Helper()
	public, err := validation.ParsePublicRoutes([]string{"POST /api/auth/login", "GET /health"})
	require.NoError(t, err)

	e := echo.New()
	e.Use(middleware.Authenticate(v, public))
	whoami := func(c echo.Context) error {
		id := auth.GetIdentity(c.Request().Context())
		if id == nil {
			return c.String(http.StatusOK, "anonymous")
		}
		return c.String(http.StatusOK, id.Email)
	}
	e.POST("/api/auth/login", whoami)
	e.GET("/health", whoami)
	e.GET("/api/me", whoami, middleware.RequireAuth)
	e.GET("/api/open", whoami)
	e.GET("/api/admin", whoami, middleware.RequireRole(models.RoleAdmin))
	return e
}

func serve(e *echo.Echo, method, path, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if authorization != "" {
		req.Header.Set(echo.HeaderAuthorization, authorization)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"  Bearer   abc  ", "abc", true},
		{"Basic abc", "", false},
		{"Bearer", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			token, ok := middleware.BearerToken(tt.header)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.token, token)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	v := &stubValidator{identities: map[string]*auth.Identity{
		"good":  {UserID: 1, Email: "alice@example.com", Roles: models.RoleSet{models.RoleUser}},
		"admin": {UserID: 2, Email: "root@example.com", Roles: models.RoleSet{models.RoleUser, models.RoleAdmin}},
	}}
	e := newAuthEcho(t, v)

	t.Run("public route skips validation even with a bad token", func(t *testing.T) {
		v.calls = 0
		rec := serve(e, http.MethodPost, "/api/auth/login", "Bearer garbage")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "anonymous", rec.Body.String())
		assert.Zero(t, v.calls)
	})

	t.Run("no header continues anonymously", func(t *testing.T) {
		rec := serve(e, http.MethodGet, "/api/open", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "anonymous", rec.Body.String())
	})

	t.Run("valid token sets identity", func(t *testing.T) {
		rec := serve(e, http.MethodGet, "/api/me", "Bearer good")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "alice@example.com", rec.Body.String())
	})

	t.Run("rejected token fails closed", func(t *testing.T) {
		rec := serve(e, http.MethodGet, "/api/open", "Bearer nope")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, `Bearer error="invalid_token"`, rec.Header().Get(echo.HeaderWWWAuthenticate))
	})

	t.Run("wrong scheme fails closed", func(t *testing.T) {
		rec := serve(e, http.MethodGet, "/api/open", "Basic Zm9vOmJhcg==")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("require auth rejects anonymous", func(t *testing.T) {
		rec := serve(e, http.MethodGet, "/api/me", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("require role", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, serve(e, http.MethodGet, "/api/admin", "Bearer good").Code)
		assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/api/admin", "Bearer admin").Code)
		assert.Equal(t, http.StatusUnauthorized, serve(e, http.MethodGet, "/api/admin", "").Code)
	})
}
