// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePublicRoutes(t *testing.T) {
	routes, err := ParsePublicRoutes([]string{"post /api/auth/login", "* /health", "GET  /api/auth/oauth2/"})

	require.NoError(t, err)
	assert.Equal(t, PublicRoutes{
		{Method: "POST", Prefix: "/api/auth/login"},
		{Method: "*", Prefix: "/health"},
		{Method: "GET", Prefix: "/api/auth/oauth2/"},
	}, routes)
}

func TestParsePublicRoutes_Invalid(t *testing.T) {
	for _, entry := range []string{"/health", "FETCH /x", "GET health", "GET /a /b"} {
		_, err := ParsePublicRoutes([]string{entry})
		assert.Error(t, err, entry)
	}
}

func TestPublicRoutes_Match(t *testing.T) {
	routes := PublicRoutes{
		{Method: "POST", Prefix: "/api/auth/login"},
		{Method: "*", Prefix: "/health"},
		{Method: "GET", Prefix: "/api/auth/oauth2/"},
	}

	tests := []struct {
		method, path string
		want         bool
	}{
		{"POST", "/api/auth/login", true},
		{"GET", "/api/auth/login", false},
		{"POST", "/api/auth/logout", false},
		{"POST", "/api/auth/login-as-admin", false},
		{"GET", "/health", true},
		{"HEAD", "/health/live", true},
		{"GET", "/healthz", false},
		{"GET", "/api/auth/oauth2/authorize/google", true},
		{"GET", "/api/auth/oauth2", true},
		{"GET", "/api/auth/me", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, routes.Match(tt.method, tt.path), "%s %s", tt.method, tt.path)
	}
}
