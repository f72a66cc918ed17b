// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package auth provides the authenticated identity and its context helpers.
package auth

import (
	"context"

	"codeberg.org/oliverandrich/socialnet-auth/internal/ctxkeys"
	"codeberg.org/oliverandrich/socialnet-auth/internal/models"
)

// Identity is the verified caller of a request. Downstream services receive
// exactly this: who the caller is and which roles they hold.
type Identity struct {
	UserID    int64          `json:"user_id"`
	Email     string         `json:"email"`
	Roles     models.RoleSet `json:"roles"`
	SessionID int64          `json:"session_id"`
	Token     string         `json:"-"`
}

// HasRole reports whether the identity holds role.
func (i *Identity) HasRole(role models.Role) bool {
	return i != nil && i.Roles.Has(role)
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxkeys.Identity{}, id)
}

// GetIdentity returns the authenticated identity from the context, or nil if not authenticated.
func GetIdentity(ctx context.Context) *Identity {
	if id, ok := ctx.Value(ctxkeys.Identity{}).(*Identity); ok {
		return id
	}
	return nil
}

// IsAuthenticated returns true if the context has an authenticated identity.
func IsAuthenticated(ctx context.Context) bool {
	return GetIdentity(ctx) != nil
}
