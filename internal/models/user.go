// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import (
	"database/sql/driver"
	"fmt"
	"slices"
	"strings"
)

// Role is an authorization claim carried in access tokens.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// AuthProvider identifies where a user's identity originates.
type AuthProvider string

const (
	ProviderLocal    AuthProvider = "LOCAL"
	ProviderGoogle   AuthProvider = "GOOGLE"
	ProviderGitHub   AuthProvider = "GITHUB"
	ProviderFacebook AuthProvider = "FACEBOOK"
)

// ParseProvider maps a case-insensitive provider name to an AuthProvider.
func ParseProvider(name string) (AuthProvider, error) {
	p := AuthProvider(strings.ToUpper(strings.TrimSpace(name)))
	switch p {
	case ProviderLocal, ProviderGoogle, ProviderGitHub, ProviderFacebook:
		return p, nil
	}
	return "", fmt.Errorf("unknown auth provider %q", name)
}

// RoleSet is a set of roles stored as a comma-separated column.
type RoleSet []Role

// ParseRoles builds a normalized RoleSet from a comma-separated string.
func ParseRoles(s string) RoleSet {
	var roles RoleSet
	for part := range strings.SplitSeq(s, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part == "" || slices.Contains(roles, Role(part)) {
			continue
		}
		roles = append(roles, Role(part))
	}
	return roles
}

// Has reports whether the set contains role.
func (r RoleSet) Has(role Role) bool {
	return slices.Contains(r, role)
}

// Strings returns the roles as plain strings.
func (r RoleSet) Strings() []string {
	out := make([]string, len(r))
	for i, role := range r {
		out[i] = string(role)
	}
	return out
}

// String returns the comma-separated representation.
func (r RoleSet) String() string {
	return strings.Join(r.Strings(), ",")
}

// Value implements driver.Valuer.
func (r RoleSet) Value() (driver.Value, error) {
	return r.String(), nil
}

// Scan implements sql.Scanner.
func (r *RoleSet) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*r = nil
	case string:
		*r = ParseRoles(v)
	case []byte:
		*r = ParseRoles(string(v))
	default:
		return fmt.Errorf("models: cannot scan %T into RoleSet", src)
	}
	return nil
}

// User is a row of the credential store.
type User struct { //nolint:govet // fieldalignment: readability over optimization
	ID            int64        `db:"id" json:"id"`
	Email         string       `db:"email" json:"email"`
	PasswordHash  string       `db:"password_hash" json:"-"`
	FirstName     string       `db:"first_name" json:"first_name"`
	LastName      string       `db:"last_name" json:"last_name"`
	Phone         string       `db:"phone" json:"phone,omitempty"`
	Roles         RoleSet      `db:"roles" json:"roles"`
	Enabled       bool         `db:"enabled" json:"enabled"`
	EmailVerified bool         `db:"email_verified" json:"email_verified"`
	Provider      AuthProvider `db:"provider" json:"provider"`
	ProviderID    *string      `db:"provider_id" json:"-"`
	CreatedAt     EpochMillis  `db:"created_at" json:"created_at"`
	LastLoginAt   EpochMillis  `db:"last_login_at" json:"last_login_at,omitempty"`
}

// HasPassword reports whether the user can authenticate with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// IsLinked reports whether the user is federated with an external provider.
func (u *User) IsLinked() bool {
	return u.Provider != "" && u.Provider != ProviderLocal && u.ProviderID != nil
}
