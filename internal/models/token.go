// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import "time"

// TokenType is the scheme a ledger token is presented with.
type TokenType string

const TokenTypeBearer TokenType = "BEARER"

// Token is a ledger row recording one issued access token (one device session).
type Token struct { //nolint:govet // fieldalignment: readability over optimization
	ID         int64       `db:"id" json:"id"`
	Token      string      `db:"token" json:"-"`
	UserID     int64       `db:"user_id" json:"user_id"`
	TokenType  TokenType   `db:"token_type" json:"token_type"`
	Expired    bool        `db:"expired" json:"expired"`
	Revoked    bool        `db:"revoked" json:"revoked"`
	ExpiresAt  EpochMillis `db:"expires_at" json:"expires_at"`
	UserAgent  string      `db:"user_agent" json:"user_agent"`
	DeviceType string      `db:"device_type" json:"device_type"`
	DeviceName string      `db:"device_name" json:"device_name"`
	IPAddress  string      `db:"ip_address" json:"ip_address"`
	LastUsedAt EpochMillis `db:"last_used_at" json:"last_used_at,omitempty"`
	CreatedAt  EpochMillis `db:"created_at" json:"created_at"`
}

// IsValid reports whether the row still authorizes requests at now.
func (t *Token) IsValid(now time.Time) bool {
	return !t.Expired && !t.Revoked && int64(t.ExpiresAt) > now.UnixMilli()
}
