// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import (
	"fmt"
	"strings"
)

// OtpType is the action a one-time passcode gates.
type OtpType string

const (
	OtpRegistration      OtpType = "REGISTRATION"
	OtpPasswordReset     OtpType = "PASSWORD_RESET"
	OtpEmailVerification OtpType = "EMAIL_VERIFICATION"
)

// ParseOtpType maps a case-insensitive name to an OtpType.
func ParseOtpType(s string) (OtpType, error) {
	t := OtpType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case OtpRegistration, OtpPasswordReset, OtpEmailVerification:
		return t, nil
	}
	return "", fmt.Errorf("unknown otp type %q", s)
}

// OtpStatus is the lifecycle state of an Otp row.
type OtpStatus string

const (
	OtpPending  OtpStatus = "PENDING"
	OtpVerified OtpStatus = "VERIFIED"
	OtpExpired  OtpStatus = "EXPIRED"
)

// Otp stores a hashed one-time passcode for an (email, type) pair.
type Otp struct { //nolint:govet // fieldalignment: readability over optimization
	ID        int64       `db:"id" json:"id"`
	Email     string      `db:"email" json:"email"`
	CodeHash  string      `db:"code_hash" json:"-"` // SHA256 hash
	Type      OtpType     `db:"type" json:"type"`
	Status    OtpStatus   `db:"status" json:"status"`
	Attempts  int         `db:"attempts" json:"attempts"`
	ExpiresAt EpochMillis `db:"expires_at" json:"expires_at"`
	CreatedAt EpochMillis `db:"created_at" json:"created_at"`
}
