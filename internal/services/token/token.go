// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package token mints and parses the HS256 access and refresh tokens.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"codeberg.org/oliverandrich/socialnet-auth/internal/config"
	"codeberg.org/oliverandrich/socialnet-auth/internal/models"
)

var (
	// ErrMalformed covers bad signatures, wrong algorithms and missing claims.
	ErrMalformed = errors.New("malformed token")
	// ErrExpired is returned when the exp claim lies before now.
	ErrExpired = errors.New("token expired")
)

// Kind distinguishes access from refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Claims are the JWT claims minted by the Issuer.
type Claims struct {
	UserID int64    `json:"uid,omitempty"`
	Roles  []string `json:"roles,omitempty"`
	Kind   Kind     `json:"typ"`
	jwt.RegisteredClaims
}

// ExpiresAtMillis returns the exp claim as epoch milliseconds.
func (c *Claims) ExpiresAtMillis() models.EpochMillis {
	if c.ExpiresAt == nil {
		return 0
	}
	return models.Millis(c.ExpiresAt.Time)
}

// Issuer signs and verifies tokens with a fixed secret and fixed lifetimes.
type Issuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	parser     *jwt.Parser
	now        func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

// NewIssuer validates cfg and returns an Issuer. An error here means the
// process must not start.
func NewIssuer(cfg config.JWTConfig, opts ...Option) (*Issuer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("token issuer: %w", err)
	}

	i := &Issuer{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		// exp is checked against our own clock in Parse
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// AccessTTL returns the lifetime of access tokens.
func (i *Issuer) AccessTTL() time.Duration {
	return i.accessTTL
}

// IssueAccessToken mints an access token carrying the user's identity and roles.
func (i *Issuer) IssueAccessToken(user *models.User) (string, error) {
	claims := i.registered(user, i.accessTTL)
	return i.sign(&Claims{
		UserID:           user.ID,
		Roles:            user.Roles.Strings(),
		Kind:             KindAccess,
		RegisteredClaims: claims,
	})
}

// IssueRefreshToken mints a refresh token carrying only the subject.
func (i *Issuer) IssueRefreshToken(user *models.User) (string, error) {
	return i.sign(&Claims{
		Kind:             KindRefresh,
		RegisteredClaims: i.registered(user, i.refreshTTL),
	})
}

func (i *Issuer) registered(user *models.User, ttl time.Duration) jwt.RegisteredClaims {
	now := i.now().UTC()
	return jwt.RegisteredClaims{
		Issuer:    i.issuer,
		Subject:   user.Email,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
}

func (i *Issuer) sign(claims *Claims) (string, error) {
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("token subject is required")
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies signature and structure, then expiry. Expiry is strict: a
// token whose exp equals now is still valid.
func (i *Issuer) Parse(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMalformed
	}

	claims := &Claims{}
	parsed, err := i.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrMalformed
	}
	if err := i.checkStructure(claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if claims.ExpiresAt.Time.Before(i.now()) {
		return nil, ErrExpired
	}
	return claims, nil
}

func (i *Issuer) checkStructure(claims *Claims) error {
	if claims.Issuer != i.issuer {
		return fmt.Errorf("unexpected issuer %q", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("expiry precedes issued-at")
	}
	switch claims.Kind {
	case KindAccess, KindRefresh:
	default:
		return fmt.Errorf("unknown token kind %q", claims.Kind)
	}
	return nil
}
