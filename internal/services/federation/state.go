// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package federation

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"

	"codeberg.org/oliverandrich/socialnet-auth/internal/models"
)

// StateCookieName carries the signed state across the provider redirect.
const StateCookieName = "oauth_state"

// ErrInvalidState is returned when the callback state does not match the cookie.
var ErrInvalidState = errors.New("invalid oauth state")

type oauthState struct {
	Nonce    string
	Provider models.AuthProvider
}

// StateCodec signs and verifies the state round trip of the authorization flow.
type StateCodec struct {
	codec  *securecookie.SecureCookie
	ttl    time.Duration
	secure bool
}

// NewStateCodec creates a codec signing with hashKey. States older than ttl
// are rejected. A nil key generates a random one, which does not survive a
// restart.
func NewStateCodec(hashKey []byte, ttl time.Duration, secure bool) *StateCodec {
	if len(hashKey) == 0 {
		hashKey = securecookie.GenerateRandomKey(32)
	}
	codec := securecookie.New(hashKey, nil)
	codec.MaxAge(int(ttl / time.Second))
	return &StateCodec{codec: codec, ttl: ttl, secure: secure}
}

// Issue returns a fresh state value and the cookie binding it to provider.
func (s *StateCodec) Issue(provider models.AuthProvider) (string, *http.Cookie, error) {
	nonce := uuid.NewString()
	encoded, err := s.codec.Encode(StateCookieName, oauthState{Nonce: nonce, Provider: provider})
	if err != nil {
		return "", nil, err
	}
	return nonce, &http.Cookie{
		Name:     StateCookieName,
		Value:    encoded,
		Path:     "/api/auth/oauth2",
		MaxAge:   int(s.ttl / time.Second),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}, nil
}

// Verify checks the state query value of a callback against its cookie.
func (s *StateCodec) Verify(cookie *http.Cookie, provider models.AuthProvider, state string) error {
	if cookie == nil || state == "" {
		return ErrInvalidState
	}
	var decoded oauthState
	if err := s.codec.Decode(StateCookieName, cookie.Value, &decoded); err != nil {
		return ErrInvalidState
	}
	if decoded.Provider != provider || subtle.ConstantTimeCompare([]byte(decoded.Nonce), []byte(state)) != 1 {
		return ErrInvalidState
	}
	return nil
}

// ClearCookie expires the state cookie.
func (s *StateCodec) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     StateCookieName,
		Value:    "",
		Path:     "/api/auth/oauth2",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
