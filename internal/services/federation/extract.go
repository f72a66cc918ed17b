// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package federation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"codeberg.org/oliverandrich/socialnet-auth/internal/models"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported identity provider")
	ErrMissingAttribute    = errors.New("identity provider omitted a required attribute")
	ErrUnverifiedEmail     = errors.New("identity provider has not verified the email")
)

// Attributes is the decoded user-info document of a provider.
type Attributes map[string]any

// Profile is the provider-independent view of a federated identity.
type Profile struct {
	ProviderID string
	Email      string
	FirstName  string
	LastName   string
	// Unverified is set when the provider explicitly says it has not
	// verified Email.
	Unverified bool
}

// Extractor maps one provider's attributes to a Profile.
type Extractor func(Attributes) Profile

var extractors = map[models.AuthProvider]Extractor{
	models.ProviderGoogle: func(a Attributes) Profile {
		return Profile{
			ProviderID: a.String("sub"),
			Email:      a.String("email"),
			FirstName:  a.String("given_name"),
			LastName:   a.String("family_name"),
			Unverified: a.False("email_verified"),
		}
	},
	models.ProviderGitHub: func(a Attributes) Profile {
		name := a.String("name")
		if name == "" {
			name = a.String("login")
		}
		first, last := splitName(name)
		return Profile{ProviderID: a.String("id"), Email: a.String("email"), FirstName: first, LastName: last}
	},
	models.ProviderFacebook: func(a Attributes) Profile {
		first, last := splitName(a.String("name"))
		return Profile{ProviderID: a.String("id"), Email: a.String("email"), FirstName: first, LastName: last}
	},
}

// Supported reports whether provider has an extractor.
func Supported(provider models.AuthProvider) bool {
	_, ok := extractors[provider]
	return ok
}

// Extract builds the Profile of attrs. The provider id and email are required.
func Extract(provider models.AuthProvider, attrs Attributes) (*Profile, error) {
	extract, ok := extractors[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}

	p := extract(attrs)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	if p.ProviderID == "" {
		return nil, fmt.Errorf("%w: id", ErrMissingAttribute)
	}
	if p.Email == "" {
		return nil, fmt.Errorf("%w: email", ErrMissingAttribute)
	}
	if p.Unverified {
		return nil, fmt.Errorf("%w: %s", ErrUnverifiedEmail, provider)
	}
	return &p, nil
}

// String returns attribute key as a string. Providers disagree on whether
// ids are strings or numbers, so numbers are formatted without exponent.
func (a Attributes) String(key string) string {
	switch v := a[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return ""
}

// False reports whether attribute key is present and false. Some providers
// send booleans as strings.
func (a Attributes) False(key string) bool {
	switch v := a[key].(type) {
	case bool:
		return !v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "false")
	}
	return false
}

func splitName(name string) (string, string) {
	first, last, _ := strings.Cut(strings.TrimSpace(name), " ")
	return first, strings.TrimSpace(last)
}
