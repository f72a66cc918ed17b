// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package federation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/oliverandrich/socialnet-auth/internal/models"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name     string
		provider models.AuthProvider
		attrs    Attributes
		want     Profile
	}{
		{
			name:     "google",
			provider: models.ProviderGoogle,
			attrs:    Attributes{"sub": "1098", "email": "Ann@Example.com", "given_name": "Ann", "family_name": "Lee"},
			want:     Profile{ProviderID: "1098", Email: "ann@example.com", FirstName: "Ann", LastName: "Lee"},
		},
		{
			name:     "google verified email",
			provider: models.ProviderGoogle,
			attrs:    Attributes{"sub": "1098", "email": "ann@example.com", "email_verified": true},
			want:     Profile{ProviderID: "1098", Email: "ann@example.com"},
		},
		{
			name:     "github numeric id",
			provider: models.ProviderGitHub,
			attrs:    Attributes{"id": json.Number("583231"), "email": "octo@example.com", "name": "Mona Lisa Octocat"},
			want:     Profile{ProviderID: "583231", Email: "octo@example.com", FirstName: "Mona", LastName: "Lisa Octocat"},
		},
		{
			name:     "github float id and login fallback",
			provider: models.ProviderGitHub,
			attrs:    Attributes{"id": float64(12345678901), "email": "octo@example.com", "login": "octocat"},
			want:     Profile{ProviderID: "12345678901", Email: "octo@example.com", FirstName: "octocat"},
		},
		{
			name:     "facebook",
			provider: models.ProviderFacebook,
			attrs:    Attributes{"id": "10224", "email": "fb@example.com", "name": "Mark"},
			want:     Profile{ProviderID: "10224", Email: "fb@example.com", FirstName: "Mark"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(tt.provider, tt.attrs)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestExtract_Errors(t *testing.T) {
	_, err := Extract(models.ProviderLocal, Attributes{})
	assert.ErrorIs(t, err, ErrUnsupportedProvider)

	_, err = Extract(models.ProviderGoogle, Attributes{"email": "a@x.com"})
	assert.ErrorIs(t, err, ErrMissingAttribute)

	_, err = Extract(models.ProviderGitHub, Attributes{"id": 1, "email": nil})
	assert.ErrorIs(t, err, ErrMissingAttribute)

	_, err = Extract(models.ProviderGoogle, Attributes{"sub": "1", "email": "a@x.com", "email_verified": false})
	assert.ErrorIs(t, err, ErrUnverifiedEmail)

	_, err = Extract(models.ProviderGoogle, Attributes{"sub": "1", "email": "a@x.com", "email_verified": "false"})
	assert.ErrorIs(t, err, ErrUnverifiedEmail)
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported(models.ProviderGoogle))
	assert.True(t, Supported(models.ProviderGitHub))
	assert.True(t, Supported(models.ProviderFacebook))
	assert.False(t, Supported(models.ProviderLocal))
}
