// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package federation maps identities asserted by external OAuth2 providers
// onto local accounts.
package federation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"codeberg.org/oliverandrich/socialnet-auth/internal/events"
	"codeberg.org/oliverandrich/socialnet-auth/internal/models"
	"codeberg.org/oliverandrich/socialnet-auth/internal/repository"
)

// Adapter resolves federated identities to users.
type Adapter struct {
	repo   *repository.Repository
	events *events.Dispatcher
}

// NewAdapter creates an Adapter.
func NewAdapter(repo *repository.Repository, dispatcher *events.Dispatcher) *Adapter {
	return &Adapter{repo: repo, events: dispatcher}
}

// Resolve returns the local user for a provider identity. A user already
// linked to the identity is returned unchanged. A user with the same email is
// linked unless it is bound to another provider; a pending local account loses
// its unverified password when linking enables it. Otherwise a new enabled
// account is created. Resolving the same identity twice yields the same user.
func (a *Adapter) Resolve(ctx context.Context, provider models.AuthProvider, attrs Attributes) (*models.User, error) {
	profile, err := Extract(provider, attrs)
	if err != nil {
		return nil, err
	}

	user, err := a.resolve(ctx, provider, profile)
	if errors.Is(err, repository.ErrDuplicate) {
		// lost a creation race against a concurrent callback
		user, err = a.resolve(ctx, provider, profile)
	}
	return user, err
}

func (a *Adapter) resolve(ctx context.Context, provider models.AuthProvider, p *Profile) (*models.User, error) {
	user, err := a.repo.GetUserByProvider(ctx, provider, p.ProviderID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup by provider: %w", err)
	}

	user, err = a.repo.GetUserByEmail(ctx, p.Email)
	switch {
	case err == nil:
		return a.link(ctx, user, provider, p)
	case errors.Is(err, repository.ErrNotFound):
		return a.create(ctx, provider, p)
	default:
		return nil, fmt.Errorf("lookup by email: %w", err)
	}
}

func (a *Adapter) link(ctx context.Context, user *models.User, provider models.AuthProvider, p *Profile) (*models.User, error) {
	if user.IsLinked() {
		slog.Info("oauth_link_skipped", "user_id", user.ID, "linked", user.Provider, "provider", provider)
		return user, nil
	}

	activated := !user.Enabled
	id := p.ProviderID
	user.Provider = provider
	user.ProviderID = &id
	user.EmailVerified = true
	if activated {
		// Nobody proved ownership of the email when this password was chosen.
		user.PasswordHash = ""
		user.FirstName = p.FirstName
		user.LastName = p.LastName
		user.Enabled = true
	}
	if user.FirstName == "" {
		user.FirstName = p.FirstName
	}
	if user.LastName == "" {
		user.LastName = p.LastName
	}

	if err := a.repo.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("link account: %w", err)
	}

	slog.Info("oauth_account_linked", "user_id", user.ID, "provider", provider)
	if activated {
		a.events.UserCreated(events.NewUserCreated(user))
	}
	return user, nil
}

func (a *Adapter) create(ctx context.Context, provider models.AuthProvider, p *Profile) (*models.User, error) {
	id := p.ProviderID
	user := &models.User{
		Email:         p.Email,
		FirstName:     p.FirstName,
		LastName:      p.LastName,
		Roles:         models.RoleSet{models.RoleUser},
		Enabled:       true,
		EmailVerified: true,
		Provider:      provider,
		ProviderID:    &id,
	}
	if err := a.repo.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create federated user: %w", err)
	}

	slog.Info("oauth_user_created", "user_id", user.ID, "provider", provider)
	a.events.UserCreated(events.NewUserCreated(user))
	return user, nil
}
