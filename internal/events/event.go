// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package events publishes domain events to interested consumers.
package events

import (
	"context"
	"errors"
	"strings"
	"time"

	"codeberg.org/oliverandrich/socialnet-auth/internal/models"
)

// UserCreated is emitted once per newly activated account.
type UserCreated struct {
	UserID    int64               `json:"user_id"`
	Email     string              `json:"email"`
	FirstName string              `json:"first_name"`
	LastName  string              `json:"last_name"`
	Provider  models.AuthProvider `json:"provider"`
	CreatedAt time.Time           `json:"created_at"`
}

// NewUserCreated builds the event for user.
func NewUserCreated(user *models.User) UserCreated {
	return UserCreated{
		UserID:    user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Provider:  user.Provider,
		CreatedAt: user.CreatedAt.Time(),
	}
}

// Publisher delivers events to a sink.
type Publisher interface {
	PublishUserCreated(ctx context.Context, event UserCreated) error
}

// Multi fans an event out to several publishers and joins their errors.
type Multi []Publisher

// PublishUserCreated implements Publisher.
func (m Multi) PublishUserCreated(ctx context.Context, event UserCreated) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishUserCreated(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FormatSSE formats data as a server-sent event with an optional event name.
// Multiline content is prefixed with "data:" on every line.
func FormatSSE(eventName, data string) string {
	var sb strings.Builder

	if eventName != "" {
		sb.WriteString("event: " + eventName + "\n")
	}
	for line := range strings.SplitSeq(data, "\n") {
		sb.WriteString("data: " + line + "\n")
	}

	sb.WriteString("\n")
	return sb.String()
}

// Heartbeat is an SSE comment that keeps idle connections open.
const Heartbeat = ": heartbeat\n\n"
