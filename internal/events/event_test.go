// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/oliverandrich/socialnet-auth/internal/models"
)

type recordingPublisher struct {
	err    error
	events []UserCreated
}

func (r *recordingPublisher) PublishUserCreated(_ context.Context, event UserCreated) error {
	r.events = append(r.events, event)
	return r.err
}

func TestFormatSSE(t *testing.T) {
	tests := []struct {
		name      string
		eventName string
		data      string
		expected  string
	}{
		{
			name:     "data only",
			data:     "hello",
			expected: "data: hello\n\n",
		},
		{
			name:      "named event",
			eventName: "user_created",
			data:      `{"user_id":1}`,
			expected:  "event: user_created\ndata: {\"user_id\":1}\n\n",
		},
		{
			name:     "multiline",
			data:     "a\nb",
			expected: "data: a\ndata: b\n\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatSSE(tt.eventName, tt.data))
		})
	}
}

func TestNewUserCreated(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	user := &models.User{
		ID:        7,
		Email:     "a@x.com",
		FirstName: "Ann",
		LastName:  "Lee",
		Provider:  models.ProviderGoogle,
		CreatedAt: models.Millis(created),
	}

	event := NewUserCreated(user)

	assert.Equal(t, int64(7), event.UserID)
	assert.Equal(t, "a@x.com", event.Email)
	assert.Equal(t, "Ann", event.FirstName)
	assert.Equal(t, models.ProviderGoogle, event.Provider)
	assert.True(t, created.Equal(event.CreatedAt))
}

func TestMulti(t *testing.T) {
	failing := &recordingPublisher{err: errors.New("broker down")}
	ok := &recordingPublisher{}

	err := Multi{failing, ok}.PublishUserCreated(context.Background(), UserCreated{UserID: 1})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Len(t, ok.events, 1, "a failing sink does not starve the others")
	assert.NoError(t, Multi{ok}.PublishUserCreated(context.Background(), UserCreated{UserID: 2}))
}
