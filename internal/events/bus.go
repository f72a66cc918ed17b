// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/samber/lo"
)

// EventUserCreated is the SSE event name for UserCreated.
const EventUserCreated = "user_created"

type subscriber struct {
	ch     chan string
	userID int64
}

// Bus is the in-process event sink. Every subscriber receives every event as
// a formatted SSE message; slow subscribers drop messages instead of blocking
// the publisher.
type Bus struct {
	subscribers map[string][]subscriber
	mu          sync.RWMutex
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]subscriber)}
}

// Subscribe registers a channel under key (one per stream) for userID.
func (b *Bus) Subscribe(key string, userID int64) chan string {
	ch := make(chan string, 16)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[key] = append(b.subscribers[key], subscriber{ch: ch, userID: userID})

	return ch
}

// Unsubscribe removes and closes ch.
func (b *Bus) Unsubscribe(key string, ch chan string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers[key] = lo.Filter(b.subscribers[key], func(s subscriber, _ int) bool {
		return s.ch != ch
	})
	if len(b.subscribers[key]) == 0 {
		delete(b.subscribers, key)
	}

	close(ch)
}

// Broadcast sends message to every subscriber.
func (b *Bus) Broadcast(message string) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, subs := range b.subscribers {
		for _, s := range subs {
			select {
			case s.ch <- message:
			default:
				// full, drop
			}
		}
	}
}

// PublishUserCreated implements Publisher.
func (b *Bus) PublishUserCreated(_ context.Context, event UserCreated) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	b.Broadcast(FormatSSE(EventUserCreated, string(data)))
	return nil
}

// SubscriberCount returns the number of connected streams.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return lo.SumBy(lo.Values(b.subscribers), func(subs []subscriber) int {
		return len(subs)
	})
}

// UserCount returns the number of distinct subscribed users.
func (b *Bus) UserCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	users := lo.FlatMap(lo.Values(b.subscribers), func(subs []subscriber, _ int) []int64 {
		return lo.Map(subs, func(s subscriber, _ int) int64 { return s.userID })
	})
	return len(lo.Uniq(users))
}
