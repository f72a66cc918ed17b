// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"codeberg.org/oliverandrich/socialnet-auth/internal/metrics"
)

const publishTimeout = 10 * time.Second

// Dispatcher publishes events in the background. Failures are logged and
// never reach the caller.
type Dispatcher struct {
	publisher Publisher
	metrics   *metrics.Metrics
	wg        sync.WaitGroup
}

// NewDispatcher wraps publisher. A nil publisher discards events.
func NewDispatcher(publisher Publisher, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{publisher: publisher, metrics: m}
}

// UserCreated publishes event asynchronously.
func (d *Dispatcher) UserCreated(event UserCreated) {
	if d == nil || d.publisher == nil {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		err := d.publisher.PublishUserCreated(ctx, event)
		d.metrics.EventPublished(err == nil)
		if err != nil {
			slog.Error("event_publish_failed", "event", EventUserCreated, "user_id", event.UserID, "error", err)
			return
		}
		slog.Info("event_published", "event", EventUserCreated, "user_id", event.UserID)
	}()
}

// Wait blocks until every in-flight publication has finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
