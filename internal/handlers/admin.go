// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"codeberg.org/oliverandrich/socialnet-auth/internal/auth"
	"codeberg.org/oliverandrich/socialnet-auth/internal/events"
	authsvc "codeberg.org/oliverandrich/socialnet-auth/internal/services/auth"
)

// AdminHandlers contains the operator endpoints.
type AdminHandlers struct {
	auth      *authsvc.Service
	bus       *events.Bus
	heartbeat time.Duration
}

// NewAdmin creates a new AdminHandlers instance.
func NewAdmin(svc *authsvc.Service, bus *events.Bus) *AdminHandlers {
	return &AdminHandlers{
		auth:      svc,
		bus:       bus,
		heartbeat: 30 * time.Second,
	}
}

// RevokeUserSessions ends every session of the user in the path.
func (h *AdminHandlers) RevokeUserSessions(c echo.Context) error {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return errInvalidRequest(err)
	}

	n, err := h.auth.RevokeUserSessions(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, RevokedResponse{Revoked: n})
}

// Events streams user-created events as Server-Sent Events.
func (h *AdminHandlers) Events(c echo.Context) error {
	ctx := c.Request().Context()
	id := auth.GetIdentity(ctx)

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	key := uuid.NewString()
	ch := h.bus.Subscribe(key, id.UserID)
	defer h.bus.Unsubscribe(key, ch)

	// Send initial connection event
	if _, err := w.Write([]byte(events.FormatSSE("connected", "ok"))); err != nil {
		return nil
	}
	w.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.Write([]byte(events.Heartbeat)); err != nil {
				return nil // Client disconnected
			}
			w.Flush()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if _, err := w.Write([]byte(msg)); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}
