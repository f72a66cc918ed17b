// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package middleware

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mssola/useragent"

	"codeberg.org/oliverandrich/socialnet-auth/internal/ctxkeys"
	"codeberg.org/oliverandrich/socialnet-auth/internal/services/ledger"
)

// DeviceNameHeader lets clients label their session.
const DeviceNameHeader = "X-Device-Name"

const maxDeviceField = 255

// Device records best-effort client metadata in the request context.
func Device() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			info := ledger.DeviceInfo{
				UserAgent:  truncate(req.UserAgent()),
				DeviceType: DeviceType(req.UserAgent()),
				DeviceName: truncate(strings.TrimSpace(req.Header.Get(DeviceNameHeader))),
				IPAddress:  c.RealIP(),
			}
			c.SetRequest(req.WithContext(context.WithValue(req.Context(), ctxkeys.Device{}, info)))
			return next(c)
		}
	}
}

// GetDevice returns the device metadata of the request, or the zero value.
func GetDevice(ctx context.Context) ledger.DeviceInfo {
	info, _ := ctx.Value(ctxkeys.Device{}).(ledger.DeviceInfo)
	return info
}

// DeviceType classifies a user agent as bot, tablet, mobile or desktop.
// Clients that do not present themselves as a browser count as bots.
func DeviceType(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return "unknown"
	}

	ua := useragent.New(userAgent)
	browser, _ := ua.Browser()
	switch {
	case ua.Bot(), ua.Mozilla() == "" && browser != "Opera":
		return "bot"
	case ua.Platform() == "iPad":
		return "tablet"
	case strings.HasPrefix(ua.OS(), "Android") && !strings.Contains(userAgent, "Mobile"):
		// Android tablets omit the Mobile token phones send.
		return "tablet"
	case ua.Mobile():
		return "mobile"
	}
	return "desktop"
}

func truncate(s string) string {
	if len(s) <= maxDeviceField {
		return s
	}
	return s[:maxDeviceField]
}
