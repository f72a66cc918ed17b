// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"fmt"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"codeberg.org/oliverandrich/socialnet-auth/internal/config"
	"codeberg.org/oliverandrich/socialnet-auth/internal/metrics"
	appmw "codeberg.org/oliverandrich/socialnet-auth/internal/middleware"
	"codeberg.org/oliverandrich/socialnet-auth/internal/services/validation"
)

// eventStreamPath is never compressed so events reach clients immediately.
const eventStreamPath = "/api/admin/events"

func setupMiddleware(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, v appmw.Validator, public validation.PublicRoutes) {
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.RequestID())
	// metrics and the access log run outside Recover so they see the final status
	e.Use(m.Middleware())
	e.Use(appmw.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.Secure())
	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Skipper: func(c echo.Context) bool {
			return c.Request().URL.Path == eventStreamPath
		},
	}))
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", bodyLimitMB(cfg))))
	e.Use(appmw.Locale())
	e.Use(appmw.Device())
	e.Use(appmw.Authenticate(v, public))
}

func bodyLimitMB(cfg *config.Config) int {
	if cfg.Server.MaxBodySize < 1 {
		return 1
	}
	return cfg.Server.MaxBodySize
}
