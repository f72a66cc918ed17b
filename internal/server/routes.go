// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"github.com/labstack/echo/v4"

	"codeberg.org/oliverandrich/socialnet-auth/internal/config"
	"codeberg.org/oliverandrich/socialnet-auth/internal/handlers"
	"codeberg.org/oliverandrich/socialnet-auth/internal/metrics"
	appmw "codeberg.org/oliverandrich/socialnet-auth/internal/middleware"
	"codeberg.org/oliverandrich/socialnet-auth/internal/models"
)

type routeHandlers struct {
	base    *handlers.Handlers
	auth    *handlers.AuthHandlers
	admin   *handlers.AdminHandlers
	oauth   *handlers.OAuthHandlers
	metrics *metrics.Metrics
}

func setupRoutes(e *echo.Echo, cfg *config.Config, h routeHandlers) {
	e.GET("/health", h.base.Health)
	e.GET("/metrics", echo.WrapHandler(h.metrics.Handler()))

	// one bucket per client across every endpoint that mails or checks a passcode
	limited := appmw.RateLimit(cfg.RateLimit.Rate, cfg.RateLimit.Burst)

	api := e.Group("/api/auth")
	api.POST("/register", h.auth.Register, limited)
	api.POST("/verify-registration", h.auth.VerifyRegistration, limited)
	api.POST("/resend-otp", h.auth.ResendOTP, limited)
	api.POST("/login", h.auth.Login)
	api.POST("/validate-token", h.auth.ValidateToken)
	api.POST("/forgot-password", h.auth.ForgotPassword, limited)
	api.POST("/reset-password", h.auth.ResetPassword, limited)
	api.GET("/oauth2/authorize/:provider", h.oauth.Authorize)
	api.GET("/oauth2/callback/:provider", h.oauth.Callback)

	api.POST("/logout", h.auth.Logout, appmw.RequireAuth)
	api.POST("/logout-all", h.auth.LogoutAll, appmw.RequireAuth)
	api.POST("/change-password", h.auth.ChangePassword, appmw.RequireAuth)
	api.GET("/me", h.auth.Me, appmw.RequireAuth)
	api.GET("/sessions", h.auth.Sessions, appmw.RequireAuth)
	api.DELETE("/sessions/:id", h.auth.RevokeSession, appmw.RequireAuth)

	admin := e.Group("/api/admin", appmw.RequireRole(models.RoleAdmin))
	admin.DELETE("/users/:id/sessions", h.admin.RevokeUserSessions)
	admin.GET("/events", h.admin.Events)
}
