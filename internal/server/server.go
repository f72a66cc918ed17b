// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/urfave/cli/v3"
	"github.com/vinovest/sqlx"

	"codeberg.org/oliverandrich/socialnet-auth/internal/config"
	"codeberg.org/oliverandrich/socialnet-auth/internal/database"
	"codeberg.org/oliverandrich/socialnet-auth/internal/events"
	"codeberg.org/oliverandrich/socialnet-auth/internal/handlers"
	"codeberg.org/oliverandrich/socialnet-auth/internal/i18n"
	"codeberg.org/oliverandrich/socialnet-auth/internal/metrics"
	"codeberg.org/oliverandrich/socialnet-auth/internal/models"
	"codeberg.org/oliverandrich/socialnet-auth/internal/repository"
	authsvc "codeberg.org/oliverandrich/socialnet-auth/internal/services/auth"
	"codeberg.org/oliverandrich/socialnet-auth/internal/services/email"
	"codeberg.org/oliverandrich/socialnet-auth/internal/services/federation"
	"codeberg.org/oliverandrich/socialnet-auth/internal/services/ledger"
	"codeberg.org/oliverandrich/socialnet-auth/internal/services/otp"
	"codeberg.org/oliverandrich/socialnet-auth/internal/services/session"
	"codeberg.org/oliverandrich/socialnet-auth/internal/services/token"
	"codeberg.org/oliverandrich/socialnet-auth/internal/services/validation"
)

// oauthStateTTL bounds the time a user may spend on the provider's consent page.
const oauthStateTTL = 10 * time.Minute

// App is the fully wired service.
type App struct {
	Echo       *echo.Echo
	Auth       *authsvc.Service
	Bus        *events.Bus
	Metrics    *metrics.Metrics
	cfg        *config.Config
	repo       *repository.Repository
	ledger     *ledger.Ledger
	otp        *otp.Engine
	dispatcher *events.Dispatcher
	closers    []io.Closer
}

type options struct {
	mailer    otp.Mailer
	publisher events.Publisher
	clients   map[models.AuthProvider]*federation.Client
	now       func() time.Time
}

// Option overrides a collaborator of the App.
type Option func(*options)

// WithMailer replaces the configured passcode delivery.
func WithMailer(m otp.Mailer) Option {
	return func(o *options) {
		o.mailer = m
	}
}

// WithPublisher replaces the Kafka publisher. The in-process bus is always attached.
func WithPublisher(p events.Publisher) Option {
	return func(o *options) {
		o.publisher = p
	}
}

// WithOAuthClients replaces the provider clients built from the configuration.
func WithOAuthClients(clients map[models.AuthProvider]*federation.Client) Option {
	return func(o *options) {
		o.clients = clients
	}
}

// WithClock overrides the time source of every time-dependent service.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// New wires every service on top of db and builds the router.
func New(cfg *config.Config, db *sqlx.DB, opts ...Option) (*App, error) {
	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}

	repo := repository.New(db)
	m := metrics.New()

	issuer, err := token.NewIssuer(cfg.JWT, token.WithClock(o.now))
	if err != nil {
		return nil, fmt.Errorf("token issuer: %w", err)
	}
	l := ledger.New(repo, issuer, ledger.WithClock(o.now))

	mailer := o.mailer
	if mailer == nil {
		mailer, err = newMailer(cfg)
		if err != nil {
			return nil, err
		}
	}
	engine := otp.New(repo, mailer, cfg.OTP, otp.WithClock(o.now), otp.WithMetrics(m))

	app := &App{
		Metrics: m,
		Bus:     events.NewBus(),
		cfg:     cfg,
		repo:    repo,
		ledger:  l,
		otp:     engine,
	}

	publishers := events.Multi{app.Bus}
	switch {
	case o.publisher != nil:
		publishers = append(publishers, o.publisher)
	case len(cfg.Events.Brokers) > 0:
		kafka, kafkaErr := events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.Topic)
		if kafkaErr != nil {
			return nil, fmt.Errorf("kafka publisher: %w", kafkaErr)
		}
		publishers = append(publishers, kafka)
		app.closers = append(app.closers, kafka)
	}
	app.dispatcher = events.NewDispatcher(publishers, m)

	sessions := session.NewManager(issuer, l, repo, session.WithClock(o.now), session.WithMetrics(m))
	app.Auth = authsvc.NewService(repo, engine, l, sessions, app.dispatcher,
		authsvc.WithMetrics(m),
		authsvc.WithPasswordValidator(authsvc.NewPasswordValidator(cfg.Auth.PasswordMinLength)),
	)

	public, err := validation.ParsePublicRoutes(cfg.Auth.PublicRoutes)
	if err != nil {
		return nil, err
	}
	pipeline := validation.New(issuer, l, repo,
		validation.WithClock(o.now),
		validation.WithMetrics(m),
		validation.WithTouch(cfg.Auth.TouchOnUse),
	)

	var stateKey []byte
	if cfg.OAuth.StateKey != "" {
		stateKey, err = hex.DecodeString(cfg.OAuth.StateKey)
		if err != nil {
			return nil, fmt.Errorf("oauth state key: %w", err)
		}
	}
	clients := o.clients
	if clients == nil {
		clients = federation.NewClients(cfg.OAuth, cfg.Server.BaseURL)
	}
	secure := strings.HasPrefix(cfg.Server.BaseURL, "https://")

	app.Echo = echo.New()
	app.Echo.HideBanner = true
	app.Echo.HidePort = true
	app.Echo.HTTPErrorHandler = handlers.ErrorHandler

	setupMiddleware(app.Echo, cfg, m, pipeline, public)
	setupRoutes(app.Echo, cfg, routeHandlers{
		base:  handlers.New(repo),
		auth:  handlers.NewAuth(app.Auth, pipeline, repo),
		admin: handlers.NewAdmin(app.Auth, app.Bus),
		oauth: handlers.NewOAuth(clients,
			federation.NewStateCodec(stateKey, oauthStateTTL, secure),
			federation.NewAdapter(repo, app.dispatcher),
			sessions,
			cfg.OAuth.SuccessRedirect,
		),
		metrics: m,
	})

	return app, nil
}

func newMailer(cfg *config.Config) (otp.Mailer, error) {
	if cfg.SMTP.Host == "" {
		slog.Warn("smtp_disabled", "hint", "passcodes are written to the log")
		return email.LogSender{}, nil
	}
	svc, err := email.NewService(&cfg.SMTP, cfg.OTP.TTL)
	if err != nil {
		return nil, fmt.Errorf("email service: %w", err)
	}
	return svc, nil
}

// Bootstrap prepares state the service needs before accepting traffic.
func (a *App) Bootstrap(ctx context.Context) error {
	if a.cfg.Auth.AdminEmail == "" {
		return nil
	}
	if err := a.Auth.EnsureAdmin(ctx, a.cfg.Auth.AdminEmail, a.cfg.Auth.AdminPassword); err != nil {
		return fmt.Errorf("ensure admin: %w", err)
	}
	return nil
}

// Close waits for pending event deliveries and releases outbound connections.
func (a *App) Close() error {
	a.dispatcher.Wait()

	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Run starts the server with the given CLI command.
func Run(ctx context.Context, cmd *cli.Command) error {
	cfg := config.NewFromCLI(cmd)
	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	slog.Info("starting server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"base_url", cfg.Server.BaseURL,
	)

	// Database, migrations are applied on open
	db, err := database.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := database.Close(db); closeErr != nil {
			slog.Error("failed to close database", "error", closeErr)
		}
	}()

	// i18n
	if initErr := i18n.Init(); initErr != nil {
		return fmt.Errorf("failed to init i18n: %w", initErr)
	}

	app, err := New(cfg, db)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := app.Close(); closeErr != nil {
			slog.Error("failed to close app", "error", closeErr)
		}
	}()

	if err := app.Bootstrap(ctx); err != nil {
		return err
	}

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go app.RunJanitor(janitorCtx, cfg.Cleanup.Interval)

	return startWithGracefulShutdown(app.Echo, cfg)
}

func startWithGracefulShutdown(e *echo.Echo, cfg *config.Config) error {
	errChan := make(chan error, 1)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		slog.Info("Server running", "url", cfg.Server.BaseURL)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Wait for interrupt signal or error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		slog.Info("shutting down server")
	case err := <-errChan:
		slog.Error("server error", "error", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}
