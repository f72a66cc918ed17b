// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
)

var configFile = altsrc.StringSourcer("config.toml")

// MinSecretLength is the minimum number of bytes of the token signing secret.
const MinSecretLength = 32

type Config struct { //nolint:govet // fieldalignment not critical for config structs
	Server    ServerConfig
	Log       LogConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	OTP       OTPConfig
	SMTP      SMTPConfig
	OAuth     OAuthConfig
	Events    EventsConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Cleanup   CleanupConfig
}

type ServerConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Host            string
	Port            int
	BaseURL         string
	MaxBodySize     int // in MB
	ShutdownTimeout time.Duration
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text, json
}

type DatabaseConfig struct {
	DSN string
}

// JWTConfig is the immutable signing configuration handed to the token issuer.
type JWTConfig struct {
	Secret     string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type OTPConfig struct {
	Length      int
	TTL         time.Duration
	MaxAttempts int // 0 = unlimited until expiry
}

type SMTPConfig struct { //nolint:govet // fieldalignment not critical
	Host     string // empty disables delivery; codes are logged instead
	Port     int
	Username string
	Password string
	From     string
	FromName string
	TLS      bool // port 465 uses implicit TLS, anything else STARTTLS
}

type OAuthConfig struct { //nolint:govet // fieldalignment not critical
	StateKey        string // 32-byte hex string for HMAC signing of the state cookie
	SuccessRedirect string // when set, the callback redirects here with tokens in the fragment
	Google          OAuthProviderConfig
	GitHub          OAuthProviderConfig
	Facebook        OAuthProviderConfig
}

type OAuthProviderConfig struct {
	ClientID     string
	ClientSecret string
}

// Enabled reports whether the provider has credentials configured.
func (p OAuthProviderConfig) Enabled() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

type EventsConfig struct {
	Brokers []string // empty = in-process bus only
	Topic   string
}

type AuthConfig struct {
	PublicRoutes      []string // "METHOD /prefix", METHOD may be *
	TouchOnUse        bool
	PasswordMinLength int
	AdminEmail        string
	AdminPassword     string
}

type RateLimitConfig struct {
	Rate  float64 // requests per second per client IP, 0 disables
	Burst int
}

type CleanupConfig struct {
	Interval time.Duration // 0 disables the janitor
}

// DefaultPublicRoutes lists the endpoints that never pass the validation pipeline.
func DefaultPublicRoutes() []string {
	return []string{
		"POST /api/auth/register",
		"POST /api/auth/verify-registration",
		"POST /api/auth/resend-otp",
		"POST /api/auth/login",
		"POST /api/auth/validate-token",
		"POST /api/auth/forgot-password",
		"POST /api/auth/reset-password",
		"GET /api/auth/oauth2/",
		"GET /health",
		"GET /metrics",
	}
}

func NewFromCLI(cmd *cli.Command) *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:            cmd.String("host"),
			Port:            int(cmd.Int("port")),
			BaseURL:         cmd.String("base-url"),
			MaxBodySize:     int(cmd.Int("max-body-size")),
			ShutdownTimeout: cmd.Duration("shutdown-timeout"),
		},
		Log: LogConfig{
			Level:  cmd.String("log-level"),
			Format: cmd.String("log-format"),
		},
		Database: DatabaseConfig{
			DSN: cmd.String("database-dsn"),
		},
		JWT: JWTConfig{
			Secret:     cmd.String("jwt-secret"),
			Issuer:     cmd.String("jwt-issuer"),
			AccessTTL:  cmd.Duration("jwt-access-ttl"),
			RefreshTTL: cmd.Duration("jwt-refresh-ttl"),
		},
		OTP: OTPConfig{
			Length:      int(cmd.Int("otp-length")),
			TTL:         cmd.Duration("otp-ttl"),
			MaxAttempts: int(cmd.Int("otp-max-attempts")),
		},
		SMTP: SMTPConfig{
			Host:     cmd.String("smtp-host"),
			Port:     int(cmd.Int("smtp-port")),
			Username: cmd.String("smtp-username"),
			Password: cmd.String("smtp-password"),
			From:     cmd.String("smtp-from"),
			FromName: cmd.String("smtp-from-name"),
			TLS:      cmd.Bool("smtp-tls"),
		},
		OAuth: OAuthConfig{
			StateKey:        cmd.String("oauth-state-key"),
			SuccessRedirect: cmd.String("oauth-success-redirect"),
			Google: OAuthProviderConfig{
				ClientID:     cmd.String("oauth-google-client-id"),
				ClientSecret: cmd.String("oauth-google-client-secret"),
			},
			GitHub: OAuthProviderConfig{
				ClientID:     cmd.String("oauth-github-client-id"),
				ClientSecret: cmd.String("oauth-github-client-secret"),
			},
			Facebook: OAuthProviderConfig{
				ClientID:     cmd.String("oauth-facebook-client-id"),
				ClientSecret: cmd.String("oauth-facebook-client-secret"),
			},
		},
		Events: EventsConfig{
			Brokers: cmd.StringSlice("kafka-brokers"),
			Topic:   cmd.String("kafka-topic"),
		},
		Auth: AuthConfig{
			PublicRoutes:      cmd.StringSlice("public-route"),
			TouchOnUse:        cmd.Bool("touch-on-use"),
			PasswordMinLength: int(cmd.Int("password-min-length")),
			AdminEmail:        cmd.String("admin-email"),
			AdminPassword:     cmd.String("admin-password"),
		},
		RateLimit: RateLimitConfig{
			Rate:  cmd.Float64("otp-rate-limit"),
			Burst: int(cmd.Int("otp-rate-burst")),
		},
		Cleanup: CleanupConfig{
			Interval: cmd.Duration("cleanup-interval"),
		},
	}

	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = buildBaseURL(cfg)
	}
	if len(cfg.Auth.PublicRoutes) == 0 {
		cfg.Auth.PublicRoutes = DefaultPublicRoutes()
	}

	return cfg
}

// Validate reports configuration that would make the service unsafe or unusable.
func (c *Config) Validate() error {
	var errs []error

	if err := c.JWT.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.OTP.Length < 4 || c.OTP.Length > 10 {
		errs = append(errs, fmt.Errorf("otp length must be between 4 and 10, got %d", c.OTP.Length))
	}
	if c.OTP.TTL <= 0 {
		errs = append(errs, errors.New("otp ttl must be positive"))
	}
	if c.OTP.MaxAttempts < 0 {
		errs = append(errs, errors.New("otp max attempts must not be negative"))
	}
	if c.OAuth.StateKey != "" {
		if key, err := hex.DecodeString(c.OAuth.StateKey); err != nil || len(key) != 32 {
			errs = append(errs, errors.New("oauth state key must be a 32-byte hex string"))
		}
	}
	if c.SMTP.Host != "" && c.SMTP.From == "" {
		errs = append(errs, errors.New("smtp from address is required when smtp host is set"))
	}
	if c.Auth.PasswordMinLength < 1 {
		errs = append(errs, errors.New("password min length must be at least 1"))
	}
	if (c.Auth.AdminEmail == "") != (c.Auth.AdminPassword == "") {
		errs = append(errs, errors.New("admin email and admin password must be set together"))
	}
	if len(c.Events.Brokers) > 0 && c.Events.Topic == "" {
		errs = append(errs, errors.New("kafka topic is required when brokers are set"))
	}

	return errors.Join(errs...)
}

// Validate checks the signing secret and token lifetimes.
func (j JWTConfig) Validate() error {
	if len(j.Secret) < MinSecretLength {
		return fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
	}
	if j.AccessTTL <= 0 || j.RefreshTTL <= 0 {
		return errors.New("jwt ttls must be positive")
	}
	if j.RefreshTTL < j.AccessTTL {
		return errors.New("jwt refresh ttl must not be shorter than access ttl")
	}
	return nil
}

func buildBaseURL(cfg *Config) string {
	host := cfg.Server.Host
	port := cfg.Server.Port

	// TLS is terminated in front of the service for anything but local development
	scheme := "https"
	if IsLocalhost(host) {
		scheme = "http"
	}

	// Hide default ports in URL
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		return fmt.Sprintf("%s://%s", scheme, host)
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}

// IsLocalhost checks if the host is a localhost address.
func IsLocalhost(host string) bool {
	switch host {
	case "", "localhost", "127.0.0.1", "::1":
		return true
	}
	// Check for *.localhost subdomains (e.g., app.localhost)
	return strings.HasSuffix(host, ".localhost")
}

func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "host",
			Value:   "localhost",
			Usage:   "Host to bind to",
			Sources: cli.NewValueSourceChain(cli.EnvVar("HOST"), toml.TOML("server.host", configFile)),
		},
		&cli.IntFlag{
			Name:    "port",
			Value:   8080,
			Usage:   "Port to listen on",
			Sources: cli.NewValueSourceChain(cli.EnvVar("PORT"), toml.TOML("server.port", configFile)),
		},
		&cli.StringFlag{
			Name:    "base-url",
			Usage:   "Public base URL, used for OAuth2 callback URLs",
			Sources: cli.NewValueSourceChain(cli.EnvVar("BASE_URL"), toml.TOML("server.base_url", configFile)),
		},
		&cli.IntFlag{
			Name:    "max-body-size",
			Value:   1,
			Usage:   "Maximum request body size in MB",
			Sources: cli.NewValueSourceChain(cli.EnvVar("MAX_BODY_SIZE"), toml.TOML("server.max_body_size", configFile)),
		},
		&cli.DurationFlag{
			Name:    "shutdown-timeout",
			Value:   10 * time.Second,
			Usage:   "Grace period for in-flight requests on shutdown",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SHUTDOWN_TIMEOUT"), toml.TOML("server.shutdown_timeout", configFile)),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			Usage:   "Log level (debug, info, warn, error)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("LOG_LEVEL"), toml.TOML("log.level", configFile)),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Value:   "text",
			Usage:   "Log format (text, json)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("LOG_FORMAT"), toml.TOML("log.format", configFile)),
		},
		&cli.StringFlag{
			Name:    "database-dsn",
			Value:   "./data/auth.db",
			Usage:   "Database DSN",
			Sources: cli.NewValueSourceChain(cli.EnvVar("DATABASE_DSN"), toml.TOML("database.dsn", configFile)),
		},
		// Token flags
		&cli.StringFlag{
			Name:    "jwt-secret",
			Usage:   "HMAC secret for signing tokens (at least 32 bytes)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("JWT_SECRET"), toml.TOML("jwt.secret", configFile)),
		},
		&cli.StringFlag{
			Name:    "jwt-issuer",
			Value:   "socialnet-auth",
			Usage:   "Issuer claim of minted tokens",
			Sources: cli.NewValueSourceChain(cli.EnvVar("JWT_ISSUER"), toml.TOML("jwt.issuer", configFile)),
		},
		&cli.DurationFlag{
			Name:    "jwt-access-ttl",
			Value:   24 * time.Hour,
			Usage:   "Lifetime of access tokens",
			Sources: cli.NewValueSourceChain(cli.EnvVar("JWT_ACCESS_TTL"), toml.TOML("jwt.access_ttl", configFile)),
		},
		&cli.DurationFlag{
			Name:    "jwt-refresh-ttl",
			Value:   7 * 24 * time.Hour,
			Usage:   "Lifetime of refresh tokens",
			Sources: cli.NewValueSourceChain(cli.EnvVar("JWT_REFRESH_TTL"), toml.TOML("jwt.refresh_ttl", configFile)),
		},
		// OTP flags
		&cli.IntFlag{
			Name:    "otp-length",
			Value:   6,
			Usage:   "Number of digits of one-time passcodes",
			Sources: cli.NewValueSourceChain(cli.EnvVar("OTP_LENGTH"), toml.TOML("otp.length", configFile)),
		},
		&cli.DurationFlag{
			Name:    "otp-ttl",
			Value:   10 * time.Minute,
			Usage:   "Validity window of one-time passcodes",
			Sources: cli.NewValueSourceChain(cli.EnvVar("OTP_TTL"), toml.TOML("otp.ttl", configFile)),
		},
		&cli.IntFlag{
			Name:    "otp-max-attempts",
			Value:   0,
			Usage:   "Failed verifications before a passcode is burned (0 = unlimited)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("OTP_MAX_ATTEMPTS"), toml.TOML("otp.max_attempts", configFile)),
		},
		&cli.Float64Flag{
			Name:    "otp-rate-limit",
			Value:   0.2,
			Usage:   "Passcode-dispatching requests per second per client IP (0 disables)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("OTP_RATE_LIMIT"), toml.TOML("otp.rate_limit", configFile)),
		},
		&cli.IntFlag{
			Name:    "otp-rate-burst",
			Value:   5,
			Usage:   "Burst size of the passcode rate limiter",
			Sources: cli.NewValueSourceChain(cli.EnvVar("OTP_RATE_BURST"), toml.TOML("otp.rate_burst", configFile)),
		},
		// Mail flags
		&cli.StringFlag{
			Name:    "smtp-host",
			Usage:   "SMTP server host (empty logs passcodes instead of mailing them)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_HOST"), toml.TOML("smtp.host", configFile)),
		},
		&cli.IntFlag{
			Name:    "smtp-port",
			Value:   587,
			Usage:   "SMTP server port",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_PORT"), toml.TOML("smtp.port", configFile)),
		},
		&cli.StringFlag{
			Name:    "smtp-username",
			Usage:   "SMTP username",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_USERNAME"), toml.TOML("smtp.username", configFile)),
		},
		&cli.StringFlag{
			Name:    "smtp-password",
			Usage:   "SMTP password",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_PASSWORD"), toml.TOML("smtp.password", configFile)),
		},
		&cli.StringFlag{
			Name:    "smtp-from",
			Value:   "no-reply@localhost",
			Usage:   "Sender address of passcode mails",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_FROM"), toml.TOML("smtp.from", configFile)),
		},
		&cli.StringFlag{
			Name:    "smtp-from-name",
			Value:   "SocialNet",
			Usage:   "Sender display name of passcode mails",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_FROM_NAME"), toml.TOML("smtp.from_name", configFile)),
		},
		&cli.BoolFlag{
			Name:    "smtp-tls",
			Value:   true,
			Usage:   "Require TLS for SMTP (implicit on port 465, STARTTLS otherwise)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_TLS"), toml.TOML("smtp.tls", configFile)),
		},
		// OAuth2 flags
		&cli.StringFlag{
			Name:    "oauth-state-key",
			Usage:   "OAuth2 state cookie hash key (32-byte hex, auto-generated if empty)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("OAUTH_STATE_KEY"), toml.TOML("oauth.state_key", configFile)),
		},
		&cli.StringFlag{
			Name:    "oauth-success-redirect",
			Usage:   "Frontend URL receiving tokens after OAuth2 login (empty returns JSON)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("OAUTH_SUCCESS_REDIRECT"), toml.TOML("oauth.success_redirect", configFile)),
		},
		&cli.StringFlag{
			Name:    "oauth-google-client-id",
			Sources: cli.NewValueSourceChain(cli.EnvVar("OAUTH_GOOGLE_CLIENT_ID"), toml.TOML("oauth.google.client_id", configFile)),
		},
		&cli.StringFlag{
			Name:    "oauth-google-client-secret",
			Sources: cli.NewValueSourceChain(cli.EnvVar("OAUTH_GOOGLE_CLIENT_SECRET"), toml.TOML("oauth.google.client_secret", configFile)),
		},
		&cli.StringFlag{
			Name:    "oauth-github-client-id",
			Sources: cli.NewValueSourceChain(cli.EnvVar("OAUTH_GITHUB_CLIENT_ID"), toml.TOML("oauth.github.client_id", configFile)),
		},
		&cli.StringFlag{
			Name:    "oauth-github-client-secret",
			Sources: cli.NewValueSourceChain(cli.EnvVar("OAUTH_GITHUB_CLIENT_SECRET"), toml.TOML("oauth.github.client_secret", configFile)),
		},
		&cli.StringFlag{
			Name:    "oauth-facebook-client-id",
			Sources: cli.NewValueSourceChain(cli.EnvVar("OAUTH_FACEBOOK_CLIENT_ID"), toml.TOML("oauth.facebook.client_id", configFile)),
		},
		&cli.StringFlag{
			Name:    "oauth-facebook-client-secret",
			Sources: cli.NewValueSourceChain(cli.EnvVar("OAUTH_FACEBOOK_CLIENT_SECRET"), toml.TOML("oauth.facebook.client_secret", configFile)),
		},
		// Event flags
		&cli.StringSliceFlag{
			Name:    "kafka-brokers",
			Usage:   "Kafka brokers for user-created events (empty keeps events in-process)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("KAFKA_BROKERS"), toml.TOML("events.brokers", configFile)),
		},
		&cli.StringFlag{
			Name:    "kafka-topic",
			Value:   "user-registration",
			Usage:   "Kafka topic for user-created events",
			Sources: cli.NewValueSourceChain(cli.EnvVar("KAFKA_TOPIC"), toml.TOML("events.topic", configFile)),
		},
		// Validation pipeline flags
		&cli.StringSliceFlag{
			Name:    "public-route",
			Usage:   `Route bypassing token validation as "METHOD /prefix" (repeatable, defaults to the auth endpoints)`,
			Sources: cli.NewValueSourceChain(cli.EnvVar("PUBLIC_ROUTES"), toml.TOML("auth.public_routes", configFile)),
		},
		&cli.BoolFlag{
			Name:    "touch-on-use",
			Value:   true,
			Usage:   "Record last-used time of sessions on each authenticated request",
			Sources: cli.NewValueSourceChain(cli.EnvVar("TOUCH_ON_USE"), toml.TOML("auth.touch_on_use", configFile)),
		},
		&cli.IntFlag{
			Name:    "password-min-length",
			Value:   6,
			Usage:   "Minimum password length",
			Sources: cli.NewValueSourceChain(cli.EnvVar("PASSWORD_MIN_LENGTH"), toml.TOML("auth.password_min_length", configFile)),
		},
		&cli.StringFlag{
			Name:    "admin-email",
			Usage:   "Bootstrap admin account created when no admin exists",
			Sources: cli.NewValueSourceChain(cli.EnvVar("ADMIN_EMAIL"), toml.TOML("auth.admin_email", configFile)),
		},
		&cli.StringFlag{
			Name:    "admin-password",
			Usage:   "Password of the bootstrap admin account",
			Sources: cli.NewValueSourceChain(cli.EnvVar("ADMIN_PASSWORD"), toml.TOML("auth.admin_password", configFile)),
		},
		&cli.DurationFlag{
			Name:    "cleanup-interval",
			Value:   time.Hour,
			Usage:   "Interval of the stale session and passcode sweep (0 disables)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("CLEANUP_INTERVAL"), toml.TOML("cleanup.interval", configFile)),
		},
	}
}
