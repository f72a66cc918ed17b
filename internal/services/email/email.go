// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package email delivers one-time passcodes.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"codeberg.org/oliverandrich/socialnet-auth/internal/config"
	"codeberg.org/oliverandrich/socialnet-auth/internal/i18n"
	"codeberg.org/oliverandrich/socialnet-auth/internal/models"
)

// Service sends passcode mails over SMTP.
type Service struct {
	cfg *config.SMTPConfig
	ttl time.Duration
}

// NewService creates a new email service. ttl is quoted in the mail body.
func NewService(cfg *config.SMTPConfig, ttl time.Duration) (*Service, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("SMTP host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("SMTP from address is required")
	}

	return &Service{cfg: cfg, ttl: ttl}, nil
}

// SendOTP mails code to the recipient in the locale carried by ctx.
func (s *Service) SendOTP(ctx context.Context, to, code string, purpose models.OtpType) error {
	subject, body := ComposeOTP(ctx, code, purpose, s.ttl)
	return s.send(to, i18n.GetLocale(ctx), subject, body)
}

// ComposeOTP renders the localized subject and plain-text body of a passcode mail.
func ComposeOTP(ctx context.Context, code string, purpose models.OtpType, ttl time.Duration) (string, string) {
	label := PurposeLabel(ctx, purpose)

	subject := i18n.TData(ctx, "otp_email_subject", map[string]any{"Purpose": label})
	body := i18n.TData(ctx, "otp_email_body", map[string]any{
		"Purpose": label,
		"Code":    code,
		"Expiry":  i18n.TPlural(ctx, "otp_expiry", int(ttl.Minutes())),
		"AppName": i18n.T(ctx, "app_name"),
	})
	return subject, body
}

// PurposeLabel returns the human-readable name of an OTP type.
func PurposeLabel(ctx context.Context, purpose models.OtpType) string {
	id := "otp_purpose_" + strings.ToLower(string(purpose))
	if label := i18n.T(ctx, id); label != id {
		return label
	}
	return cases.Title(language.English).String(strings.ReplaceAll(strings.ToLower(string(purpose)), "_", " "))
}

// send sends an email via SMTP using go-mail.
func (s *Service) send(to, locale, subject, body string) error {
	msg := mail.NewMsg()

	if s.cfg.FromName != "" {
		if err := msg.FromFormat(s.cfg.FromName, s.cfg.From); err != nil {
			return fmt.Errorf("setting from address: %w", err)
		}
	} else {
		if err := msg.From(s.cfg.From); err != nil {
			return fmt.Errorf("setting from address: %w", err)
		}
	}

	if err := msg.To(to); err != nil {
		return fmt.Errorf("setting to address: %w", err)
	}

	msg.Subject(subject)
	msg.SetGenHeader(mail.HeaderContentLang, locale)
	msg.SetBodyString(mail.TypeTextPlain, body)

	// Build client options
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTimeout(10 * time.Second),
	}

	// Configure TLS based on config and port
	if s.cfg.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
		// Use implicit TLS (SSL) for port 465, STARTTLS for others
		if s.cfg.Port == 465 {
			opts = append(opts, mail.WithSSL())
		}
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	// Add authentication if credentials are provided
	if s.cfg.Username != "" && s.cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}

	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("creating mail client: %w", err)
	}

	if err := client.DialAndSend(msg); err != nil {
		return fmt.Errorf("sending email: %w", err)
	}

	return nil
}

// LogSender writes passcodes to the log instead of mailing them. Used when no
// SMTP host is configured.
type LogSender struct{}

// SendOTP logs the passcode.
func (LogSender) SendOTP(_ context.Context, to, code string, purpose models.OtpType) error {
	slog.Warn("otp_mail_not_configured", "to", to, "type", purpose, "code", code)
	return nil
}
