package email

import (
	"context"
	"errors"

	"safereport_backend/platform/config"
)

// Sender delivers one rendered HTML message.
type Sender interface {
	Send(ctx context.Context, toEmail, subject, htmlContent string) error
}

// NoopSender drops every message. It is used when e-mail is disabled.
type NoopSender struct{}

func (NoopSender) Send(ctx context.Context, toEmail, subject, htmlContent string) error {
	return nil
}

// NewSender returns an SMTP sender, or a NoopSender when e-mail is disabled.
func NewSender(cfg config.EmailConfig) (Sender, error) {
	if !cfg.GetEmailEnabled() {
		return NoopSender{}, nil
	}
	if cfg.GetSMTPHost() == "" {
		return nil, errors.New("SMTP_HOST is required when email is enabled")
	}
	if cfg.GetEmailFromAddress() == "" {
		return nil, errors.New("EMAIL_FROM_ADDRESS is required when email is enabled")
	}
	return NewSMTPSender(
		cfg.GetSMTPHost(),
		cfg.GetSMTPPort(),
		cfg.GetSMTPUsername(),
		cfg.GetSMTPPassword(),
		cfg.GetEmailFromAddress(),
		cfg.GetEmailFromName(),
	), nil
}
