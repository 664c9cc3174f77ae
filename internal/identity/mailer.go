package identity

import (
	"context"
	"fmt"
	"net/smtp"

	"go.uber.org/zap"

	"github.com/Minimalist03/fediversaopuzzle/internal/config"
)

// Mailer delivers transactional email.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// SMTPMailer sends mail through an SMTP relay.
type SMTPMailer struct {
	cfg    config.EmailConfig
	logger *zap.Logger
}

func NewSMTPMailer(cfg config.EmailConfig, logger *zap.Logger) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, logger: logger.Named("mailer")}
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sender := m.cfg.FromEmail
	if sender == "" {
		sender = "no-reply@localhost"
	}
	from := sender
	if m.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", m.cfg.FromName, sender)
	}

	var auth smtp.Auth
	if m.cfg.Username != "" && m.cfg.Password != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", from, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			htmlBody,
	)

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	if err := smtp.SendMail(addr, auth, sender, []string{to}, msg); err != nil {
		m.logger.Error("SMTP send failed", zap.String("to", to), zap.Error(err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	m.logger.Info("Email sent", zap.String("to", to), zap.String("addr", addr))
	return nil
}

// LogMailer only logs messages. Used when no SMTP host is configured.
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger.Named("mailer")}
}

func (m *LogMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	m.logger.Warn("SMTP not configured, email not delivered",
		zap.String("to", to),
		zap.String("subject", subject))
	return nil
}
