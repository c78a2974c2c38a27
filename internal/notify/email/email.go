// Package email forwards fired reminders by SMTP.
package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-companion/internal/jobs"
)

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	To       []string
}

// Enabled reports whether enough is configured to send mail.
func (c Config) Enabled() bool {
	return c.Host != "" && c.From != "" && len(c.To) > 0
}

// Sender handles sending reminder emails via SMTP.
type Sender struct {
	cfg    Config
	logger zerolog.Logger
	send   func(e *email.Email, addr string, auth smtp.Auth) error
}

// NewSender creates a new email sender.
func NewSender(cfg Config, logger zerolog.Logger) *Sender {
	return &Sender{
		cfg:    cfg,
		logger: logger,
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
}

// Deliver sends one delivery job as a plain-text email.
func (s *Sender) Deliver(ctx context.Context, job *jobs.DeliveryJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e := email.NewEmail()
	e.From = s.cfg.From
	e.To = append([]string(nil), s.cfg.To...)
	e.Subject = job.Title
	e.Text = []byte(body(job))

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%s", s.cfg.Host, s.cfg.Port)
	if err := s.send(e, addr, auth); err != nil {
		s.logger.Error().Err(err).Str("request_id", job.RequestID).Msg("Failed to send reminder email")
		return fmt.Errorf("failed to send reminder email: %w", err)
	}

	s.logger.Info().Strs("to", e.To).Str("subject", e.Subject).Msg("Reminder email sent")
	return nil
}

func body(job *jobs.DeliveryJob) string {
	var b strings.Builder
	b.WriteString(job.Body)
	b.WriteString("\n")
	if !job.FiredAt.IsZero() {
		fmt.Fprintf(&b, "\nSent %s\n", job.FiredAt.Format("2006-01-02 15:04"))
	}
	b.WriteString("\nFinance Companion")
	return b.String()
}
