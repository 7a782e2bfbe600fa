// Package notify delivers one-time codes to users. The SMTP sender covers
// production; the log sender backs local development and tests.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"civis/pkg/platform/privacy"
)

// SMTPConfig points at the outbound mail relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender sends codes over a plain SMTP relay.
type SMTPSender struct {
	cfg SMTPConfig
}

func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, fmt.Errorf("smtp host and from address are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPSender{cfg: cfg}, nil
}

func (s *SMTPSender) SendLoginCode(ctx context.Context, email, name, code string) error {
	msg := buildMessage(s.cfg.From, email, name, code)
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	// net/smtp has no context support; run it in a goroutine so the
	// caller's deadline still bounds the wait.
	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, s.cfg.From, []string{email}, msg)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send login code: %w", err)
		}
		return nil
	}
}

func buildMessage(from, to, name, code string) []byte {
	greeting := "Hello"
	if name != "" {
		greeting = "Hello " + name
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	b.WriteString("Subject: Your verification code\r\n")
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&b, "%s,\r\n\r\nYour verification code is %s. It expires in 5 minutes.\r\n", greeting, code)
	b.WriteString("\r\nIf you did not request this code, you can ignore this message.\r\n")
	return []byte(b.String())
}

// LogSender writes the masked recipient to the log instead of sending mail.
// The code itself is never logged.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) SendLoginCode(ctx context.Context, email, _, _ string) error {
	s.logger.InfoContext(ctx, "login code issued (delivery disabled)",
		"email", privacy.MaskEmail(email))
	return nil
}
