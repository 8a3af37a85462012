package alert

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"autotrageur/internal/config"
	"autotrageur/internal/core"
)

// sendMailFunc matches smtp.SendMail; swapped out in tests.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailChannel delivers alerts over SMTP.
type EmailChannel struct {
	cfg      *config.EmailConfig
	sendMail sendMailFunc
}

func NewEmailChannel(cfg *config.EmailConfig) *EmailChannel {
	return &EmailChannel{cfg: cfg, sendMail: smtp.SendMail}
}

func (e *EmailChannel) Name() string {
	return "email"
}

func (e *EmailChannel) Send(ctx context.Context, payload core.AlertPayload) error {
	if e.cfg == nil || e.cfg.Host == "" || len(e.cfg.Recipients) == 0 {
		return nil
	}

	subject := fmt.Sprintf("[%s] %s", payload.Level, payload.Title)

	var body strings.Builder
	body.WriteString(payload.Message)
	if len(payload.Fields) > 0 {
		body.WriteString("\n")
		for k, v := range payload.Fields {
			fmt.Fprintf(&body, "\n%s: %s", k, v)
		}
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		e.cfg.From, strings.Join(e.cfg.Recipients, ", "), subject, body.String())

	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)
	auth := smtp.PlainAuth("", string(e.cfg.Username), string(e.cfg.Password), e.cfg.Host)

	done := make(chan error, 1)
	go func() {
		done <- e.sendMail(addr, auth, e.cfg.From, e.cfg.Recipients, []byte(msg))
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp delivery failed: %w", err)
		}
		return nil
	}
}
