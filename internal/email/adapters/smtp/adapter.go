// Package smtp delivers campaign email through a plain SMTP relay.
package smtp

import (
	"context"
	"fmt"
	"log/slog"

	mail "github.com/wneessen/go-mail"

	"github.com/loopline-io/loopline/internal/config"
	"github.com/loopline-io/loopline/internal/email"
)

const providerName = "smtp"

type Adapter struct {
	cfg    config.SMTPConfig
	logger *slog.Logger
}

// New creates an SMTP adapter from config.
func New(log *slog.Logger, cfg config.SMTPConfig) *Adapter {
	return &Adapter{cfg: cfg, logger: log.With(slog.String("adapter", providerName))}
}

func (a *Adapter) Name() string { return providerName }

func (a *Adapter) Send(ctx context.Context, msg email.Message) error {
	m := mail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return fmt.Errorf("set from: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return fmt.Errorf("set to: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextHTML, msg.HTML)
	m.SetMessageID()

	port := a.cfg.Port
	if port == 0 {
		port = 587
	}
	client, err := mail.NewClient(a.cfg.Host,
		mail.WithPort(port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(a.cfg.Username),
		mail.WithPassword(a.cfg.Password),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

var _ email.Provider = (*Adapter)(nil)
