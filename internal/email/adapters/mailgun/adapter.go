// Package mailgun delivers campaign email through the Mailgun API.
package mailgun

import (
	"context"
	"fmt"
	"log/slog"

	mg "github.com/mailgun/mailgun-go/v5"

	"github.com/loopline-io/loopline/internal/config"
	"github.com/loopline-io/loopline/internal/email"
)

const providerName = "mailgun"

type Adapter struct {
	client *mg.Client
	domain string
	logger *slog.Logger
}

// New creates a Mailgun adapter from config.
func New(log *slog.Logger, cfg config.MailgunConfig) *Adapter {
	return &Adapter{
		client: mg.NewMailgun(cfg.APIKey),
		domain: cfg.Domain,
		logger: log.With(slog.String("adapter", providerName)),
	}
}

func (a *Adapter) Name() string { return providerName }

func (a *Adapter) Send(ctx context.Context, msg email.Message) error {
	m := mg.NewMessage(a.domain, msg.From, msg.Subject, msg.HTML, msg.To)
	m.SetHTML(msg.HTML)

	resp, err := a.client.Send(ctx, m)
	if err != nil {
		return fmt.Errorf("mailgun send: %w", err)
	}
	a.logger.Debug("mailgun accepted message", slog.String("id", resp.ID))
	return nil
}

var _ email.Provider = (*Adapter)(nil)
