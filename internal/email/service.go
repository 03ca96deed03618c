package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loopline-io/loopline/internal/db"
)

// Outcome is the auditable result of one delivery attempt.
type Outcome string

const (
	OutcomeSent       Outcome = "sent"
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeFailed     Outcome = "failed"
)

// SendInput describes one campaign email to deliver.
type SendInput struct {
	OrgID       string
	To          string
	Subject     string
	HTML        string
	Provider    string
	CampaignID  string
	RecipientID string
}

// Service checks the org suppression list, delivers through the provider
// registry, and records the outcome.
type Service struct {
	pool     *pgxpool.Pool
	registry *Registry
	from     string
	logger   *slog.Logger
}

// NewService builds the email service.
func NewService(log *slog.Logger, pool *pgxpool.Pool, registry *Registry, from string) *Service {
	return &Service{
		pool:     pool,
		registry: registry,
		from:     from,
		logger:   log.With(slog.String("service", "email")),
	}
}

// Deliver sends one email unless the address is suppressed for the org.
// Every attempt leaves an email_events row; when the input references a
// campaign recipient, that row is updated with the final status.
func (s *Service) Deliver(ctx context.Context, in SendInput) (Outcome, error) {
	suppressed, err := s.isSuppressed(ctx, in.OrgID, in.To)
	if err != nil {
		return "", err
	}
	if suppressed {
		if err := s.record(ctx, in, OutcomeSuppressed, "address on suppression list"); err != nil {
			return "", err
		}
		s.logger.Info("delivery suppressed",
			slog.String("org_id", in.OrgID), slog.String("to", in.To))
		return OutcomeSuppressed, nil
	}

	provider, err := s.registry.Get(in.Provider)
	if err != nil {
		return "", err
	}
	sendErr := provider.Send(ctx, Message{
		From:    s.from,
		To:      in.To,
		Subject: in.Subject,
		HTML:    in.HTML,
	})
	if sendErr != nil {
		if recErr := s.record(ctx, in, OutcomeFailed, sendErr.Error()); recErr != nil {
			s.logger.Error("record failed delivery", slog.Any("error", recErr))
		}
		return OutcomeFailed, fmt.Errorf("deliver via %s: %w", provider.Name(), sendErr)
	}
	if err := s.record(ctx, in, OutcomeSent, ""); err != nil {
		return "", err
	}
	return OutcomeSent, nil
}

func (s *Service) isSuppressed(ctx context.Context, orgID, address string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, `
		SELECT 1 FROM email_suppressions WHERE org_id = $1 AND address = $2`,
		orgID, address).Scan(&one)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check suppression list: %w", err)
}

func (s *Service) record(ctx context.Context, in SendInput, outcome Outcome, detail string) error {
	return db.WithOrgTx(ctx, s.pool, in.OrgID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO email_events (org_id, address, subject, outcome, detail)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''))`,
			in.OrgID, in.To, in.Subject, string(outcome), detail)
		if err != nil {
			return fmt.Errorf("record email event: %w", err)
		}
		if in.RecipientID == "" {
			return nil
		}
		status := string(outcome)
		var sentAt *time.Time
		if outcome == OutcomeSent {
			now := time.Now().UTC()
			sentAt = &now
		}
		_, err = tx.Exec(ctx, `
			UPDATE campaign_recipients SET status = $2, sent_at = COALESCE($3, sent_at)
			WHERE id = $1 AND org_id = $4`,
			in.RecipientID, status, sentAt, in.OrgID)
		if err != nil {
			return fmt.Errorf("update campaign recipient: %w", err)
		}
		return nil
	})
}
