package queues

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loopline-io/loopline/internal/email"
	"github.com/loopline-io/loopline/internal/jobs"
)

// Dunning ladder thresholds.
const (
	overdueNoticeAfter = 2 * 24 * time.Hour
	deactivateAfter    = 8 * 24 * time.Hour
)

type pendingInvoice struct {
	ID              string
	OrgID           string
	DueAt           time.Time
	RemindedAt      *time.Time
	OverdueNoticeAt *time.Time
	BillingEmail    string
}

// Billing builds the billing:renewals processor. The daily tick scans
// pending invoices past due and walks each one down the dunning ladder:
// same-day reminder, two-day overdue notice, deactivation at eight-plus
// days. Each invoice is read, branched, and written independently.
func Billing(log *slog.Logger, pool *pgxpool.Pool, mailer *email.Service) jobs.Processor {
	logger := log.With(slog.String("queue", jobs.QueueBilling))
	return func(ctx context.Context, _ json.RawMessage) error {
		now := time.Now().UTC()
		invoices, err := loadPendingInvoices(ctx, pool, now)
		if err != nil {
			return err
		}
		for _, inv := range invoices {
			if err := applyDunningStep(ctx, pool, mailer, inv, now); err != nil {
				logger.Error("dunning step failed",
					slog.String("invoice_id", inv.ID),
					slog.String("org_id", inv.OrgID),
					slog.Any("error", err))
			}
		}
		return nil
	}
}

func loadPendingInvoices(ctx context.Context, pool *pgxpool.Pool, now time.Time) ([]pendingInvoice, error) {
	rows, err := pool.Query(ctx, `
		SELECT i.id, i.org_id, i.due_at, i.reminded_at, i.overdue_notice_at,
		       COALESCE((SELECT c.email FROM contacts c WHERE c.org_id = i.org_id AND c.email IS NOT NULL LIMIT 1), '')
		FROM invoices i
		JOIN organizations o ON o.id = i.org_id
		WHERE i.status = 'pending' AND i.due_at <= $1 AND o.active`,
		now)
	if err != nil {
		return nil, fmt.Errorf("scan pending invoices: %w", err)
	}
	defer rows.Close()

	var out []pendingInvoice
	for rows.Next() {
		var inv pendingInvoice
		if err := rows.Scan(&inv.ID, &inv.OrgID, &inv.DueAt, &inv.RemindedAt, &inv.OverdueNoticeAt, &inv.BillingEmail); err != nil {
			return nil, fmt.Errorf("scan invoice row: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// DunningStep names the action chosen for one invoice.
type DunningStep string

const (
	StepNone       DunningStep = "none"
	StepReminder   DunningStep = "reminder"
	StepNotice     DunningStep = "notice"
	StepDeactivate DunningStep = "deactivate"
)

// SelectDunningStep picks the ladder step for one invoice given the current
// time. Steps already taken (stamped timestamps) are not repeated.
func SelectDunningStep(inv pendingInvoice, now time.Time) DunningStep {
	overdue := now.Sub(inv.DueAt)
	switch {
	case overdue >= deactivateAfter:
		return StepDeactivate
	case overdue >= overdueNoticeAfter:
		if inv.OverdueNoticeAt == nil {
			return StepNotice
		}
	default:
		if inv.RemindedAt == nil {
			return StepReminder
		}
	}
	return StepNone
}

func applyDunningStep(ctx context.Context, pool *pgxpool.Pool, mailer *email.Service, inv pendingInvoice, now time.Time) error {
	switch SelectDunningStep(inv, now) {
	case StepReminder:
		if err := sendDunningMail(ctx, mailer, inv, "Your invoice is due today"); err != nil {
			return err
		}
		_, err := pool.Exec(ctx, `UPDATE invoices SET reminded_at = $2 WHERE id = $1`, inv.ID, now)
		return err
	case StepNotice:
		if err := sendDunningMail(ctx, mailer, inv, "Your invoice is overdue"); err != nil {
			return err
		}
		_, err := pool.Exec(ctx, `UPDATE invoices SET overdue_notice_at = $2 WHERE id = $1`, inv.ID, now)
		return err
	case StepDeactivate:
		_, err := pool.Exec(ctx, `
			UPDATE organizations SET active = FALSE, deactivated_at = $2
			WHERE id = $1 AND active`,
			inv.OrgID, now)
		return err
	default:
		return nil
	}
}

func sendDunningMail(ctx context.Context, mailer *email.Service, inv pendingInvoice, subject string) error {
	if inv.BillingEmail == "" {
		return nil
	}
	_, err := mailer.Deliver(ctx, email.SendInput{
		OrgID:   inv.OrgID,
		To:      inv.BillingEmail,
		Subject: subject,
		HTML:    fmt.Sprintf("<p>%s. Invoice %s.</p>", subject, inv.ID),
	})
	return err
}
