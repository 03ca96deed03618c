package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loopline-io/loopline/internal/config"
	"github.com/loopline-io/loopline/internal/outbound"
)

type upcomingEvent struct {
	ID           string
	OrgID        string
	Summary      string
	StartAt      time.Time
	Token        *string
	ContactName  string
	ContactPhone string
}

// Reminders dispatches pre-appointment reminders.
type Reminders struct {
	pool   *pgxpool.Pool
	router *outbound.Router
	cfg    config.CalendarConfig
	logger *slog.Logger
}

// NewReminders builds the reminder dispatcher.
func NewReminders(log *slog.Logger, pool *pgxpool.Pool, router *outbound.Router, cfg config.CalendarConfig) *Reminders {
	return &Reminders{
		pool:   pool,
		router: router,
		cfg:    cfg,
		logger: log.With(slog.String("service", "reminders")),
	}
}

// Run sends a reminder for every pending event inside the lookahead window
// that has no recent reminder. reminder_sent_at is stamped only after the
// send succeeds, so a failed delivery is retried on the next run. A second
// run inside the cooldown window sees the stamp and skips.
func (r *Reminders) Run(ctx context.Context, now time.Time) error {
	events, err := r.loadUpcoming(ctx, now)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if err := r.remind(ctx, ev, now); err != nil {
			r.logger.Error("reminder dispatch failed",
				slog.String("event_id", ev.ID),
				slog.String("org_id", ev.OrgID),
				slog.Any("error", err))
		}
	}
	return nil
}

func (r *Reminders) loadUpcoming(ctx context.Context, now time.Time) ([]upcomingEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT e.id, e.org_id, e.summary, e.start_at, e.rsvp_token,
		       COALESCE(c.name, ''), COALESCE(c.phone, '')
		FROM calendar_events e
		LEFT JOIN contacts c ON c.id = e.contact_id
		WHERE e.rsvp_status = 'pending'
		  AND e.start_at > $1 AND e.start_at <= $2
		  AND (e.reminder_sent_at IS NULL OR e.reminder_sent_at < $3)`,
		now, now.Add(r.cfg.ReminderLookahead.Std()), now.Add(-r.cfg.ReminderCooldown.Std()))
	if err != nil {
		return nil, fmt.Errorf("load upcoming events: %w", err)
	}
	defer rows.Close()

	var out []upcomingEvent
	for rows.Next() {
		var ev upcomingEvent
		if err := rows.Scan(&ev.ID, &ev.OrgID, &ev.Summary, &ev.StartAt, &ev.Token, &ev.ContactName, &ev.ContactPhone); err != nil {
			return nil, fmt.Errorf("scan upcoming event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *Reminders) remind(ctx context.Context, ev upcomingEvent, now time.Time) error {
	if ev.ContactPhone == "" {
		return nil
	}

	token, err := r.ensureToken(ctx, ev)
	if err != nil {
		return err
	}

	outcome, err := r.router.Send(ctx, outbound.SendRequest{
		OrgID:          ev.OrgID,
		To:             ev.ContactPhone,
		Text:           RenderReminder(ev.ContactName, ev.Summary, ev.StartAt, r.confirmLink(token)),
		IdempotencyKey: fmt.Sprintf("reminder:%s:%s", ev.ID, now.Format("2006-01-02")),
	})
	if err != nil {
		return err
	}
	if outcome.Note == outbound.NoteServiceNotConfigured {
		// Nothing was delivered; leave the stamp unset so the reminder goes
		// out once a transport is configured.
		r.logger.Warn("reminder recorded without delivery",
			slog.String("event_id", ev.ID), slog.String("org_id", ev.OrgID))
		return nil
	}

	_, err = r.pool.Exec(ctx, `
		UPDATE calendar_events SET reminder_sent_at = $2 WHERE id = $1`,
		ev.ID, now)
	if err != nil {
		return fmt.Errorf("stamp reminder_sent_at: %w", err)
	}
	return nil
}

// ensureToken lazily mints the event's RSVP token on first reminder.
func (r *Reminders) ensureToken(ctx context.Context, ev upcomingEvent) (string, error) {
	if ev.Token != nil && *ev.Token != "" {
		return *ev.Token, nil
	}
	token := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		UPDATE calendar_events SET rsvp_token = $2
		WHERE id = $1 AND rsvp_token IS NULL`,
		ev.ID, token)
	if err != nil {
		return "", fmt.Errorf("mint rsvp token: %w", err)
	}
	// A concurrent run may have won the conditional update; read back.
	var stored string
	if err := r.pool.QueryRow(ctx, `
		SELECT rsvp_token FROM calendar_events WHERE id = $1`, ev.ID).Scan(&stored); err != nil {
		return "", fmt.Errorf("read rsvp token: %w", err)
	}
	return stored, nil
}

func (r *Reminders) confirmLink(token string) string {
	base := r.cfg.PublicBaseURL
	if base == "" {
		base = "http://localhost:8080"
	}
	return fmt.Sprintf("%s/rsvp/%s?action=confirm", base, token)
}

// RenderReminder fills the reminder template.
func RenderReminder(name, summary string, startAt time.Time, link string) string {
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("Hi %s! Reminder: %s on %s. Confirm here: %s",
		name, summary, startAt.Format("Mon Jan 2 at 15:04"), link)
}
