package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"

	"github.com/loopline-io/loopline/internal/config"
	"github.com/loopline-io/loopline/internal/jobs"
)

// Cron drives the recurring work: the two sweeps run in-process, the daily
// billing tick and per-org calendar ticks go through the queue layer so the
// worker fleet executes them.
type Cron struct {
	cron      *cron.Cron
	pool      *pgxpool.Pool
	store     *jobs.Store
	reminders *Reminders
	cfg       config.CalendarConfig
	logger    *slog.Logger
}

// NewCron builds the scheduler; Start registers and starts the entries.
func NewCron(log *slog.Logger, pool *pgxpool.Pool, store *jobs.Store, reminders *Reminders, cfg config.CalendarConfig) *Cron {
	return &Cron{
		cron:      cron.New(),
		pool:      pool,
		store:     store,
		reminders: reminders,
		cfg:       cfg,
		logger:    log.With(slog.String("service", "cron")),
	}
}

// Start registers the schedules and starts the cron loop.
func (c *Cron) Start() error {
	entries := []struct {
		spec string
		name string
		run  func(ctx context.Context) error
	}{
		{"*/5 * * * *", "noshow-sweep", c.runNoShowSweep},
		{"*/10 * * * *", "reminder-dispatch", c.runReminders},
		{"0 6 * * *", "billing-tick", c.enqueueBillingTick},
		{"0 7 * * *", "calendar-ticks", c.enqueueCalendarTicks},
	}
	for _, entry := range entries {
		entry := entry
		_, err := c.cron.AddFunc(entry.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if err := entry.run(ctx); err != nil {
				c.logger.Error("scheduled run failed",
					slog.String("job", entry.name), slog.Any("error", err))
			}
		})
		if err != nil {
			return fmt.Errorf("register cron entry %s: %w", entry.name, err)
		}
	}
	c.cron.Start()
	c.logger.Info("cron started", slog.Int("entries", len(entries)))
	return nil
}

// Stop halts scheduling and waits for running entries.
func (c *Cron) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
}

func (c *Cron) runNoShowSweep(ctx context.Context) error {
	affected, err := SweepNoShows(ctx, c.pool, c.cfg.GraceMinutes, time.Now().UTC())
	if err != nil {
		return err
	}
	if affected > 0 {
		c.logger.Info("no-show sweep", slog.Int64("transitioned", affected))
	}
	return nil
}

func (c *Cron) runReminders(ctx context.Context) error {
	return c.reminders.Run(ctx, time.Now().UTC())
}

func (c *Cron) enqueueBillingTick(ctx context.Context) error {
	_, err := c.store.Enqueue(ctx, jobs.QueueBilling, map[string]any{}, jobs.EnqueueOptions{})
	return err
}

// enqueueCalendarTicks fans out one calendar:tick job per active org.
func (c *Cron) enqueueCalendarTicks(ctx context.Context) error {
	rows, err := c.pool.Query(ctx, `SELECT id FROM organizations WHERE active`)
	if err != nil {
		return fmt.Errorf("list active orgs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var orgID string
		if err := rows.Scan(&orgID); err != nil {
			return err
		}
		if _, err := c.store.Enqueue(ctx, jobs.QueueCalendarTick,
			map[string]string{"orgId": orgID}, jobs.EnqueueOptions{}); err != nil {
			c.logger.Error("enqueue calendar tick",
				slog.String("org_id", orgID), slog.Any("error", err))
		}
	}
	return rows.Err()
}
