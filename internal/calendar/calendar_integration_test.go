package calendar_test

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loopline-io/loopline/internal/calendar"
	"github.com/loopline-io/loopline/internal/channel"
	"github.com/loopline-io/loopline/internal/config"
	"github.com/loopline-io/loopline/internal/db"
	"github.com/loopline-io/loopline/internal/ingest"
	"github.com/loopline-io/loopline/internal/observability"
	"github.com/loopline-io/loopline/internal/outbound"
)

type recordingTransport struct {
	name string

	mu   sync.Mutex
	sent []string
}

func (f *recordingTransport) Name() string { return f.name }

func (f *recordingTransport) SendText(_ context.Context, to, _, _ string) (channel.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	return channel.SendResult{ProviderMessageID: fmt.Sprintf("fake-%d", len(f.sent))}, nil
}

func (f *recordingTransport) SendMedia(ctx context.Context, to, _, _, key string) (channel.SendResult, error) {
	return f.SendText(ctx, to, "", key)
}

func (f *recordingTransport) sentTo(to string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, recipient := range f.sent {
		if recipient == to {
			n++
		}
	}
	return n
}

func setupCalendarIntegrationTest(t *testing.T) (*pgxpool.Pool, func()) {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("skip integration test: TEST_POSTGRES_DSN is not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("skip integration test: cannot connect to database: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("skip integration test: database ping failed: %v", err)
	}
	if err := db.MigrateDSN(dsn); err != nil {
		pool.Close()
		t.Fatalf("migrate: %v", err)
	}
	return pool, func() { pool.Close() }
}

func createEventFixture(ctx context.Context, t *testing.T, pool *pgxpool.Pool, phone string, startAt time.Time) (orgID, eventID string) {
	t.Helper()

	err := pool.QueryRow(ctx, `
		INSERT INTO organizations (name) VALUES ('calendar-integration-test')
		RETURNING id`).Scan(&orgID)
	if err != nil {
		t.Fatalf("create org: %v", err)
	}
	var contactID string
	err = pool.QueryRow(ctx, `
		INSERT INTO contacts (org_id, name, phone) VALUES ($1, 'Dana', $2)
		RETURNING id`, orgID, phone).Scan(&contactID)
	if err != nil {
		t.Fatalf("create contact: %v", err)
	}
	err = pool.QueryRow(ctx, `
		INSERT INTO calendar_events (org_id, contact_id, summary, start_at)
		VALUES ($1, $2, 'Checkup', $3)
		RETURNING id`, orgID, contactID, startAt).Scan(&eventID)
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	return orgID, eventID
}

func testPhone() string {
	return fmt.Sprintf("1555%07d", rand.Intn(10000000))
}

func newTestReminders(pool *pgxpool.Pool, registry *channel.Registry) *calendar.Reminders {
	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	router := outbound.NewRouter(log, pool, registry,
		ingest.DefaultConventions, observability.NewNopMetrics())
	return calendar.NewReminders(log, pool, router, config.CalendarConfig{
		GraceMinutes:      15,
		ReminderLookahead: config.Duration(24 * time.Hour),
		ReminderCooldown:  config.Duration(10 * time.Minute),
	})
}

func TestSweepNoShowsIdempotent(t *testing.T) {
	pool, cleanup := setupCalendarIntegrationTest(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	_, eventID := createEventFixture(ctx, t, pool, testPhone(), now.Add(-2*time.Hour))

	affected, err := calendar.SweepNoShows(ctx, pool, 15, now)
	if err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if affected < 1 {
		t.Fatalf("expected the past event to transition, got %d rows", affected)
	}

	var status string
	var noshowAt time.Time
	readEvent := func() {
		t.Helper()
		if err := pool.QueryRow(ctx, `
			SELECT rsvp_status, noshow_at FROM calendar_events WHERE id = $1`,
			eventID).Scan(&status, &noshowAt); err != nil {
			t.Fatalf("read event: %v", err)
		}
	}
	readEvent()
	if status != "noshow" {
		t.Fatalf("expected noshow, got %q", status)
	}
	firstStamp := noshowAt

	// A later sweep must not touch the already-transitioned row.
	if _, err := calendar.SweepNoShows(ctx, pool, 15, now.Add(time.Hour)); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	readEvent()
	if status != "noshow" || !noshowAt.Equal(firstStamp) {
		t.Fatalf("second sweep mutated the row: status %q, stamp %v -> %v",
			status, firstStamp, noshowAt)
	}
}

func TestRemindersDispatchOncePerCooldown(t *testing.T) {
	pool, cleanup := setupCalendarIntegrationTest(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	phone := testPhone()
	_, eventID := createEventFixture(ctx, t, pool, phone, now.Add(time.Hour))

	fake := &recordingTransport{name: outbound.DefaultTransport}
	registry := channel.NewRegistry()
	registry.MustRegister(fake)
	reminders := newTestReminders(pool, registry)

	if err := reminders.Run(ctx, now); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if got := fake.sentTo(phone); got != 1 {
		t.Fatalf("expected 1 reminder, got %d", got)
	}

	var sentAt *time.Time
	if err := pool.QueryRow(ctx, `
		SELECT reminder_sent_at FROM calendar_events WHERE id = $1`,
		eventID).Scan(&sentAt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if sentAt == nil {
		t.Fatal("expected reminder_sent_at stamped after delivery")
	}

	// Inside the cooldown window the second run is a no-op for this event.
	if err := reminders.Run(ctx, now.Add(time.Minute)); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := fake.sentTo(phone); got != 1 {
		t.Fatalf("expected no second reminder inside cooldown, got %d", got)
	}
}

func TestRemindersDoNotStampWithoutTransport(t *testing.T) {
	pool, cleanup := setupCalendarIntegrationTest(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	_, eventID := createEventFixture(ctx, t, pool, testPhone(), now.Add(time.Hour))

	reminders := newTestReminders(pool, channel.NewRegistry())
	if err := reminders.Run(ctx, now); err != nil {
		t.Fatalf("run: %v", err)
	}

	var sentAt *time.Time
	if err := pool.QueryRow(ctx, `
		SELECT reminder_sent_at FROM calendar_events WHERE id = $1`,
		eventID).Scan(&sentAt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if sentAt != nil {
		t.Fatalf("expected no stamp when nothing was delivered, got %v", *sentAt)
	}
}
