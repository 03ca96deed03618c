package outbound_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loopline-io/loopline/internal/channel"
	"github.com/loopline-io/loopline/internal/db"
	"github.com/loopline-io/loopline/internal/ingest"
	"github.com/loopline-io/loopline/internal/observability"
	"github.com/loopline-io/loopline/internal/outbound"
)

func setupOutboundIntegrationTest(t *testing.T) (*pgxpool.Pool, func()) {
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

func createOrg(ctx context.Context, t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	var orgID string
	err := pool.QueryRow(ctx, `
		INSERT INTO organizations (name) VALUES ('outbound-integration-test')
		RETURNING id`).Scan(&orgID)
	if err != nil {
		t.Fatalf("create org: %v", err)
	}
	return orgID
}

func TestSendRecordsWithoutConfiguredTransport(t *testing.T) {
	pool, cleanup := setupOutboundIntegrationTest(t)
	defer cleanup()
	ctx := context.Background()

	orgID := createOrg(ctx, t, pool)
	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	router := outbound.NewRouter(log, pool, channel.NewRegistry(),
		ingest.DefaultConventions, observability.NewNopMetrics())

	outcome, err := router.Send(ctx, outbound.SendRequest{
		OrgID: orgID,
		To:    "15551230000",
		Text:  "hello from nowhere",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if outcome.Note != outbound.NoteServiceNotConfigured {
		t.Fatalf("expected %q note, got %q", outbound.NoteServiceNotConfigured, outcome.Note)
	}
	if outcome.MessageID == "" {
		t.Fatal("expected the send to be recorded with a message id")
	}

	var status, channelName string
	var note *string
	err = pool.QueryRow(ctx, `
		SELECT status, channel, note FROM messages WHERE id = $1`,
		outcome.MessageID).Scan(&status, &channelName, &note)
	if err != nil {
		t.Fatalf("read message row: %v", err)
	}
	if status != "sent" {
		t.Fatalf("expected status sent, got %q", status)
	}
	if note == nil || *note != outbound.NoteServiceNotConfigured {
		t.Fatalf("expected note %q, got %v", outbound.NoteServiceNotConfigured, note)
	}
	// The row must carry the channel literal receipts are matched by.
	if channelName != channel.TypeWhatsAppCloud.String() {
		t.Fatalf("expected channel %q, got %q", channel.TypeWhatsAppCloud, channelName)
	}
}
