package db

import (
	"testing"

	"github.com/google/uuid"

	"github.com/loopline-io/loopline/internal/config"
)

func TestParseUUID(t *testing.T) {
	t.Parallel()

	id := uuid.NewString()
	if _, err := ParseUUID(id); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := ParseUUID(" " + id + " "); err != nil {
		t.Fatalf("expected surrounding whitespace to be tolerated, got %v", err)
	}
	if _, err := ParseUUID("invalid"); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestDSN(t *testing.T) {
	t.Parallel()

	got := DSN(config.PostgresConfig{
		Host: "db.internal", Port: 5433, User: "app", Password: "pw",
		Database: "loopline", SSLMode: "require",
	})
	want := "postgres://app:pw@db.internal:5433/loopline?sslmode=require"
	if got != want {
		t.Fatalf("DSN = %q, want %q", got, want)
	}
}
