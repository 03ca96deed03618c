package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Addr != DefaultHTTPAddr {
		t.Fatalf("unexpected addr: %s", cfg.Server.Addr)
	}
	if cfg.Postgres.Host != DefaultPGHost || cfg.Postgres.Database != DefaultPGDatabase {
		t.Fatalf("unexpected postgres defaults: %+v", cfg.Postgres)
	}
	if cfg.Queues.PollInterval.Std() != time.Second {
		t.Fatalf("unexpected poll interval: %v", cfg.Queues.PollInterval.Std())
	}
	if cfg.Queues.MetricsAddr != ":9090" {
		t.Fatalf("unexpected metrics addr: %s", cfg.Queues.MetricsAddr)
	}
	if cfg.Calendar.GraceMinutes != 15 {
		t.Fatalf("unexpected grace minutes: %d", cfg.Calendar.GraceMinutes)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
addr = ":9999"

[meta]
app_secret = "s3cr3t"
verify_token = "v"

[queues]
poll_interval = "250ms"
shutdown_timeout = "30s"

[queues.overrides.repurpose]
concurrency = 4
backoff = "5s"

[calendar]
grace_minutes = 30
reminder_lookahead = "48h"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Fatalf("addr override lost: %s", cfg.Server.Addr)
	}
	if cfg.Meta.AppSecret != "s3cr3t" || cfg.Meta.VerifyToken != "v" {
		t.Fatalf("meta section not decoded: %+v", cfg.Meta)
	}
	if cfg.Queues.PollInterval.Std() != 250*time.Millisecond {
		t.Fatalf("duration not decoded: %v", cfg.Queues.PollInterval.Std())
	}
	tuning, ok := cfg.Queues.Overrides["repurpose"]
	if !ok || tuning.Concurrency != 4 || tuning.Backoff.Std() != 5*time.Second {
		t.Fatalf("queue overrides not decoded: %+v", cfg.Queues.Overrides)
	}
	if cfg.Calendar.GraceMinutes != 30 || cfg.Calendar.ReminderLookahead.Std() != 48*time.Hour {
		t.Fatalf("calendar section not decoded: %+v", cfg.Calendar)
	}
	// Untouched sections keep defaults.
	if cfg.Postgres.Port != DefaultPGPort {
		t.Fatalf("postgres default lost: %d", cfg.Postgres.Port)
	}
}

func TestDurationRejectsGarbage(t *testing.T) {
	t.Parallel()

	var d Duration
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}
