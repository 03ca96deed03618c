package jobs

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/loopline-io/loopline/internal/config"
)

func TestRetryDelaySchedule(t *testing.T) {
	t.Parallel()

	base := 2 * time.Second
	want := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}
	for i, expected := range want {
		attempt := i + 1
		if got := RetryDelay(base, attempt); got != expected {
			t.Fatalf("RetryDelay(attempt=%d) = %v, want %v", attempt, got, expected)
		}
	}
	if got := RetryDelay(base, 20); got != time.Minute {
		t.Fatalf("expected cap at one minute, got %v", got)
	}
}

func TestNonRetryableDetection(t *testing.T) {
	t.Parallel()

	plain := errors.New("boom")
	if IsNonRetryable(plain) {
		t.Fatal("plain error must be retryable")
	}
	marked := NonRetryable(plain)
	if !IsNonRetryable(marked) {
		t.Fatal("marked error must be non-retryable")
	}
	wrapped := fmt.Errorf("processing failed: %w", marked)
	if !IsNonRetryable(wrapped) {
		t.Fatal("marking must survive wrapping")
	}
	if NonRetryable(nil) != nil {
		t.Fatal("NonRetryable(nil) must be nil")
	}
}

func TestResolveQueueConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := ResolveQueueConfig(QueueEmailSend, nil)
	if cfg.Concurrency != 3 {
		t.Fatalf("email-send default concurrency = %d, want 3", cfg.Concurrency)
	}
	cfg = ResolveQueueConfig(QueueBilling, nil)
	if cfg.Concurrency != 1 || cfg.MaxAttempts != 3 {
		t.Fatalf("unexpected billing defaults: %+v", cfg)
	}
}

func TestResolveQueueConfigOverrides(t *testing.T) {
	t.Parallel()

	overrides := map[string]config.QueueTuning{
		QueueRepurpose: {
			Concurrency: 5,
			MaxAttempts: 7,
			Backoff:     config.Duration(10 * time.Second),
		},
	}
	cfg := ResolveQueueConfig(QueueRepurpose, overrides)
	if cfg.Concurrency != 5 || cfg.MaxAttempts != 7 || cfg.BackoffBase != 10*time.Second {
		t.Fatalf("overrides not applied: %+v", cfg)
	}

	// Zero-valued override fields keep the defaults.
	overrides[QueueRepurpose] = config.QueueTuning{Concurrency: 4}
	cfg = ResolveQueueConfig(QueueRepurpose, overrides)
	if cfg.Concurrency != 4 || cfg.MaxAttempts != 3 {
		t.Fatalf("partial override wrong: %+v", cfg)
	}
}
