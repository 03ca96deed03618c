// Package jobs is the Postgres-backed queue layer: six named queues, a
// shared worker harness with bounded concurrency, retry with exponential
// backoff, dead-lettering, and graceful shutdown.
package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/loopline-io/loopline/internal/config"
)

// Queue names. Each queue has exactly one processor registered with the
// worker harness.
const (
	QueueEmailSend    = "email-send"
	QueueRender       = "content:render"
	QueueBilling      = "billing:renewals"
	QueueCalendarTick = "calendar:tick"
	QueueRepurpose    = "repurpose"
	QueueAlerts       = "alerts"
)

// AllQueues lists every queue the worker process serves.
var AllQueues = []string{
	QueueEmailSend,
	QueueRender,
	QueueBilling,
	QueueCalendarTick,
	QueueRepurpose,
	QueueAlerts,
}

// Processor handles one job payload. Returning an error triggers a retry
// unless the error is marked NonRetryable.
type Processor func(ctx context.Context, payload json.RawMessage) error

// QueueConfig tunes one queue's worker behavior.
type QueueConfig struct {
	Concurrency int
	MaxAttempts int
	BackoffBase time.Duration
	// StaleAfter is how long a claimed job may sit unacknowledged before
	// another worker may reclaim it (vanished-worker redelivery).
	StaleAfter time.Duration
}

// defaultQueueConfig per queue; email and render get more slots because
// their work is dominated by provider latency.
func defaultQueueConfig(queue string) QueueConfig {
	cfg := QueueConfig{
		Concurrency: 1,
		MaxAttempts: 3,
		BackoffBase: 2 * time.Second,
		StaleAfter:  5 * time.Minute,
	}
	switch queue {
	case QueueEmailSend, QueueRender:
		cfg.Concurrency = 3
	case QueueRepurpose:
		cfg.Concurrency = 2
	}
	return cfg
}

// ResolveQueueConfig merges the built-in defaults with file overrides.
func ResolveQueueConfig(queue string, overrides map[string]config.QueueTuning) QueueConfig {
	cfg := defaultQueueConfig(queue)
	tuning, ok := overrides[queue]
	if !ok {
		return cfg
	}
	if tuning.Concurrency > 0 {
		cfg.Concurrency = tuning.Concurrency
	}
	if tuning.MaxAttempts > 0 {
		cfg.MaxAttempts = tuning.MaxAttempts
	}
	if tuning.Backoff.Std() > 0 {
		cfg.BackoffBase = tuning.Backoff.Std()
	}
	return cfg
}

// RetryDelay computes the pause before the next attempt: base doubling per
// attempt, capped at one minute.
func RetryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 2 * time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= time.Minute {
			return time.Minute
		}
	}
	if d > time.Minute {
		d = time.Minute
	}
	return d
}
