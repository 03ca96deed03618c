package transports

import (
	"errors"
	"testing"
	"time"

	"github.com/loopline-io/loopline/internal/channel"
)

func TestShouldRetryClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
		want   bool
	}{
		{"rate limited", errors.New("429"), 429, true},
		{"server error", errors.New("503"), 503, true},
		{"bad request", errors.New("400"), 400, false},
		{"unauthorized", errors.New("401"), 401, false},
		{"network error", errors.New("connection refused"), 0, true},
		{"no error no status", nil, 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ShouldRetry(tc.err, tc.status); got != tc.want {
				t.Fatalf("ShouldRetry(%v, %d) = %v, want %v", tc.err, tc.status, got, tc.want)
			}
		})
	}
}

func TestBackoffSchedule(t *testing.T) {
	t.Parallel()

	want := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		8 * time.Second, // capped
	}
	for attempt, expected := range want {
		if got := Backoff(attempt); got != expected {
			t.Fatalf("Backoff(%d) = %v, want %v", attempt, got, expected)
		}
	}
}

func TestKeyCacheReplay(t *testing.T) {
	t.Parallel()

	cache := NewKeyCache(time.Hour)
	if _, ok := cache.Lookup("k1"); ok {
		t.Fatal("unexpected hit on empty cache")
	}

	cache.Store("k1", channel.SendResult{ProviderMessageID: "p-1"})
	result, ok := cache.Lookup("k1")
	if !ok || result.ProviderMessageID != "p-1" {
		t.Fatalf("expected replay of stored result, got %v %v", result, ok)
	}
}

func TestKeyCacheIgnoresEmptyKey(t *testing.T) {
	t.Parallel()

	cache := NewKeyCache(time.Hour)
	cache.Store("", channel.SendResult{ProviderMessageID: "p-x"})
	if _, ok := cache.Lookup(""); ok {
		t.Fatal("empty key must never hit")
	}
}

func TestKeyCacheExpiry(t *testing.T) {
	t.Parallel()

	cache := NewKeyCache(time.Millisecond)
	cache.Store("k1", channel.SendResult{ProviderMessageID: "p-1"})
	time.Sleep(5 * time.Millisecond)
	if _, ok := cache.Lookup("k1"); ok {
		t.Fatal("expected expired entry to miss")
	}
}
