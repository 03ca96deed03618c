// Package transports holds helpers shared by the concrete transport
// implementations: retry classification, backoff, and idempotency-key
// replay caching.
package transports

import (
	"net"
	"sync"
	"time"

	"github.com/loopline-io/loopline/internal/channel"
)

// ShouldRetry classifies a provider call outcome. Network errors and 5xx /
// 429 responses are transient; other 4xx responses cannot be fixed by
// retrying.
func ShouldRetry(err error, httpStatus int) bool {
	if httpStatus == 429 || httpStatus >= 500 {
		return true
	}
	if httpStatus >= 400 {
		return false
	}
	if err == nil {
		return false
	}
	var netErr net.Error
	if ok := asNetError(err, &netErr); ok && netErr.Timeout() {
		return true
	}
	return true
}

func asNetError(err error, target *net.Error) bool {
	for err != nil {
		if ne, ok := err.(net.Error); ok {
			*target = ne
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// Backoff returns the delay before the given retry attempt (0-based),
// doubling from a 500ms base.
func Backoff(attempt int) time.Duration {
	d := 500 * time.Millisecond
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	if d > 8*time.Second {
		d = 8 * time.Second
	}
	return d
}

// KeyCache remembers recent idempotency keys and their results so a repeated
// send with the same key becomes a no-op replay instead of a duplicate
// provider call. Entries expire after the TTL.
type KeyCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]keyEntry
}

type keyEntry struct {
	result  channel.SendResult
	savedAt time.Time
}

// NewKeyCache creates a cache with the given entry TTL.
func NewKeyCache(ttl time.Duration) *KeyCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &KeyCache{ttl: ttl, entries: map[string]keyEntry{}}
}

// Lookup returns the cached result for a key, if still fresh.
func (c *KeyCache) Lookup(key string) (channel.SendResult, bool) {
	if key == "" {
		return channel.SendResult{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return channel.SendResult{}, false
	}
	if time.Since(entry.savedAt) > c.ttl {
		delete(c.entries, key)
		return channel.SendResult{}, false
	}
	return entry.result, true
}

// Store records the result for a key.
func (c *KeyCache) Store(key string, result channel.SendResult) {
	if key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, entry := range c.entries {
		if time.Since(entry.savedAt) > c.ttl {
			delete(c.entries, k)
		}
	}
	c.entries[key] = keyEntry{result: result, savedAt: time.Now()}
}
