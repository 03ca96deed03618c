package channel

import (
	"context"
	"fmt"
	"sync"
)

// SendResult carries the provider-assigned id for a delivered message.
type SendResult struct {
	ProviderMessageID string
}

// MessageTransport delivers outbound messages on one concrete transport.
// Implementations must treat repeated calls with the same idempotency key as
// a no-op retry, not a duplicate send.
type MessageTransport interface {
	Name() string
	SendText(ctx context.Context, to, text, idempotencyKey string) (SendResult, error)
	SendMedia(ctx context.Context, to, mediaURL, caption, idempotencyKey string) (SendResult, error)
}

// Registry maps transport names to implementations. Transports are registered
// at startup; lookups never reflect on method sets at call time.
type Registry struct {
	mu         sync.RWMutex
	transports map[string]MessageTransport
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{transports: map[string]MessageTransport{}}
}

// Register adds a transport to the registry.
func (r *Registry) Register(t MessageTransport) error {
	if t == nil {
		return fmt.Errorf("transport is nil")
	}
	name := t.Name()
	if name == "" {
		return fmt.Errorf("transport name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.transports[name]; exists {
		return fmt.Errorf("transport already registered: %s", name)
	}
	r.transports[name] = t
	return nil
}

// MustRegister calls Register and panics on error.
func (r *Registry) MustRegister(t MessageTransport) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get returns the transport for the given name.
func (r *Registry) Get(name string) (MessageTransport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[name]
	return t, ok
}

// Names returns all registered transport names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.transports))
	for name := range r.transports {
		names = append(names, name)
	}
	return names
}
