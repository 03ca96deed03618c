// Package email abstracts campaign email delivery behind a provider
// registry, with per-organization suppression and an auditable event trail.
package email

import (
	"context"
	"fmt"
	"sync"
)

// Message is one outbound email.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Provider delivers email through one concrete backend.
type Provider interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Registry maps provider names to implementations.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	def       string
}

// NewRegistry creates an empty registry with the given default provider name.
func NewRegistry(defaultProvider string) *Registry {
	return &Registry{providers: map[string]Provider{}, def: defaultProvider}
}

// Register adds a provider.
func (r *Registry) Register(p Provider) error {
	if p == nil || p.Name() == "" {
		return fmt.Errorf("invalid email provider")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.Name()]; exists {
		return fmt.Errorf("email provider already registered: %s", p.Name())
	}
	r.providers[p.Name()] = p
	return nil
}

// Get resolves a provider by name, falling back to the default when name is
// empty.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.def
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("email provider not configured: %s", name)
	}
	return p, nil
}
