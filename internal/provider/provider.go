package provider

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/notify-relay/internal/domain"
)

// Provider is the outbound delivery port for one notification kind.
// Implementations never retry; retry policy belongs to the pipeline.
type Provider interface {
	Kind() domain.Kind
	Send(ctx context.Context, job *domain.Job) (*Receipt, error)
}

// Receipt stores provider call metadata for audit and persistence.
type Receipt struct {
	StatusCode int
	Body       string
	MessageID  string
}

// Registry resolves the provider for a kind.
type Registry map[domain.Kind]Provider

func NewRegistry(providers ...Provider) (Registry, error) {
	registry := make(Registry, len(providers))
	for _, p := range providers {
		if p == nil {
			return nil, fmt.Errorf("provider is required")
		}
		kind := p.Kind()
		if !kind.IsValid() {
			return nil, fmt.Errorf("provider has invalid kind %q", kind)
		}
		if _, exists := registry[kind]; exists {
			return nil, fmt.Errorf("duplicate provider for kind %q", kind)
		}
		registry[kind] = p
	}
	return registry, nil
}

func (r Registry) Get(kind domain.Kind) (Provider, error) {
	p, ok := r[kind]
	if !ok {
		return nil, fmt.Errorf("no provider registered for kind %q", kind)
	}
	return p, nil
}
