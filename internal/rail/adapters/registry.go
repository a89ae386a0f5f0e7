package adapters

import (
	"strings"

	"github.com/carebound/carebound/internal/rail/domain"
)

// AdapterConfig carries the provider credentials from the environment.
type AdapterConfig struct {
	APIKey        string
	BaseURL       string
	WebhookSecret string
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (domain.Rail, error)
}

type Registry struct {
	factories map[string]AdapterFactory
}

func NewRegistry(factories ...AdapterFactory) *Registry {
	registry := &Registry{factories: map[string]AdapterFactory{}}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		provider := strings.ToLower(strings.TrimSpace(factory.Provider()))
		if provider == "" {
			continue
		}
		registry.factories[provider] = factory
	}
	return registry
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	_, ok := r.factories[provider]
	return ok
}

func (r *Registry) NewAdapter(provider string, cfg AdapterConfig) (domain.Rail, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	factory, ok := r.factories[provider]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return factory.NewAdapter(cfg)
}
