package rail

import (
	"github.com/carebound/carebound/internal/config"
	"github.com/carebound/carebound/internal/rail/adapters"
	"github.com/carebound/carebound/internal/rail/adapters/stripe"
	"github.com/carebound/carebound/internal/rail/domain"
	"go.uber.org/fx"
)

func NewRegistry() *adapters.Registry {
	return adapters.NewRegistry(
		stripe.NewFactory(),
	)
}

// NewRail builds the configured provider's adapter from env credentials.
func NewRail(cfg config.Config, registry *adapters.Registry) (domain.Rail, error) {
	return registry.NewAdapter(cfg.RailProvider, adapters.AdapterConfig{
		APIKey:        cfg.RailAPIKey,
		BaseURL:       cfg.RailBaseURL,
		WebhookSecret: cfg.RailWebhookSecret,
	})
}

var Module = fx.Module("rail",
	fx.Provide(NewRegistry),
	fx.Provide(NewRail),
)
