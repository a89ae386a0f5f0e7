package webhook

import (
	"github.com/carebound/carebound/internal/webhook/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook.gateway",
	fx.Provide(service.NewGateway),
)
