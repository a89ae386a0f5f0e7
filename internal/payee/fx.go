package payee

import (
	"github.com/carebound/carebound/internal/payee/repository"
	"github.com/carebound/carebound/internal/payee/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payee.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
