package timesheet

import (
	"github.com/carebound/carebound/internal/timesheet/service"
	"go.uber.org/fx"
)

var Module = fx.Module("timesheet.service",
	fx.Provide(service.New),
)
