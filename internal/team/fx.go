package team

import (
	"github.com/hypergraphlabs/meridian/internal/team/service"
	"go.uber.org/fx"
)

var Module = fx.Module("team.service",
	fx.Provide(service.NewService),
)
