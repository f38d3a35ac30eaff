package subscription

import (
	"github.com/hypergraphlabs/meridian/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(service.NewService),
)
