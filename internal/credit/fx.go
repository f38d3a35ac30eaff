package credit

import (
	"github.com/hypergraphlabs/meridian/internal/credit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("credit.service",
	fx.Provide(service.NewService),
)
