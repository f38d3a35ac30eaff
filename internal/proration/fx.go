package proration

import "go.uber.org/fx"

var Module = fx.Module("proration.service",
	fx.Provide(NewService),
)
