package pause

import "go.uber.org/fx"

var Module = fx.Module("pause.service",
	fx.Provide(NewService),
)
