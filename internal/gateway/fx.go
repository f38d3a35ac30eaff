package gateway

import (
	"github.com/hypergraphlabs/meridian/internal/config"
	gatewaydomain "github.com/hypergraphlabs/meridian/internal/gateway/domain"
	stripegateway "github.com/hypergraphlabs/meridian/internal/gateway/stripe"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func provide(cfg config.Config, log *zap.Logger) gatewaydomain.Gateway {
	return stripegateway.New(cfg.Stripe.APIKey, cfg.Stripe.CallTimeout, log)
}

var Module = fx.Module("gateway",
	fx.Provide(provide),
)
