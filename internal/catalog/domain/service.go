package domain

import "context"

// Service exposes read access to the pricing catalog.
type Service interface {
	GetTier(ctx context.Context, tierID string) (Tier, error)
	ListTiers(ctx context.Context) ([]Tier, error)
	ServiceUnitCost(ctx context.Context, serviceKey string) (ServiceCost, error)
}
