package proration

import (
	"context"

	catalogdomain "github.com/hypergraphlabs/meridian/internal/catalog/domain"
	"github.com/hypergraphlabs/meridian/internal/clock"
	gatewaydomain "github.com/hypergraphlabs/meridian/internal/gateway/domain"
	subdomain "github.com/hypergraphlabs/meridian/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type service struct {
	subs    subdomain.Service
	catalog catalogdomain.Service
	gateway gatewaydomain.Gateway
	clock   clock.Clock
	log     *zap.Logger
}

type Params struct {
	fx.In

	Subs    subdomain.Service
	Catalog catalogdomain.Service
	Gateway gatewaydomain.Gateway
	Clock   clock.Clock
	Log     *zap.Logger
}

func NewService(p Params) Service {
	return &service{
		subs:    p.Subs,
		catalog: p.Catalog,
		gateway: p.Gateway,
		clock:   p.Clock,
		log:     p.Log.Named("proration.service"),
	}
}

func (s *service) PreviewChange(ctx context.Context, ownerID, newTierID string) (*Preview, error) {
	account, err := s.subs.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	newTier, err := s.catalog.GetTier(ctx, newTierID)
	if err != nil {
		return nil, err
	}
	if newTier.ID == account.TierID {
		return nil, ErrSameTier
	}
	currentTier, err := s.catalog.GetTier(ctx, account.TierID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	preview := &Preview{
		OwnerID:       ownerID,
		CurrentTierID: currentTier.ID,
		NewTierID:     newTier.ID,
		ProrationDate: now,
		CurrentAmount: tierAmount(currentTier, account.Seats),
		Currency:      newTier.Currency,
		IsUpgrade:     newTier.PriceCents > currentTier.PriceCents,
	}

	if !account.GatewayLinked() {
		// No running agreement to prorate against: the quote is simply
		// the new tier's full price.
		preview.NewAmount = tierAmount(newTier, account.Seats)
		return preview, nil
	}

	quote, err := s.gateway.PreviewProration(ctx, account.ExternalSubRef, newTier.ExternalPriceRef, account.Seats, now)
	if err != nil {
		return nil, err
	}

	preview.ProrationDate = quote.ProrationDate
	preview.ProratedAmount = quote.ProratedAmount
	preview.NewAmount = quote.NewAmount
	preview.TotalAmount = quote.ProratedAmount
	if quote.Currency != "" {
		preview.Currency = quote.Currency
	}
	preview.IsCredit = preview.TotalAmount < 0
	return preview, nil
}

func (s *service) ApplyChange(ctx context.Context, ownerID, newTierID string) (*Preview, error) {
	preview, err := s.PreviewChange(ctx, ownerID, newTierID)
	if err != nil {
		return nil, err
	}

	if _, err := s.subs.ChangePlan(ctx, ownerID, newTierID, true); err != nil {
		return nil, err
	}

	s.log.Info("plan change applied",
		zap.String("owner_id", ownerID),
		zap.String("from_tier", preview.CurrentTierID),
		zap.String("to_tier", preview.NewTierID),
		zap.Int64("prorated_amount", preview.ProratedAmount),
	)
	return preview, nil
}

func tierAmount(tier catalogdomain.Tier, seats int64) int64 {
	if tier.TeamTier {
		if seats <= 0 {
			seats = 1
		}
		return tier.SeatPriceCents * seats
	}
	return tier.PriceCents
}
