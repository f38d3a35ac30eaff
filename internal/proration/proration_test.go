package proration

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	catalogdomain "github.com/hypergraphlabs/meridian/internal/catalog/domain"
	catalogservice "github.com/hypergraphlabs/meridian/internal/catalog/service"
	"github.com/hypergraphlabs/meridian/internal/clock"
	creditdomain "github.com/hypergraphlabs/meridian/internal/credit/domain"
	creditservice "github.com/hypergraphlabs/meridian/internal/credit/service"
	gatewaydomain "github.com/hypergraphlabs/meridian/internal/gateway/domain"
	"github.com/hypergraphlabs/meridian/internal/gateway/gatewaytest"
	subdomain "github.com/hypergraphlabs/meridian/internal/subscription/domain"
	subservice "github.com/hypergraphlabs/meridian/internal/subscription/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc     Service
	subs    subdomain.Service
	gateway *gatewaytest.Fake
	clock   *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&catalogdomain.Tier{},
		&catalogdomain.ServiceCost{},
		&creditdomain.Account{},
		&creditdomain.Transaction{},
		&subdomain.Account{},
		&subdomain.History{},
	))

	tiers := []catalogdomain.Tier{
		{ID: "free", Name: "Free", IncludedCredits: 100, Currency: "USD"},
		{ID: "pro", Name: "Pro", PriceCents: 2900, IncludedCredits: 2000, Currency: "USD", ExternalPriceRef: "price_pro"},
		{ID: "scale", Name: "Scale", PriceCents: 9900, IncludedCredits: 10000, Currency: "USD", ExternalPriceRef: "price_scale"},
	}
	for i := range tiers {
		require.NoError(t, db.Create(&tiers[i]).Error)
	}

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fc := clock.NewFakeClock(time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC))
	fake := gatewaytest.New().WithNow(fc.Now)

	cat := catalogservice.NewService(catalogservice.Params{DB: db, Log: zap.NewNop()})
	credits := creditservice.NewService(creditservice.Params{
		DB: db, Node: node, Catalog: cat, Clock: fc, Log: zap.NewNop(),
	})
	subs := subservice.NewService(subservice.Params{
		DB: db, Node: node, Catalog: cat, Credits: credits, Gateway: fake, Clock: fc, Log: zap.NewNop(),
	})
	svc := NewService(Params{
		Subs: subs, Catalog: cat, Gateway: fake, Clock: fc, Log: zap.NewNop(),
	})

	return &fixture{svc: svc, subs: subs, gateway: fake, clock: fc}
}

func TestPreviewUpgradeChargesMore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.subs.Subscribe(ctx, subdomain.SubscribeRequest{OwnerID: "owner-1", TierID: "pro"})
	require.NoError(t, err)

	f.gateway.Quote = &gatewaydomain.ProrationQuote{
		ProrationDate:  f.clock.Now(),
		ProratedAmount: 3500,
		NewAmount:      9900,
		Currency:       "usd",
	}

	preview, err := f.svc.PreviewChange(ctx, "owner-1", "scale")
	require.NoError(t, err)
	assert.True(t, preview.IsUpgrade)
	assert.False(t, preview.IsCredit)
	assert.Equal(t, int64(2900), preview.CurrentAmount)
	assert.Equal(t, int64(3500), preview.ProratedAmount)
	assert.Equal(t, int64(9900), preview.NewAmount)
	assert.Equal(t, int64(3500), preview.TotalAmount)
	assert.GreaterOrEqual(t, preview.TotalAmount, int64(0))
	assert.Equal(t, "usd", preview.Currency)
}

func TestPreviewDowngradeYieldsCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.subs.Subscribe(ctx, subdomain.SubscribeRequest{OwnerID: "owner-1", TierID: "scale"})
	require.NoError(t, err)

	f.gateway.Quote = &gatewaydomain.ProrationQuote{
		ProrationDate:  f.clock.Now(),
		ProratedAmount: -4200,
		NewAmount:      2900,
		Currency:       "usd",
	}

	preview, err := f.svc.PreviewChange(ctx, "owner-1", "pro")
	require.NoError(t, err)
	assert.False(t, preview.IsUpgrade)
	assert.True(t, preview.IsCredit)
	assert.Equal(t, int64(9900), preview.CurrentAmount)
	assert.Equal(t, int64(-4200), preview.ProratedAmount)
	assert.Equal(t, int64(-4200), preview.TotalAmount)
}

func TestPreviewSameTier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.subs.Subscribe(ctx, subdomain.SubscribeRequest{OwnerID: "owner-1", TierID: "pro"})
	require.NoError(t, err)

	_, err = f.svc.PreviewChange(ctx, "owner-1", "pro")
	assert.ErrorIs(t, err, ErrSameTier)
}

func TestPreviewWithoutGatewayLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.subs.EnsureAccount(ctx, "owner-1")
	require.NoError(t, err)

	preview, err := f.svc.PreviewChange(ctx, "owner-1", "pro")
	require.NoError(t, err)
	assert.Equal(t, int64(0), preview.CurrentAmount)
	assert.Equal(t, int64(0), preview.ProratedAmount)
	assert.Equal(t, int64(2900), preview.NewAmount)
	assert.Equal(t, int64(0), preview.TotalAmount)
	assert.False(t, preview.IsCredit)
	assert.True(t, preview.IsUpgrade)
}

func TestApplyChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.subs.Subscribe(ctx, subdomain.SubscribeRequest{OwnerID: "owner-1", TierID: "pro"})
	require.NoError(t, err)

	f.gateway.Quote = &gatewaydomain.ProrationQuote{
		ProrationDate:  f.clock.Now(),
		ProratedAmount: 3500,
		NewAmount:      9900,
		Currency:       "usd",
	}

	preview, err := f.svc.ApplyChange(ctx, "owner-1", "scale")
	require.NoError(t, err)
	assert.Equal(t, "scale", preview.NewTierID)

	account, err := f.subs.Get(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "scale", account.TierID)
}
