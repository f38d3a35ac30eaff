package service

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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc     subdomain.Service
	credits creditdomain.Service
	gateway *gatewaytest.Fake
	db      *gorm.DB
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
		{ID: "free", Name: "Free", IncludedCredits: 100, Interval: catalogdomain.IntervalMonth},
		{ID: "pro", Name: "Pro", PriceCents: 2900, IncludedCredits: 2000, Interval: catalogdomain.IntervalMonth, ExternalPriceRef: "price_pro"},
		{ID: "team", Name: "Team", PriceCents: 4900, SeatPriceCents: 4900, IncludedCredits: 5000, TeamTier: true, Interval: catalogdomain.IntervalMonth, ExternalPriceRef: "price_team"},
	}
	for i := range tiers {
		require.NoError(t, db.Create(&tiers[i]).Error)
	}

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fc := clock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	fake := gatewaytest.New().WithNow(fc.Now)

	cat := catalogservice.NewService(catalogservice.Params{DB: db, Log: zap.NewNop()})
	credits := creditservice.NewService(creditservice.Params{
		DB: db, Node: node, Catalog: cat, Clock: fc, Log: zap.NewNop(),
	})
	svc := NewService(Params{
		DB:      db,
		Node:    node,
		Catalog: cat,
		Credits: credits,
		Gateway: fake,
		Clock:   fc,
		Log:     zap.NewNop(),
	})

	return &fixture{svc: svc, credits: credits, gateway: fake, db: db, clock: fc}
}

func TestEnsureAccountProvisionsFreeTier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account, err := f.svc.EnsureAccount(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "free", account.TierID)
	assert.Equal(t, subdomain.StatusActive, account.Status)
	assert.Equal(t, subdomain.KindIndividual, account.Kind)

	balance, err := f.credits.Balance(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	// Provisioning is idempotent.
	again, err := f.svc.EnsureAccount(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, account.ID, again.ID)

	balance, err = f.credits.Balance(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account, err := f.svc.Subscribe(ctx, subdomain.SubscribeRequest{
		OwnerID: "owner-1",
		Email:   "owner@example.com",
		TierID:  "pro",
	})
	require.NoError(t, err)
	assert.Equal(t, "pro", account.TierID)
	assert.Equal(t, subdomain.StatusActive, account.Status)
	assert.NotEmpty(t, account.ExternalCustomerRef)
	assert.NotEmpty(t, account.ExternalSubRef)
	require.NotNil(t, account.CurrentPeriodEnd)

	// Free signup credits plus the pro tier grant.
	balance, err := f.credits.Balance(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2100), balance)

	_, err = f.svc.Subscribe(ctx, subdomain.SubscribeRequest{OwnerID: "owner-1", TierID: "pro"})
	assert.ErrorIs(t, err, subdomain.ErrAlreadySubscribed)
}

func TestSubscribeGatewayFailureLeavesLocalStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gateway.CreateSubscriptionErr = gatewaydomain.ErrCardDeclined

	_, err := f.svc.Subscribe(ctx, subdomain.SubscribeRequest{
		OwnerID: "owner-1",
		TierID:  "pro",
	})
	assert.ErrorIs(t, err, gatewaydomain.ErrCardDeclined)

	account, err := f.svc.Get(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "free", account.TierID)
	assert.Empty(t, account.ExternalSubRef)

	balance, err := f.credits.Balance(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestSubscribeWithTrial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account, err := f.svc.Subscribe(ctx, subdomain.SubscribeRequest{
		OwnerID:   "owner-1",
		TierID:    "pro",
		TrialDays: 14,
	})
	require.NoError(t, err)
	assert.Equal(t, subdomain.StatusTrialing, account.Status)
	require.NotNil(t, account.TrialEndsAt)
}

func TestCancelImmediate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Subscribe(ctx, subdomain.SubscribeRequest{OwnerID: "owner-1", TierID: "pro"})
	require.NoError(t, err)

	account, err := f.svc.Cancel(ctx, "owner-1", false)
	require.NoError(t, err)
	assert.Equal(t, subdomain.StatusCanceled, account.Status)
	assert.Equal(t, "free", account.TierID)
	require.NotNil(t, account.EndedAt)
	assert.False(t, account.AutoRenew)

	_, err = f.svc.Cancel(ctx, "owner-1", false)
	assert.ErrorIs(t, err, subdomain.ErrAlreadyCanceled)
}

func TestResubscribeAfterCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Subscribe(ctx, subdomain.SubscribeRequest{OwnerID: "owner-1", TierID: "pro"})
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, "owner-1", false)
	require.NoError(t, err)

	// A canceled record never transitions back on its own.
	_, err = f.svc.UpdateStatus(ctx, "owner-1", subdomain.StatusActive, "nope")
	assert.ErrorIs(t, err, subdomain.ErrInvalidTransition)

	// A new agreement starts over the canceled record with a fresh
	// gateway binding.
	second, err := f.svc.Subscribe(ctx, subdomain.SubscribeRequest{OwnerID: "owner-1", TierID: "pro"})
	require.NoError(t, err)
	assert.Equal(t, subdomain.StatusActive, second.Status)
	assert.Equal(t, "pro", second.TierID)
	assert.NotEmpty(t, second.ExternalSubRef)
	assert.NotEqual(t, first.ExternalSubRef, second.ExternalSubRef)
	assert.Nil(t, second.EndedAt)

	history, err := f.svc.History(ctx, "owner-1", 10)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, "resubscribe", history[0].Reason)
}

func TestCancelAtPeriodEndThenSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Subscribe(ctx, subdomain.SubscribeRequest{OwnerID: "owner-1", TierID: "pro"})
	require.NoError(t, err)

	account, err := f.svc.Cancel(ctx, "owner-1", true)
	require.NoError(t, err)
	assert.Equal(t, subdomain.StatusActive, account.Status)
	assert.True(t, account.CancelAtPeriodEnd)
	assert.False(t, account.AutoRenew)

	// Nothing to do before the boundary.
	n, err := f.svc.SweepPeriodCancellations(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.clock.Advance(32 * 24 * time.Hour)
	n, err = f.svc.SweepPeriodCancellations(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	account, err = f.svc.Get(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, subdomain.StatusCanceled, account.Status)
	assert.Equal(t, "free", account.TierID)
	assert.False(t, account.CancelAtPeriodEnd)
}

func TestChangePlanUpgradeAndDowngrade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Subscribe(ctx, subdomain.SubscribeRequest{OwnerID: "owner-1", TierID: "pro"})
	require.NoError(t, err)

	account, err := f.svc.ChangePlan(ctx, "owner-1", "team", true)
	require.NoError(t, err)
	assert.Equal(t, "team", account.TierID)
	assert.Equal(t, subdomain.KindTeam, account.Kind)

	account, err = f.svc.ChangePlan(ctx, "owner-1", "free", false)
	require.NoError(t, err)
	assert.Equal(t, "free", account.TierID)
	assert.Empty(t, account.ExternalSubRef)
}

func TestChangePlanWithoutGatewayLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.EnsureAccount(ctx, "owner-1")
	require.NoError(t, err)

	_, err = f.svc.ChangePlan(ctx, "owner-1", "pro", true)
	assert.ErrorIs(t, err, subdomain.ErrNotGatewayLinked)
}

func TestUpdateStatusTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Subscribe(ctx, subdomain.SubscribeRequest{OwnerID: "owner-1", TierID: "pro"})
	require.NoError(t, err)

	account, err := f.svc.UpdateStatus(ctx, "owner-1", subdomain.StatusPastDue, "invoice failed")
	require.NoError(t, err)
	assert.Equal(t, subdomain.StatusPastDue, account.Status)

	account, err = f.svc.UpdateStatus(ctx, "owner-1", subdomain.StatusCanceled, "gave up")
	require.NoError(t, err)
	assert.Equal(t, subdomain.StatusCanceled, account.Status)

	_, err = f.svc.UpdateStatus(ctx, "owner-1", subdomain.StatusActive, "nope")
	assert.ErrorIs(t, err, subdomain.ErrInvalidTransition)

	history, err := f.svc.History(ctx, "owner-1", 10)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, subdomain.StatusCanceled, history[0].ToStatus)
}

func TestReconcileExternalIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account, err := f.svc.Subscribe(ctx, subdomain.SubscribeRequest{OwnerID: "owner-1", TierID: "pro"})
	require.NoError(t, err)

	periodEnd := f.clock.Now().AddDate(0, 1, 0)
	state := subdomain.ExternalState{
		SubRef:           account.ExternalSubRef,
		Status:           subdomain.StatusPastDue,
		CurrentPeriodEnd: &periodEnd,
	}

	updated, err := f.svc.ReconcileExternal(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, subdomain.StatusPastDue, updated.Status)

	var before int64
	require.NoError(t, f.db.Model(&subdomain.History{}).Count(&before).Error)

	// Replaying the same event changes nothing.
	replayed, err := f.svc.ReconcileExternal(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, subdomain.StatusPastDue, replayed.Status)

	var after int64
	require.NoError(t, f.db.Model(&subdomain.History{}).Count(&after).Error)
	assert.Equal(t, before, after)
}

func TestReconcileExternalRespectsTerminalStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account, err := f.svc.Subscribe(ctx, subdomain.SubscribeRequest{OwnerID: "owner-1", TierID: "pro"})
	require.NoError(t, err)
	subRef := account.ExternalSubRef

	_, err = f.svc.Cancel(ctx, "owner-1", false)
	require.NoError(t, err)

	// A stale "active" from the gateway cannot resurrect a canceled account.
	reconciled, err := f.svc.ReconcileExternal(ctx, subdomain.ExternalState{
		SubRef: subRef,
		Status: subdomain.StatusActive,
	})
	require.NoError(t, err)
	assert.Equal(t, subdomain.StatusCanceled, reconciled.Status)
}

func TestSeatAccounting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account, err := f.svc.Subscribe(ctx, subdomain.SubscribeRequest{
		OwnerID: "owner-1",
		TierID:  "team",
		Seats:   3,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), account.Seats)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.svc.ReserveSeat(ctx, account.ID))
	}
	err = f.svc.ReserveSeat(ctx, account.ID)
	assert.ErrorIs(t, err, subdomain.ErrSeatLimitReached)

	require.NoError(t, f.svc.ReleaseSeat(ctx, account.ID))
	require.NoError(t, f.svc.ReserveSeat(ctx, account.ID))

	// Cannot shrink below current occupancy.
	err = f.svc.SetSeats(ctx, account.ID, 2)
	assert.ErrorIs(t, err, subdomain.ErrSeatsBelowUsage)

	require.NoError(t, f.svc.SetSeats(ctx, account.ID, 5))
	account, err = f.svc.Get(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), account.Seats)
	assert.Equal(t, int64(3), account.UsedSeats)
}

func TestSweepTrialExpirations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Subscribe(ctx, subdomain.SubscribeRequest{
		OwnerID:   "owner-1",
		TierID:    "pro",
		TrialDays: 7,
	})
	require.NoError(t, err)

	n, err := f.svc.SweepTrialExpirations(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.clock.Advance(8 * 24 * time.Hour)
	n, err = f.svc.SweepTrialExpirations(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	account, err := f.svc.Get(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, subdomain.StatusPastDue, account.Status)
}
