package pause

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
		&Record{},
	))

	tiers := []catalogdomain.Tier{
		{ID: "free", Name: "Free", IncludedCredits: 100},
		{ID: "pro", Name: "Pro", PriceCents: 2900, IncludedCredits: 2000, ExternalPriceRef: "price_pro"},
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
	subs := subservice.NewService(subservice.Params{
		DB: db, Node: node, Catalog: cat, Credits: credits, Gateway: fake, Clock: fc, Log: zap.NewNop(),
	})
	svc := NewService(Params{
		DB: db, Node: node, Subs: subs, Gateway: fake, Clock: fc, Log: zap.NewNop(),
	})

	return &fixture{svc: svc, subs: subs, gateway: fake, clock: fc}
}

func (f *fixture) subscribe(t *testing.T, ownerID string) *subdomain.Account {
	t.Helper()
	account, err := f.subs.Subscribe(context.Background(), subdomain.SubscribeRequest{
		OwnerID: ownerID,
		TierID:  "pro",
	})
	require.NoError(t, err)
	return account
}

func TestPauseAndResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.subscribe(t, "owner-1")

	record, err := f.svc.Pause(ctx, "owner-1", "vacation", nil)
	require.NoError(t, err)
	assert.Equal(t, "vacation", record.Reason)
	assert.Nil(t, record.ScheduledResumeAt)
	assert.Contains(t, f.gateway.Paused, account.ExternalSubRef)

	got, err := f.subs.Get(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, subdomain.StatusPaused, got.Status)

	_, err = f.svc.Pause(ctx, "owner-1", "again", nil)
	assert.ErrorIs(t, err, ErrAlreadyPaused)

	f.clock.Advance(10 * 24 * time.Hour)
	resumed, err := f.svc.Resume(ctx, "owner-1")
	require.NoError(t, err)
	require.NotNil(t, resumed.ResumedAt)
	assert.Equal(t, 10, resumed.DurationDays)
	assert.NotContains(t, f.gateway.Paused, account.ExternalSubRef)

	got, err = f.subs.Get(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, subdomain.StatusActive, got.Status)

	_, err = f.svc.Resume(ctx, "owner-1")
	assert.ErrorIs(t, err, ErrNotPaused)
}

func TestPauseRejectsResumeTimeOutsideHorizon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.subscribe(t, "owner-1")

	past := f.clock.Now().Add(-time.Hour)
	_, err := f.svc.Pause(ctx, "owner-1", "", &past)
	assert.ErrorIs(t, err, ErrInvalidResumeTime)

	tooFar := f.clock.Now().AddDate(0, 4, 0)
	_, err = f.svc.Pause(ctx, "owner-1", "", &tooFar)
	assert.ErrorIs(t, err, ErrInvalidResumeTime)
}

func TestSweepDueResumes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.subscribe(t, "owner-1")
	f.subscribe(t, "owner-2")

	resumeAt := f.clock.Now().AddDate(0, 0, 10)
	_, err := f.svc.Pause(ctx, "owner-1", "break", &resumeAt)
	require.NoError(t, err)
	_, err = f.svc.Pause(ctx, "owner-2", "indefinite", nil)
	require.NoError(t, err)

	// Before the scheduled time nothing resumes.
	n, err := f.svc.SweepDueResumes(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.clock.Advance(11 * 24 * time.Hour)
	n, err = f.svc.SweepDueResumes(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.subs.Get(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, subdomain.StatusActive, got.Status)

	// The indefinite pause is untouched.
	got, err = f.subs.Get(ctx, "owner-2")
	require.NoError(t, err)
	assert.Equal(t, subdomain.StatusPaused, got.Status)
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.subscribe(t, "owner-1")

	_, err := f.svc.Pause(ctx, "owner-1", "first", nil)
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)
	_, err = f.svc.Resume(ctx, "owner-1")
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	_, err = f.svc.Pause(ctx, "owner-1", "second", nil)
	require.NoError(t, err)

	records, err := f.svc.History(ctx, "owner-1", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "second", records[0].Reason)
	assert.Nil(t, records[0].ResumedAt)
	assert.Equal(t, "first", records[1].Reason)
	require.NotNil(t, records[1].ResumedAt)
}
