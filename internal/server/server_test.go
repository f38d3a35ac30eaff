package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	catalogdomain "github.com/hypergraphlabs/meridian/internal/catalog/domain"
	catalogservice "github.com/hypergraphlabs/meridian/internal/catalog/service"
	"github.com/hypergraphlabs/meridian/internal/clock"
	appconfig "github.com/hypergraphlabs/meridian/internal/config"
	creditdomain "github.com/hypergraphlabs/meridian/internal/credit/domain"
	creditservice "github.com/hypergraphlabs/meridian/internal/credit/service"
	"github.com/hypergraphlabs/meridian/internal/gateway/gatewaytest"
	"github.com/hypergraphlabs/meridian/internal/notification"
	"github.com/hypergraphlabs/meridian/internal/pause"
	"github.com/hypergraphlabs/meridian/internal/proration"
	subdomain "github.com/hypergraphlabs/meridian/internal/subscription/domain"
	subservice "github.com/hypergraphlabs/meridian/internal/subscription/service"
	teamdomain "github.com/hypergraphlabs/meridian/internal/team/domain"
	teamservice "github.com/hypergraphlabs/meridian/internal/team/service"
	webhookdomain "github.com/hypergraphlabs/meridian/internal/webhook/domain"
	webhookservice "github.com/hypergraphlabs/meridian/internal/webhook/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	server  *Server
	gateway *gatewaytest.Fake
	credits creditdomain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

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
		&teamdomain.Team{},
		&teamdomain.Member{},
		&pause.Record{},
		&webhookdomain.EventRecord{},
	))

	tiers := []catalogdomain.Tier{
		{ID: "free", Name: "Free", IncludedCredits: 100},
		{ID: "pro", Name: "Pro", PriceCents: 2900, IncludedCredits: 2000, Currency: "USD", ExternalPriceRef: "price_pro"},
		{ID: "team", Name: "Team", PriceCents: 4900, SeatPriceCents: 4900, IncludedCredits: 5000, TeamTier: true, Currency: "USD", ExternalPriceRef: "price_team"},
	}
	for _, tier := range tiers {
		require.NoError(t, db.Create(&tier).Error)
	}
	require.NoError(t, db.Create(&catalogdomain.ServiceCost{ServiceKey: "chat.completion", Name: "Chat completion", UnitCost: 1}).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fc := clock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	fake := gatewaytest.New().WithNow(fc.Now)
	log := zap.NewNop()

	catalog := catalogservice.NewService(catalogservice.Params{DB: db, Log: log})
	credits := creditservice.NewService(creditservice.Params{
		DB: db, Node: node, Catalog: catalog, Clock: fc, Log: log,
	})
	subs := subservice.NewService(subservice.Params{
		DB: db, Node: node, Catalog: catalog, Credits: credits, Gateway: fake, Clock: fc, Log: log,
	})
	prorations := proration.NewService(proration.Params{
		Subs: subs, Catalog: catalog, Gateway: fake, Clock: fc, Log: log,
	})
	pauses := pause.NewService(pause.Params{
		DB: db, Node: node, Subs: subs, Gateway: fake, Clock: fc, Log: log,
	})
	teams := teamservice.NewService(teamservice.Params{
		DB: db, Node: node, Subs: subs, Catalog: catalog, Gateway: fake, Clock: fc, Log: log,
	})
	reconciler := webhookservice.NewReconciler(webhookservice.Params{
		DB: db, Node: node, Subs: subs, Credits: credits, Catalog: catalog,
		Notifier: notification.NewLogNotifier(log), Clock: fc, Log: log,
	})

	cfg := appconfig.Config{Environment: "test"}
	srv := NewServer(ServerParams{
		Gin:           NewEngine(cfg),
		Cfg:           cfg,
		Log:           log,
		Subscriptions: subs,
		Credits:       credits,
		Catalog:       catalog,
		Teams:         teams,
		Pauses:        pauses,
		Prorations:    prorations,
		Reconciler:    reconciler,
	})

	return &fixture{server: srv, gateway: fake, credits: credits}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	f.server.Engine().ServeHTTP(rec, req)
	return rec
}

func TestSubscribeAndBalance(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/subscriptions", gin.H{
		"owner_id": "owner_a",
		"email":    "a@example.com",
		"tier_id":  "pro",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/credits/owner_a/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			Balance int64 `json:"balance"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	// 100 signup credits plus 2000 included with the pro tier.
	assert.Equal(t, int64(2100), resp.Data.Balance)
}

func TestDebitBeyondBalanceReturnsPaymentRequired(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/subscriptions/owner_b", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/credits/owner_b/debit", gin.H{
		"amount":      500,
		"description": "bulk job",
	})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "insufficient_credits")
}

func TestCancelTwiceReturnsConflict(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/subscriptions", gin.H{
		"owner_id": "owner_c",
		"email":    "c@example.com",
		"tier_id":  "pro",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/subscriptions/owner_c/cancel", gin.H{"at_period_end": false})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/subscriptions/owner_c/cancel", gin.H{"at_period_end": false})
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}

func TestListTiers(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/tiers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pro")

	rec = f.do(t, http.MethodGet, "/api/tiers/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPauseOverHTTP(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/subscriptions", gin.H{
		"owner_id": "owner_p",
		"email":    "p@example.com",
		"tier_id":  "pro",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/subscriptions/owner_p/pause", gin.H{"reason": "vacation"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// A second pause conflicts with the open one.
	rec = f.do(t, http.MethodPost, "/api/subscriptions/owner_p/pause", gin.H{})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/subscriptions/owner_p/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestStripeWebhookUnsignedDevMode(t *testing.T) {
	f := newFixture(t)

	payload := []byte(`{
		"id": "evt_http_1",
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_1", "metadata": {"owner_id": "owner_w", "credits": "500"}}}
	}`)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	f.server.Engine().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	balance, err := f.credits.Balance(req.Context(), "owner_w")
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)

	// Replayed delivery is acknowledged without a second grant.
	req = httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	rec = httptest.NewRecorder()
	f.server.Engine().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	balance, err = f.credits.Balance(req.Context(), "owner_w")
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)
}
