// Package server exposes the billing core over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	catalogdomain "github.com/hypergraphlabs/meridian/internal/catalog/domain"
	appconfig "github.com/hypergraphlabs/meridian/internal/config"
	creditdomain "github.com/hypergraphlabs/meridian/internal/credit/domain"
	"github.com/hypergraphlabs/meridian/internal/pause"
	"github.com/hypergraphlabs/meridian/internal/proration"
	subdomain "github.com/hypergraphlabs/meridian/internal/subscription/domain"
	teamdomain "github.com/hypergraphlabs/meridian/internal/team/domain"
	webhookservice "github.com/hypergraphlabs/meridian/internal/webhook/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg appconfig.Config) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Server struct {
	engine        *gin.Engine
	cfg           appconfig.Config
	log           *zap.Logger
	subscriptions subdomain.Service
	credits       creditdomain.Service
	catalog       catalogdomain.Service
	teams         teamdomain.Service
	pauses        pause.Service
	prorations    proration.Service
	reconciler    *webhookservice.Reconciler
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           appconfig.Config
	Log           *zap.Logger
	Subscriptions subdomain.Service
	Credits       creditdomain.Service
	Catalog       catalogdomain.Service
	Teams         teamdomain.Service
	Pauses        pause.Service
	Prorations    proration.Service
	Reconciler    *webhookservice.Reconciler
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("http"),
		subscriptions: p.Subscriptions,
		credits:       p.Credits,
		catalog:       p.Catalog,
		teams:         p.Teams,
		pauses:        p.Pauses,
		prorations:    p.Prorations,
		reconciler:    p.Reconciler,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Tiers --------
	api.GET("/tiers", s.ListTiers)
	api.GET("/tiers/:id", s.GetTierByID)

	// -------- Subscriptions --------
	api.POST("/subscriptions", s.Subscribe)
	api.GET("/subscriptions/:ownerId", s.GetSubscription)
	api.POST("/subscriptions/:ownerId/cancel", s.CancelSubscription)
	api.POST("/subscriptions/:ownerId/change", s.ChangePlan)
	api.GET("/subscriptions/:ownerId/change-preview", s.PreviewPlanChange)
	api.GET("/subscriptions/:ownerId/history", s.SubscriptionHistory)

	// -------- Pause --------
	api.POST("/subscriptions/:ownerId/pause", s.PauseSubscription)
	api.POST("/subscriptions/:ownerId/resume", s.ResumeSubscription)
	api.GET("/subscriptions/:ownerId/pause", s.CurrentPause)
	api.GET("/subscriptions/:ownerId/pauses", s.PauseHistory)

	// -------- Credits --------
	api.GET("/credits/:ownerId/balance", s.GetBalance)
	api.GET("/credits/:ownerId/transactions", s.ListTransactions)
	api.GET("/credits/:ownerId/usage", s.UsageByService)
	api.POST("/credits/:ownerId/debit", s.Debit)
	api.POST("/credits/:ownerId/debit-service", s.DebitForService)
	api.POST("/credits/:ownerId/grant", s.Grant)
	api.POST("/credits/:ownerId/adjust", s.AdminAdjust)

	// -------- Teams --------
	api.POST("/teams", s.CreateTeam)
	api.GET("/teams/:id", s.GetTeam)
	api.GET("/teams/:id/members", s.ListTeamMembers)
	api.GET("/teams/:id/billing", s.TeamBillingPreview)
	api.POST("/teams/:id/invites", s.InviteTeamMember)
	api.POST("/teams/:id/invites/accept", s.AcceptTeamInvite)
	api.DELETE("/teams/:id/members/:userId", s.RemoveTeamMember)
	api.PATCH("/teams/:id/members/:userId/status", s.SetTeamMemberStatus)
	api.PATCH("/teams/:id/members/:userId/role", s.SetTeamMemberRole)
	api.POST("/teams/:id/seats", s.ResizeTeamSeats)
	api.POST("/teams/:id/tier", s.ChangeTeamTier)
	api.POST("/teams/:id/cancel", s.CancelTeamSubscription)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/stripe", s.HandleStripeWebhook)
}

func run(lc fx.Lifecycle, s *Server, cfg appconfig.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: s.Engine(),
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
