package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hypergraphlabs/meridian/internal/webhook"
	webhookdomain "github.com/hypergraphlabs/meridian/internal/webhook/domain"
	stripe "github.com/stripe/stripe-go/v82"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

// HandleStripeWebhook verifies, normalizes, and reconciles one Stripe
// delivery. Replays and unconsumed event types are acknowledged with 200 so
// the provider stops retrying.
func (s *Server) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var ev stripe.Event
	if s.cfg.Stripe.WebhookSecret != "" {
		ev, err = stripewebhook.ConstructEvent(payload, c.GetHeader("Stripe-Signature"), s.cfg.Stripe.WebhookSecret)
		if err != nil {
			s.log.Warn("webhook signature rejected", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
			return
		}
	} else if err := json.Unmarshal(payload, &ev); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	event, consumed, err := webhook.TranslateStripeEvent(ev)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if !consumed {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	if err := s.reconciler.Process(c.Request.Context(), event); err != nil {
		if errors.Is(err, webhookdomain.ErrEventAlreadyProcessed) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
