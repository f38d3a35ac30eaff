package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	subdomain "github.com/hypergraphlabs/meridian/internal/subscription/domain"
)

type subscribeRequest struct {
	OwnerID    string `json:"owner_id" binding:"required"`
	Email      string `json:"email" binding:"required"`
	TierID     string `json:"tier_id" binding:"required"`
	Seats      int64  `json:"seats"`
	TrialDays  int    `json:"trial_days"`
	PaymentRef string `json:"payment_ref"`
}

func (s *Server) Subscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	account, err := s.subscriptions.Subscribe(c.Request.Context(), subdomain.SubscribeRequest{
		OwnerID:    strings.TrimSpace(req.OwnerID),
		Email:      strings.TrimSpace(req.Email),
		TierID:     strings.TrimSpace(req.TierID),
		Seats:      req.Seats,
		TrialDays:  req.TrialDays,
		PaymentRef: req.PaymentRef,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}

func (s *Server) GetSubscription(c *gin.Context) {
	account, err := s.subscriptions.EnsureAccount(c.Request.Context(), c.Param("ownerId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}

type cancelRequest struct {
	AtPeriodEnd bool `json:"at_period_end"`
}

func (s *Server) CancelSubscription(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	account, err := s.subscriptions.Cancel(c.Request.Context(), c.Param("ownerId"), req.AtPeriodEnd)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}

type changePlanRequest struct {
	TierID  string `json:"tier_id" binding:"required"`
	Preview bool   `json:"preview"`
}

// ChangePlan commits a tier change. With preview=true the quote is returned
// without changing anything.
func (s *Server) ChangePlan(c *gin.Context) {
	var req changePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	ownerID := c.Param("ownerId")
	if req.Preview {
		quote, err := s.prorations.PreviewChange(c.Request.Context(), ownerID, req.TierID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": quote})
		return
	}

	quote, err := s.prorations.ApplyChange(c.Request.Context(), ownerID, req.TierID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": quote})
}

func (s *Server) PreviewPlanChange(c *gin.Context) {
	tierID := strings.TrimSpace(c.Query("tier_id"))
	if tierID == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	quote, err := s.prorations.PreviewChange(c.Request.Context(), c.Param("ownerId"), tierID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": quote})
}

func (s *Server) SubscriptionHistory(c *gin.Context) {
	limit := intQuery(c, "limit", 50)

	entries, err := s.subscriptions.History(c.Request.Context(), c.Param("ownerId"), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}

func intQuery(c *gin.Context, key string, def int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}
