package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/hypergraphlabs/meridian/internal/credit/domain"
)

func (s *Server) GetBalance(c *gin.Context) {
	balance, err := s.credits.Balance(c.Request.Context(), c.Param("ownerId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"owner_id": c.Param("ownerId"),
		"balance":  balance,
	}})
}

func (s *Server) ListTransactions(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	entries, err := s.credits.ListTransactions(c.Request.Context(), c.Param("ownerId"), limit, offset)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}

func (s *Server) UsageByService(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	usage, err := s.credits.UsageByService(c.Request.Context(), c.Param("ownerId"), limit, offset)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": usage})
}

type debitRequest struct {
	Amount      int64                  `json:"amount" binding:"required"`
	ServiceKey  string                 `json:"service_key"`
	Description string                 `json:"description"`
	Metadata    map[string]interface{} `json:"metadata"`
}

func (s *Server) Debit(c *gin.Context) {
	var req debitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	txn, err := s.credits.Debit(c.Request.Context(), creditdomain.DebitRequest{
		OwnerID:     c.Param("ownerId"),
		Amount:      req.Amount,
		ServiceKey:  strings.TrimSpace(req.ServiceKey),
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": txn})
}

type debitServiceRequest struct {
	ServiceKey string `json:"service_key" binding:"required"`
	Units      int64  `json:"units" binding:"required"`
}

func (s *Server) DebitForService(c *gin.Context) {
	var req debitServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	txn, err := s.credits.DebitForService(c.Request.Context(), c.Param("ownerId"), strings.TrimSpace(req.ServiceKey), req.Units)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": txn})
}

type grantRequest struct {
	Amount      int64                  `json:"amount" binding:"required"`
	Type        string                 `json:"type"`
	Description string                 `json:"description"`
	EventKey    string                 `json:"event_key"`
	Metadata    map[string]interface{} `json:"metadata"`
}

func (s *Server) Grant(c *gin.Context) {
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	grantType := creditdomain.TransactionType(req.Type)
	if req.Type == "" {
		grantType = creditdomain.TransactionPurchase
	}

	grant := creditdomain.GrantRequest{
		OwnerID:     c.Param("ownerId"),
		Amount:      req.Amount,
		Type:        grantType,
		Description: req.Description,
		Metadata:    req.Metadata,
	}

	if key := strings.TrimSpace(req.EventKey); key != "" {
		txn, applied, err := s.credits.GrantIdempotent(c.Request.Context(), key, grant)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": txn, "applied": applied})
		return
	}

	txn, err := s.credits.Grant(c.Request.Context(), grant)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": txn})
}

type adjustRequest struct {
	Amount      int64  `json:"amount" binding:"required"`
	Description string `json:"description"`
}

func (s *Server) AdminAdjust(c *gin.Context) {
	var req adjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	txn, err := s.credits.AdminAdjust(c.Request.Context(), c.Param("ownerId"), req.Amount, req.Description)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": txn})
}
