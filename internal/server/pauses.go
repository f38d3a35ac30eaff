package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

type pauseRequest struct {
	Reason   string `json:"reason"`
	ResumeAt string `json:"resume_at"`
}

func (s *Server) PauseSubscription(c *gin.Context) {
	var req pauseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var resumeAt *time.Time
	if raw := strings.TrimSpace(req.ResumeAt); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		resumeAt = &parsed
	}

	record, err := s.pauses.Pause(c.Request.Context(), c.Param("ownerId"), req.Reason, resumeAt)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": record})
}

func (s *Server) ResumeSubscription(c *gin.Context) {
	record, err := s.pauses.Resume(c.Request.Context(), c.Param("ownerId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": record})
}

func (s *Server) CurrentPause(c *gin.Context) {
	record, err := s.pauses.Current(c.Request.Context(), c.Param("ownerId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": record})
}

func (s *Server) PauseHistory(c *gin.Context) {
	limit := intQuery(c, "limit", 20)

	records, err := s.pauses.History(c.Request.Context(), c.Param("ownerId"), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": records})
}
