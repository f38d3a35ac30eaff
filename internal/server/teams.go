package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	teamdomain "github.com/hypergraphlabs/meridian/internal/team/domain"
)

type createTeamRequest struct {
	OwnerUserID string `json:"owner_user_id" binding:"required"`
	OwnerEmail  string `json:"owner_email" binding:"required"`
	Name        string `json:"name" binding:"required"`
	TierID      string `json:"tier_id" binding:"required"`
	Seats       int64  `json:"seats"`
	TrialDays   int    `json:"trial_days"`
	PaymentRef  string `json:"payment_ref"`
}

func (s *Server) CreateTeam(c *gin.Context) {
	var req createTeamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	team, err := s.teams.CreateTeam(c.Request.Context(), teamdomain.CreateTeamRequest{
		OwnerUserID: strings.TrimSpace(req.OwnerUserID),
		OwnerEmail:  strings.TrimSpace(req.OwnerEmail),
		Name:        strings.TrimSpace(req.Name),
		TierID:      strings.TrimSpace(req.TierID),
		Seats:       req.Seats,
		TrialDays:   req.TrialDays,
		PaymentRef:  req.PaymentRef,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": team})
}

func (s *Server) GetTeam(c *gin.Context) {
	// Numeric ids resolve directly; anything else is treated as a slug.
	if teamID, err := strconv.ParseInt(c.Param("id"), 10, 64); err == nil {
		team, err := s.teams.GetTeam(c.Request.Context(), teamID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": team})
		return
	}

	team, err := s.teams.GetTeamBySlug(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": team})
}

func (s *Server) ListTeamMembers(c *gin.Context) {
	teamID, err := teamIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	members, err := s.teams.ListMembers(c.Request.Context(), teamID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": members})
}

func (s *Server) TeamBillingPreview(c *gin.Context) {
	teamID, err := teamIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	summary, err := s.teams.BillingPreview(c.Request.Context(), teamID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

type inviteRequest struct {
	ActorUserID string `json:"actor_user_id" binding:"required"`
	Email       string `json:"email" binding:"required"`
	Role        string `json:"role"`
}

func (s *Server) InviteTeamMember(c *gin.Context) {
	teamID, err := teamIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req inviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	role := teamdomain.Role(req.Role)
	if req.Role == "" {
		role = teamdomain.RoleMember
	}

	member, err := s.teams.InviteMember(c.Request.Context(), teamID, req.ActorUserID, strings.TrimSpace(req.Email), role)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": member})
}

type acceptInviteRequest struct {
	Email  string `json:"email" binding:"required"`
	UserID string `json:"user_id" binding:"required"`
}

func (s *Server) AcceptTeamInvite(c *gin.Context) {
	teamID, err := teamIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req acceptInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	member, err := s.teams.AcceptInvite(c.Request.Context(), teamID, strings.TrimSpace(req.Email), strings.TrimSpace(req.UserID))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": member})
}

func (s *Server) RemoveTeamMember(c *gin.Context) {
	teamID, err := teamIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	actor := strings.TrimSpace(c.Query("actor_user_id"))
	if actor == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.teams.RemoveMember(c.Request.Context(), teamID, actor, c.Param("userId")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type memberStatusRequest struct {
	ActorUserID string `json:"actor_user_id" binding:"required"`
	Status      string `json:"status" binding:"required"`
}

func (s *Server) SetTeamMemberStatus(c *gin.Context) {
	teamID, err := teamIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req memberStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	member, err := s.teams.SetMemberStatus(c.Request.Context(), teamID, req.ActorUserID, c.Param("userId"), teamdomain.MemberStatus(req.Status))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": member})
}

type memberRoleRequest struct {
	ActorUserID string `json:"actor_user_id" binding:"required"`
	Role        string `json:"role" binding:"required"`
}

func (s *Server) SetTeamMemberRole(c *gin.Context) {
	teamID, err := teamIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req memberRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	member, err := s.teams.SetMemberRole(c.Request.Context(), teamID, req.ActorUserID, c.Param("userId"), teamdomain.Role(req.Role))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": member})
}

type resizeSeatsRequest struct {
	ActorUserID string `json:"actor_user_id" binding:"required"`
	Seats       int64  `json:"seats" binding:"required"`
}

func (s *Server) ResizeTeamSeats(c *gin.Context) {
	teamID, err := teamIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req resizeSeatsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.teams.ResizeSeats(c.Request.Context(), teamID, req.ActorUserID, req.Seats); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type changeTeamTierRequest struct {
	ActorUserID string `json:"actor_user_id" binding:"required"`
	TierID      string `json:"tier_id" binding:"required"`
}

func (s *Server) ChangeTeamTier(c *gin.Context) {
	teamID, err := teamIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req changeTeamTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.teams.ChangeTier(c.Request.Context(), teamID, req.ActorUserID, strings.TrimSpace(req.TierID)); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type cancelTeamRequest struct {
	ActorUserID string `json:"actor_user_id" binding:"required"`
	AtPeriodEnd bool   `json:"at_period_end"`
}

func (s *Server) CancelTeamSubscription(c *gin.Context) {
	teamID, err := teamIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req cancelTeamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.teams.CancelSubscription(c.Request.Context(), teamID, req.ActorUserID, req.AtPeriodEnd); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func teamIDParam(c *gin.Context) (int64, error) {
	teamID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, ErrInvalidRequest
	}
	return teamID, nil
}
