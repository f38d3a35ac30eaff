package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	catalogdomain "github.com/hypergraphlabs/meridian/internal/catalog/domain"
	"github.com/hypergraphlabs/meridian/internal/clock"
	gatewaydomain "github.com/hypergraphlabs/meridian/internal/gateway/domain"
	subdomain "github.com/hypergraphlabs/meridian/internal/subscription/domain"
	teamdomain "github.com/hypergraphlabs/meridian/internal/team/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db      *gorm.DB
	node    *snowflake.Node
	subs    subdomain.Service
	catalog catalogdomain.Service
	gateway gatewaydomain.Gateway
	clock   clock.Clock
	log     *zap.Logger
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Node    *snowflake.Node
	Subs    subdomain.Service
	Catalog catalogdomain.Service
	Gateway gatewaydomain.Gateway
	Clock   clock.Clock
	Log     *zap.Logger
}

func NewService(p Params) teamdomain.Service {
	return &Service{
		db:      p.DB,
		node:    p.Node,
		subs:    p.Subs,
		catalog: p.Catalog,
		gateway: p.Gateway,
		clock:   p.Clock,
		log:     p.Log.Named("team.service"),
	}
}

func (s *Service) CreateTeam(ctx context.Context, req teamdomain.CreateTeamRequest) (*teamdomain.Team, error) {
	tier, err := s.catalog.GetTier(ctx, req.TierID)
	if err != nil {
		return nil, err
	}
	if !tier.TeamTier {
		return nil, subdomain.ErrNotTeamAccount
	}

	seats := req.Seats
	if seats <= 0 {
		seats = 1
	}

	account, err := s.subs.Subscribe(ctx, subdomain.SubscribeRequest{
		OwnerID:    req.OwnerUserID,
		Email:      req.OwnerEmail,
		TierID:     tier.ID,
		Seats:      seats,
		TrialDays:  req.TrialDays,
		PaymentRef: req.PaymentRef,
	})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	team := &teamdomain.Team{
		ID:          s.node.Generate().Int64(),
		AccountID:   account.ID,
		OwnerUserID: req.OwnerUserID,
		Name:        req.Name,
		Slug:        s.uniqueSlug(ctx, req.Name),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	owner := &teamdomain.Member{
		ID:        s.node.Generate().Int64(),
		TeamID:    team.ID,
		UserID:    req.OwnerUserID,
		Email:     strings.ToLower(strings.TrimSpace(req.OwnerEmail)),
		Role:      teamdomain.RoleOwner,
		Status:    teamdomain.MemberActive,
		InvitedAt: now,
		JoinedAt:  &now,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(team).Error; err != nil {
			return err
		}
		return tx.Create(owner).Error
	})
	if err != nil {
		return nil, err
	}

	// The owner holds the first seat.
	if err := s.subs.ReserveSeat(ctx, account.ID); err != nil {
		return nil, err
	}

	s.log.Info("team created",
		zap.String("slug", team.Slug),
		zap.String("owner", req.OwnerUserID),
		zap.Int64("seats", seats),
	)
	return team, nil
}

func (s *Service) uniqueSlug(ctx context.Context, name string) string {
	base := slug.Make(name)
	if base == "" {
		base = "team"
	}
	var count int64
	s.db.WithContext(ctx).Model(&teamdomain.Team{}).Where("slug = ?", base).Count(&count)
	if count == 0 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, s.node.Generate().Int64()%100000)
}

func (s *Service) GetTeam(ctx context.Context, teamID int64) (*teamdomain.Team, error) {
	var team teamdomain.Team
	err := s.db.WithContext(ctx).First(&team, "id = ?", teamID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, teamdomain.ErrTeamNotFound
	}
	if err != nil {
		return nil, err
	}
	return &team, nil
}

func (s *Service) GetTeamBySlug(ctx context.Context, teamSlug string) (*teamdomain.Team, error) {
	var team teamdomain.Team
	err := s.db.WithContext(ctx).First(&team, "slug = ?", teamSlug).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, teamdomain.ErrTeamNotFound
	}
	if err != nil {
		return nil, err
	}
	return &team, nil
}

func (s *Service) ListMembers(ctx context.Context, teamID int64) ([]teamdomain.Member, error) {
	if _, err := s.GetTeam(ctx, teamID); err != nil {
		return nil, err
	}

	var members []teamdomain.Member
	err := s.db.WithContext(ctx).
		Where("team_id = ?", teamID).
		Order("created_at ASC").
		Find(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (s *Service) InviteMember(ctx context.Context, teamID int64, actorUserID, email string, role teamdomain.Role) (*teamdomain.Member, error) {
	if role == "" {
		role = teamdomain.RoleMember
	}
	if !role.Valid() || role == teamdomain.RoleOwner {
		return nil, teamdomain.ErrInvalidRole
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, teamdomain.ErrMemberNotFound
	}

	actor, err := s.member(ctx, teamID, actorUserID)
	if err != nil {
		return nil, err
	}
	if actor.Role != teamdomain.RoleOwner && actor.Role != teamdomain.RoleAdmin {
		return nil, teamdomain.ErrForbidden
	}

	// An invite on a full team is refused outright rather than parked
	// until a seat opens.
	team, err := s.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	account, err := s.account(ctx, team.AccountID)
	if err != nil {
		return nil, err
	}
	if account.UsedSeats >= account.Seats {
		return nil, subdomain.ErrSeatLimitReached
	}

	var existing teamdomain.Member
	err = s.db.WithContext(ctx).First(&existing, "team_id = ? AND email = ?", teamID, email).Error
	if err == nil {
		return nil, teamdomain.ErrAlreadyMember
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := s.clock.Now()
	member := &teamdomain.Member{
		ID:        s.node.Generate().Int64(),
		TeamID:    teamID,
		Email:     email,
		Role:      role,
		Status:    teamdomain.MemberInvited,
		InvitedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(member).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, teamdomain.ErrAlreadyMember
		}
		return nil, err
	}

	s.log.Info("member invited",
		zap.Int64("team_id", teamID),
		zap.String("email", email),
		zap.String("role", string(role)),
	)
	return member, nil
}

func (s *Service) AcceptInvite(ctx context.Context, teamID int64, email, userID string) (*teamdomain.Member, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	team, err := s.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}

	var member teamdomain.Member
	err = s.db.WithContext(ctx).
		First(&member, "team_id = ? AND email = ? AND status = ?", teamID, email, teamdomain.MemberInvited).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, teamdomain.ErrMemberNotFound
	}
	if err != nil {
		return nil, err
	}

	// Claim the seat before activating: a full team rejects the join.
	if err := s.subs.ReserveSeat(ctx, team.AccountID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Model(&teamdomain.Member{}).
		Where("id = ?", member.ID).
		Updates(map[string]interface{}{
			"user_id":    userID,
			"status":     teamdomain.MemberActive,
			"joined_at":  now,
			"updated_at": now,
		}).Error
	if err != nil {
		// Hand the seat back; the membership never activated.
		if releaseErr := s.subs.ReleaseSeat(ctx, team.AccountID); releaseErr != nil {
			s.log.Error("seat release after failed activation", zap.Error(releaseErr))
		}
		return nil, err
	}

	member.UserID = userID
	member.Status = teamdomain.MemberActive
	member.JoinedAt = &now
	return &member, nil
}

func (s *Service) RemoveMember(ctx context.Context, teamID int64, actorUserID, memberUserID string) error {
	team, err := s.GetTeam(ctx, teamID)
	if err != nil {
		return err
	}
	actor, err := s.member(ctx, teamID, actorUserID)
	if err != nil {
		return err
	}
	target, err := s.member(ctx, teamID, memberUserID)
	if err != nil {
		return err
	}

	if target.Role == teamdomain.RoleOwner {
		return teamdomain.ErrOwnerImmutable
	}
	switch actor.Role {
	case teamdomain.RoleOwner:
	case teamdomain.RoleAdmin:
		if target.Role == teamdomain.RoleAdmin {
			return teamdomain.ErrForbidden
		}
	default:
		return teamdomain.ErrForbidden
	}

	if err := s.db.WithContext(ctx).Delete(&teamdomain.Member{}, "id = ?", target.ID).Error; err != nil {
		return err
	}
	if target.Occupied() {
		if err := s.subs.ReleaseSeat(ctx, team.AccountID); err != nil {
			return err
		}
	}

	s.log.Info("member removed",
		zap.Int64("team_id", teamID),
		zap.String("member", memberUserID),
		zap.String("actor", actorUserID),
	)
	return nil
}

func (s *Service) SetMemberStatus(ctx context.Context, teamID int64, actorUserID, memberUserID string, status teamdomain.MemberStatus) (*teamdomain.Member, error) {
	if status != teamdomain.MemberActive && status != teamdomain.MemberSuspended {
		return nil, teamdomain.ErrInvalidStatus
	}

	team, err := s.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	actor, err := s.member(ctx, teamID, actorUserID)
	if err != nil {
		return nil, err
	}
	target, err := s.member(ctx, teamID, memberUserID)
	if err != nil {
		return nil, err
	}

	if target.Role == teamdomain.RoleOwner {
		return nil, teamdomain.ErrOwnerImmutable
	}
	switch actor.Role {
	case teamdomain.RoleOwner:
	case teamdomain.RoleAdmin:
		if target.Role == teamdomain.RoleAdmin {
			return nil, teamdomain.ErrForbidden
		}
	default:
		return nil, teamdomain.ErrForbidden
	}
	if target.Status == status {
		return target, nil
	}
	if target.Status == teamdomain.MemberInvited {
		return nil, teamdomain.ErrInvalidStatus
	}

	// Seat first when taking one, seat last when giving one back.
	if status == teamdomain.MemberActive {
		if err := s.subs.ReserveSeat(ctx, team.AccountID); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Model(&teamdomain.Member{}).
		Where("id = ?", target.ID).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": now,
		}).Error
	if err != nil {
		if status == teamdomain.MemberActive {
			if releaseErr := s.subs.ReleaseSeat(ctx, team.AccountID); releaseErr != nil {
				s.log.Error("seat release after failed reactivation", zap.Error(releaseErr))
			}
		}
		return nil, err
	}

	if status == teamdomain.MemberSuspended {
		if err := s.subs.ReleaseSeat(ctx, team.AccountID); err != nil {
			return nil, err
		}
	}

	target.Status = status
	return target, nil
}

func (s *Service) SetMemberRole(ctx context.Context, teamID int64, actorUserID, memberUserID string, role teamdomain.Role) (*teamdomain.Member, error) {
	if role != teamdomain.RoleAdmin && role != teamdomain.RoleMember {
		return nil, teamdomain.ErrInvalidRole
	}

	actor, err := s.member(ctx, teamID, actorUserID)
	if err != nil {
		return nil, err
	}
	if actor.Role != teamdomain.RoleOwner {
		return nil, teamdomain.ErrForbidden
	}
	target, err := s.member(ctx, teamID, memberUserID)
	if err != nil {
		return nil, err
	}
	if target.Role == teamdomain.RoleOwner {
		return nil, teamdomain.ErrOwnerImmutable
	}
	if target.Role == role {
		return target, nil
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Model(&teamdomain.Member{}).
		Where("id = ?", target.ID).
		Updates(map[string]interface{}{
			"role":       role,
			"updated_at": now,
		}).Error
	if err != nil {
		return nil, err
	}
	target.Role = role
	return target, nil
}

func (s *Service) ResizeSeats(ctx context.Context, teamID int64, actorUserID string, seats int64) error {
	actor, err := s.member(ctx, teamID, actorUserID)
	if err != nil {
		return err
	}
	if actor.Role != teamdomain.RoleOwner {
		return teamdomain.ErrForbidden
	}

	team, err := s.GetTeam(ctx, teamID)
	if err != nil {
		return err
	}
	account, err := s.account(ctx, team.AccountID)
	if err != nil {
		return err
	}
	if seats < account.UsedSeats || seats <= 0 {
		return subdomain.ErrSeatsBelowUsage
	}

	if account.GatewayLinked() {
		if _, err := s.gateway.SetQuantity(ctx, account.ExternalSubRef, seats, true); err != nil {
			return err
		}
	}
	if err := s.subs.SetSeats(ctx, account.ID, seats); err != nil {
		return err
	}

	s.log.Info("seats resized",
		zap.Int64("team_id", teamID),
		zap.Int64("seats", seats),
	)
	return nil
}

func (s *Service) ChangeTier(ctx context.Context, teamID int64, actorUserID, tierID string) error {
	actor, err := s.member(ctx, teamID, actorUserID)
	if err != nil {
		return err
	}
	if actor.Role != teamdomain.RoleOwner {
		return teamdomain.ErrForbidden
	}

	tier, err := s.catalog.GetTier(ctx, tierID)
	if err != nil {
		return err
	}
	if !tier.TeamTier {
		return subdomain.ErrNotTeamAccount
	}

	team, err := s.GetTeam(ctx, teamID)
	if err != nil {
		return err
	}
	account, err := s.account(ctx, team.AccountID)
	if err != nil {
		return err
	}

	_, err = s.subs.ChangePlan(ctx, account.OwnerID, tierID, true)
	return err
}

func (s *Service) CancelSubscription(ctx context.Context, teamID int64, actorUserID string, atPeriodEnd bool) error {
	actor, err := s.member(ctx, teamID, actorUserID)
	if err != nil {
		return err
	}
	if actor.Role != teamdomain.RoleOwner {
		return teamdomain.ErrForbidden
	}

	team, err := s.GetTeam(ctx, teamID)
	if err != nil {
		return err
	}
	account, err := s.account(ctx, team.AccountID)
	if err != nil {
		return err
	}

	_, err = s.subs.Cancel(ctx, account.OwnerID, atPeriodEnd)
	return err
}

func (s *Service) BillingPreview(ctx context.Context, teamID int64) (*teamdomain.BillingSummary, error) {
	team, err := s.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	account, err := s.account(ctx, team.AccountID)
	if err != nil {
		return nil, err
	}
	tier, err := s.catalog.GetTier(ctx, account.TierID)
	if err != nil {
		return nil, err
	}

	return &teamdomain.BillingSummary{
		TierID:        tier.ID,
		Seats:         account.Seats,
		UsedSeats:     account.UsedSeats,
		SeatPrice:     tier.SeatPriceCents,
		TotalPerCycle: tier.SeatPriceCents * account.Seats,
		Currency:      tier.Currency,
	}, nil
}

func (s *Service) member(ctx context.Context, teamID int64, userID string) (*teamdomain.Member, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, teamdomain.ErrMemberNotFound
	}

	var member teamdomain.Member
	err := s.db.WithContext(ctx).First(&member, "team_id = ? AND user_id = ?", teamID, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, teamdomain.ErrMemberNotFound
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (s *Service) account(ctx context.Context, accountID int64) (*subdomain.Account, error) {
	var account subdomain.Account
	err := s.db.WithContext(ctx).First(&account, "id = ?", accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, subdomain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}
