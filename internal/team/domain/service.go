package domain

import "context"

// CreateTeamRequest provisions a team and its seat-based subscription.
type CreateTeamRequest struct {
	OwnerUserID string
	OwnerEmail  string
	Name        string
	TierID      string
	Seats       int64
	TrialDays   int
	PaymentRef  string
}

// BillingSummary is the team's current seat bill.
type BillingSummary struct {
	TierID        string `json:"tier_id"`
	Seats         int64  `json:"seats"`
	UsedSeats     int64  `json:"used_seats"`
	SeatPrice     int64  `json:"seat_price"`
	TotalPerCycle int64  `json:"total_per_cycle"`
	Currency      string `json:"currency"`
}

// Service manages teams, membership, and seat counts. Every operation that
// needs authority takes the acting user's id; the role matrix is enforced
// here, not in the transport layer.
type Service interface {
	// CreateTeam subscribes the owner to a team tier and creates the team
	// with the owner as its first active member.
	CreateTeam(ctx context.Context, req CreateTeamRequest) (*Team, error)
	// GetTeam returns the team by id.
	GetTeam(ctx context.Context, teamID int64) (*Team, error)
	// GetTeamBySlug returns the team by its URL slug.
	GetTeamBySlug(ctx context.Context, slug string) (*Team, error)
	// ListMembers returns the full roster.
	ListMembers(ctx context.Context, teamID int64) ([]Member, error)
	// InviteMember records an invitation. Invites do not occupy a seat
	// until accepted. Owners and admins may invite.
	InviteMember(ctx context.Context, teamID int64, actorUserID, email string, role Role) (*Member, error)
	// AcceptInvite claims an invitation and a seat for userID.
	AcceptInvite(ctx context.Context, teamID int64, email, userID string) (*Member, error)
	// RemoveMember drops a membership and frees its seat. Admins may not
	// remove other admins; nobody removes the owner.
	RemoveMember(ctx context.Context, teamID int64, actorUserID, memberUserID string) error
	// SetMemberStatus suspends or reactivates a member, adjusting seat
	// occupancy accordingly.
	SetMemberStatus(ctx context.Context, teamID int64, actorUserID, memberUserID string, status MemberStatus) (*Member, error)
	// SetMemberRole promotes or demotes between admin and member. Owner
	// only.
	SetMemberRole(ctx context.Context, teamID int64, actorUserID, memberUserID string, role Role) (*Member, error)
	// ResizeSeats changes the seat ceiling, gateway first. Owner only.
	ResizeSeats(ctx context.Context, teamID int64, actorUserID string, seats int64) error
	// ChangeTier moves the team to another team tier. Owner only.
	ChangeTier(ctx context.Context, teamID int64, actorUserID, tierID string) error
	// CancelSubscription ends the team's subscription. Owner only.
	CancelSubscription(ctx context.Context, teamID int64, actorUserID string, atPeriodEnd bool) error
	// BillingPreview summarizes the current seat bill.
	BillingPreview(ctx context.Context, teamID int64) (*BillingSummary, error)
}
