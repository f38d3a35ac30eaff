// Package domain contains the subscription account models and the status
// state machine.
package domain

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

// Status is the lifecycle state of a subscription account. The set is closed:
// unknown strings from external systems map to the nearest known status or are
// rejected at the boundary.
type Status string

const (
	StatusIncomplete Status = "incomplete"
	StatusTrialing   Status = "trialing"
	StatusActive     Status = "active"
	StatusPastDue    Status = "past_due"
	StatusPaused     Status = "paused"
	StatusCanceled   Status = "canceled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusIncomplete, StatusTrialing, StatusActive, StatusPastDue, StatusPaused, StatusCanceled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions leave s.
func (s Status) Terminal() bool { return s == StatusCanceled }

// allowedTransitions is the full transition table. Self transitions are
// handled by callers as no-ops and do not appear here.
var allowedTransitions = map[Status][]Status{
	StatusIncomplete: {StatusActive, StatusTrialing, StatusCanceled},
	StatusTrialing:   {StatusActive, StatusPastDue, StatusPaused, StatusCanceled},
	StatusActive:     {StatusPastDue, StatusPaused, StatusCanceled},
	StatusPastDue:    {StatusActive, StatusPaused, StatusCanceled},
	StatusPaused:     {StatusActive, StatusPastDue, StatusCanceled},
	StatusCanceled:   {},
}

// TransitionAllowed reports whether moving from current to target is legal.
func TransitionAllowed(current, target Status) bool {
	for _, next := range allowedTransitions[current] {
		if next == target {
			return true
		}
	}
	return false
}

// StatusFromGateway maps a provider status string onto the closed local set.
// Unknown strings land in incomplete rather than inventing a new state.
func StatusFromGateway(status string) Status {
	switch status {
	case "trialing":
		return StatusTrialing
	case "active":
		return StatusActive
	case "past_due", "unpaid":
		return StatusPastDue
	case "paused":
		return StatusPaused
	case "canceled":
		return StatusCanceled
	default:
		return StatusIncomplete
	}
}

// Kind distinguishes single-user accounts from seat-based team accounts.
type Kind string

const (
	KindIndividual Kind = "individual"
	KindTeam       Kind = "team"
)

// Account is the local record of one owner's subscription. The external refs
// are write-once: once linked to a gateway customer and subscription the
// binding never changes for the life of the account.
type Account struct {
	ID                  int64             `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	OwnerID             string            `gorm:"type:text;not null;uniqueIndex;column:owner_id" json:"owner_id"`
	Kind                Kind              `gorm:"type:text;not null;default:'individual'" json:"kind"`
	TierID              string            `gorm:"type:text;not null;column:tier_id" json:"tier_id"`
	Status              Status            `gorm:"type:text;not null;index" json:"status"`
	Seats               int64             `gorm:"not null;default:1" json:"seats"`
	UsedSeats           int64             `gorm:"not null;default:0;column:used_seats" json:"used_seats"`
	CurrentPeriodStart  *time.Time        `gorm:"column:current_period_start" json:"current_period_start,omitempty"`
	CurrentPeriodEnd    *time.Time        `gorm:"column:current_period_end;index" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd   bool              `gorm:"not null;default:false;column:cancel_at_period_end" json:"cancel_at_period_end"`
	AutoRenew           bool              `gorm:"not null;default:true;column:auto_renew" json:"auto_renew"`
	TrialEndsAt         *time.Time        `gorm:"column:trial_ends_at;index" json:"trial_ends_at,omitempty"`
	ExternalCustomerRef string            `gorm:"type:text;column:external_customer_ref" json:"external_customer_ref,omitempty"`
	ExternalSubRef      string            `gorm:"type:text;index;column:external_sub_ref" json:"external_sub_ref,omitempty"`
	EndedAt             *time.Time        `gorm:"column:ended_at" json:"ended_at,omitempty"`
	Metadata            datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt           time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time         `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "subscription_accounts" }

// GatewayLinked reports whether the account is bound to an external
// subscription.
func (a *Account) GatewayLinked() bool { return a.ExternalSubRef != "" }

// History is an append-only audit row written on every status or tier change.
type History struct {
	ID         int64     `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	AccountID  int64     `gorm:"not null;index;column:account_id" json:"account_id,string"`
	FromStatus Status    `gorm:"type:text;column:from_status" json:"from_status"`
	ToStatus   Status    `gorm:"type:text;column:to_status" json:"to_status"`
	FromTier   string    `gorm:"type:text;column:from_tier" json:"from_tier"`
	ToTier     string    `gorm:"type:text;column:to_tier" json:"to_tier"`
	Reason     string    `gorm:"type:text" json:"reason"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (History) TableName() string { return "subscription_history" }

var (
	ErrAccountNotFound   = errors.New("subscription_not_found")
	ErrInvalidTransition = errors.New("invalid_status_transition")
	ErrAlreadySubscribed = errors.New("already_subscribed")
	ErrAlreadyCanceled   = errors.New("already_canceled")
	ErrNotGatewayLinked  = errors.New("subscription_not_gateway_linked")
	ErrSeatLimitReached  = errors.New("seat_limit_reached")
	ErrSeatsBelowUsage   = errors.New("seats_below_current_usage")
	ErrNotTeamAccount    = errors.New("not_a_team_account")
)
