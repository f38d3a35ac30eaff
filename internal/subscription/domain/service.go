package domain

import (
	"context"
	"time"
)

// SubscribeRequest starts a paid subscription for an owner.
type SubscribeRequest struct {
	OwnerID    string
	Email      string
	TierID     string
	Seats      int64
	TrialDays  int
	PaymentRef string
}

// ExternalState is the gateway's authoritative view of a subscription,
// carried in by the webhook reconciler. Zero-value fields are not applied.
type ExternalState struct {
	SubRef             string
	Status             Status
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  *bool
	TrialEnd           *time.Time
	EndedAt            *time.Time
}

// Service manages subscription accounts and their status transitions.
type Service interface {
	// EnsureAccount returns the owner's account, provisioning a free-tier
	// account with its included credits on first sight.
	EnsureAccount(ctx context.Context, ownerID string) (*Account, error)
	// Get returns the account without provisioning.
	Get(ctx context.Context, ownerID string) (*Account, error)
	// GetByExternalRef resolves an account from its gateway subscription ref.
	GetByExternalRef(ctx context.Context, subRef string) (*Account, error)
	// Subscribe creates the gateway subscription first, then records the
	// local binding. The binding holds for the life of the agreement; a
	// new one may only be written over a canceled record. Included
	// credits are granted once per gateway ref.
	Subscribe(ctx context.Context, req SubscribeRequest) (*Account, error)
	// ChangePlan moves the account to a different tier. Paid tiers require
	// a gateway binding; the gateway is updated before local state.
	ChangePlan(ctx context.Context, ownerID, tierID string, prorate bool) (*Account, error)
	// Cancel ends the subscription, either at the period boundary or
	// immediately. Immediate cancellation downgrades to the free tier.
	Cancel(ctx context.Context, ownerID string, atPeriodEnd bool) (*Account, error)
	// UpdateStatus applies one transition with history, rejecting moves the
	// transition table does not allow.
	UpdateStatus(ctx context.Context, ownerID string, target Status, reason string) (*Account, error)
	// ReconcileExternal folds gateway-reported state into the local record.
	// Replays are no-ops; local-only fields are never touched.
	ReconcileExternal(ctx context.Context, state ExternalState) (*Account, error)
	// History returns the account's audit trail, newest first.
	History(ctx context.Context, ownerID string, limit int) ([]History, error)

	// ReserveSeat and ReleaseSeat adjust the occupied seat count under the
	// seats ceiling. SetSeats grows or shrinks the ceiling, refusing to
	// shrink below current occupancy.
	ReserveSeat(ctx context.Context, accountID int64) error
	ReleaseSeat(ctx context.Context, accountID int64) error
	SetSeats(ctx context.Context, accountID, seats int64) error

	// SweepTrialExpirations moves overdue trials to past_due.
	SweepTrialExpirations(ctx context.Context, batchSize int) (int, error)
	// SweepPeriodCancellations finalizes accounts whose scheduled
	// cancellation period has elapsed.
	SweepPeriodCancellations(ctx context.Context, batchSize int) (int, error)
}
