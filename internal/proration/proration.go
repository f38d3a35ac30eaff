// Package proration quotes and applies mid-cycle plan changes. The gateway
// owns the remaining-period math; this package classifies its answer and
// binds it to catalog tiers.
package proration

import (
	"context"
	"errors"
	"time"
)

// Preview is a quote for moving an account to a different tier at a point in
// time. Amounts are in the smallest currency unit. TotalAmount is the net
// due now; when it is negative the change leaves a credit owed to the
// customer and IsCredit is set.
type Preview struct {
	OwnerID        string    `json:"owner_id"`
	CurrentTierID  string    `json:"current_tier_id"`
	NewTierID      string    `json:"new_tier_id"`
	ProrationDate  time.Time `json:"proration_date"`
	CurrentAmount  int64     `json:"current_amount"`
	ProratedAmount int64     `json:"prorated_amount"`
	NewAmount      int64     `json:"new_amount"`
	TotalAmount    int64     `json:"total_amount"`
	Currency       string    `json:"currency"`
	IsUpgrade      bool      `json:"is_upgrade"`
	IsCredit       bool      `json:"is_credit"`
}

// Service previews and commits plan changes.
type Service interface {
	// PreviewChange quotes the cost of moving ownerID to newTierID now
	// without changing anything.
	PreviewChange(ctx context.Context, ownerID, newTierID string) (*Preview, error)
	// ApplyChange commits the change with prorations enabled.
	ApplyChange(ctx context.Context, ownerID, newTierID string) (*Preview, error)
}

// ErrSameTier is returned when a preview targets the tier the account is
// already on.
var ErrSameTier = errors.New("same_tier")
