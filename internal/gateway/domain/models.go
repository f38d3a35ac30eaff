// Package domain defines the port to the external payment gateway. The
// gateway is the authority for money movement and billing periods; Meridian
// only mirrors the fields it reports.
package domain

import (
	"context"
	"errors"
	"time"
)

// Subscription is the gateway's view of a billing agreement. Amounts are in
// the smallest currency unit, timestamps UTC.
type Subscription struct {
	Ref                string
	CustomerRef        string
	PriceRef           string
	Status             string
	Quantity           int64
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	TrialEnd           *time.Time
}

// ProrationQuote is the gateway's remaining-period math for a plan change.
type ProrationQuote struct {
	ProrationDate  time.Time
	ProratedAmount int64
	NewAmount      int64
	Currency       string
}

// CreateSubscriptionRequest binds a customer to a price.
type CreateSubscriptionRequest struct {
	CustomerRef string
	PriceRef    string
	Quantity    int64
	TrialDays   int
	PaymentRef  string
	Metadata    map[string]string
}

// Gateway abstracts the payment provider. All calls are synchronous and
// bounded by the caller's context; the provider confirms final state through
// webhook events.
type Gateway interface {
	EnsureCustomer(ctx context.Context, ownerID, email string) (string, error)
	CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*Subscription, error)
	UpdateSubscriptionPrice(ctx context.Context, subRef, priceRef string, quantity int64, prorate bool) (*Subscription, error)
	SetQuantity(ctx context.Context, subRef string, quantity int64, prorate bool) (*Subscription, error)
	CancelSubscription(ctx context.Context, subRef string, atPeriodEnd bool) (*Subscription, error)
	PauseCollection(ctx context.Context, subRef string, resumeAt *time.Time) error
	ResumeCollection(ctx context.Context, subRef string) error
	PreviewProration(ctx context.Context, subRef, newPriceRef string, quantity int64, at time.Time) (*ProrationQuote, error)
}

var (
	// ErrCardDeclined is client-fixable and reported to the caller verbatim.
	ErrCardDeclined = errors.New("card_declined")
	// ErrUnavailable marks a retryable provider fault.
	ErrUnavailable = errors.New("gateway_unavailable")
	// ErrNotLinked is returned when an operation needs a gateway binding the
	// account does not have.
	ErrNotLinked = errors.New("gateway_not_linked")
)
