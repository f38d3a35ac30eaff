// Package domain defines the normalized gateway event and its dedup record.
package domain

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

// Event kinds after normalization. Provider-specific names are translated at
// the edge; the reconciler only sees these.
const (
	KindSubscriptionUpdated = "subscription_updated"
	KindSubscriptionDeleted = "subscription_deleted"
	KindInvoicePaid         = "invoice_paid"
	KindInvoiceFailed       = "invoice_failed"
	KindCreditPurchase      = "credit_purchase"
)

// Event is one normalized gateway notification. Optional fields are nil when
// the provider did not send them.
type Event struct {
	Provider           string
	ProviderEventID    string
	Kind               string
	SubRef             string
	CustomerRef        string
	OwnerID            string
	InvoiceRef         string
	Credits            int64
	Status             string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  *bool
	TrialEnd           *time.Time
	EndedAt            *time.Time
	Raw                []byte
}

// EventRecord is the persisted dedup row. The unique (provider,
// provider_event_id) pair makes replayed deliveries visible as conflicts.
type EventRecord struct {
	ID              int64          `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	Provider        string         `gorm:"type:text;not null;uniqueIndex:idx_provider_event,priority:1" json:"provider"`
	ProviderEventID string         `gorm:"type:text;not null;uniqueIndex:idx_provider_event,priority:2;column:provider_event_id" json:"provider_event_id"`
	Kind            string         `gorm:"type:text;not null;index" json:"kind"`
	Payload         datatypes.JSON `gorm:"type:jsonb" json:"payload,omitempty"`
	ReceivedAt      time.Time      `gorm:"not null;column:received_at" json:"received_at"`
	ProcessedAt     *time.Time     `gorm:"column:processed_at" json:"processed_at,omitempty"`
	ProcessError    string         `gorm:"type:text;column:process_error" json:"process_error,omitempty"`
}

// TableName sets the database table name.
func (EventRecord) TableName() string { return "gateway_events" }

var (
	// ErrEventAlreadyProcessed marks a replayed delivery. Handlers treat it
	// as success so the provider stops retrying.
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrUnknownEventKind      = errors.New("unknown_event_kind")
)
