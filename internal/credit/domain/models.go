// Package domain contains the credit ledger models. Credits are the internal
// prepaid unit burned by metered service calls; the ledger is append-only and
// every transaction records the balance it produced.
package domain

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TransactionPurchase     TransactionType = "purchase"
	TransactionUsage        TransactionType = "usage"
	TransactionRefund       TransactionType = "refund"
	TransactionSubscription TransactionType = "subscription"
	TransactionAdmin        TransactionType = "admin"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionPurchase, TransactionUsage, TransactionRefund,
		TransactionSubscription, TransactionAdmin:
		return true
	}
	return false
}

// Account holds the current balance for an owner. The balance column is the
// single source of truth for spendable credits and is only ever changed by
// conditional updates inside a transaction.
type Account struct {
	OwnerID       string    `gorm:"primaryKey;type:text;column:owner_id" json:"owner_id"`
	Balance       int64     `gorm:"not null;default:0" json:"balance"`
	LastUpdatedAt time.Time `gorm:"not null" json:"last_updated_at"`
	CreatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "credit_accounts" }

// Transaction is one immutable ledger entry. Amount is signed: positive for
// grants, negative for usage. EventKey carries the external event id for
// grants that must apply at most once.
type Transaction struct {
	ID               int64             `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	OwnerID          string            `gorm:"type:text;not null;index;column:owner_id" json:"owner_id"`
	Amount           int64             `gorm:"not null" json:"amount"`
	Type             TransactionType   `gorm:"type:text;not null" json:"type"`
	Description      string            `gorm:"type:text" json:"description"`
	ServiceKey       string            `gorm:"type:text;column:service_key" json:"service_key,omitempty"`
	ResultingBalance int64             `gorm:"not null;column:resulting_balance" json:"resulting_balance"`
	EventKey         *string           `gorm:"type:text;uniqueIndex;column:event_key" json:"event_key,omitempty"`
	Metadata         datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt        time.Time         `gorm:"not null;index" json:"created_at"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "credit_transactions" }

// ServiceUsage is an aggregated usage rollup for one metered service.
type ServiceUsage struct {
	ServiceKey   string    `json:"service_key"`
	Calls        int64     `json:"calls"`
	CreditsSpent int64     `json:"credits_spent"`
	LastUsedAt   time.Time `gorm:"column:last_used_at" json:"last_used_at"`
}

var (
	ErrAccountNotFound     = errors.New("credit_account_not_found")
	ErrInsufficientCredits = errors.New("insufficient_credits")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidType         = errors.New("invalid_transaction_type")
)
