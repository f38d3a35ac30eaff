// Package domain contains reference data models for the pricing catalog.
package domain

import (
	"errors"
	"time"
)

// BillingInterval is the renewal cadence of a tier.
type BillingInterval string

const (
	IntervalMonth BillingInterval = "month"
	IntervalYear  BillingInterval = "year"
)

// Tier is a named pricing/feature bundle a subscription binds to. The catalog
// is static reference data: rows are seeded at startup and never mutated by
// request handlers.
type Tier struct {
	ID               string          `gorm:"primaryKey;type:text"`
	Name             string          `gorm:"type:text;not null"`
	Description      string          `gorm:"type:text"`
	PriceCents       int64           `gorm:"not null"`
	SeatPriceCents   int64           `gorm:"not null;default:0"`
	Currency         string          `gorm:"type:text;not null;default:'USD'"`
	Interval         BillingInterval `gorm:"type:text;not null;default:'month'"`
	IncludedCredits  int64           `gorm:"not null;default:0"`
	TeamTier         bool            `gorm:"not null;default:false"`
	ExternalPriceRef string          `gorm:"type:text;column:external_price_ref"`
	CreatedAt        time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Tier) TableName() string { return "tiers" }

// Free reports whether the tier has no billable price.
func (t Tier) Free() bool { return t.PriceCents == 0 }

// ServiceCost maps a metered service key to its per-unit credit cost.
type ServiceCost struct {
	ServiceKey string    `gorm:"primaryKey;type:text;column:service_key"`
	Name       string    `gorm:"type:text;not null"`
	UnitCost   int64     `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ServiceCost) TableName() string { return "service_costs" }

// FreeTierID is the tier auto-provisioned for owners without a paid plan.
const FreeTierID = "free"

var (
	ErrTierNotFound    = errors.New("tier_not_found")
	ErrServiceNotFound = errors.New("service_not_found")
)
