// Package seed installs the default pricing catalog. The catalog is reference
// data: inserts are idempotent and existing rows are left untouched so that
// operators can adjust pricing out of band.
package seed

import (
	catalogdomain "github.com/hypergraphlabs/meridian/internal/catalog/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func defaultTiers() []catalogdomain.Tier {
	return []catalogdomain.Tier{
		{
			ID:              catalogdomain.FreeTierID,
			Name:            "Free",
			Description:     "Starter access with a small monthly credit grant.",
			PriceCents:      0,
			IncludedCredits: 100,
			Interval:        catalogdomain.IntervalMonth,
		},
		{
			ID:               "pro",
			Name:             "Pro",
			Description:      "Full access for individuals.",
			PriceCents:       2900,
			IncludedCredits:  2000,
			Interval:         catalogdomain.IntervalMonth,
			ExternalPriceRef: "price_pro_monthly",
		},
		{
			ID:               "scale",
			Name:             "Scale",
			Description:      "High-volume individual plan.",
			PriceCents:       9900,
			IncludedCredits:  10000,
			Interval:         catalogdomain.IntervalMonth,
			ExternalPriceRef: "price_scale_monthly",
		},
		{
			ID:               "team",
			Name:             "Team",
			Description:      "Per-seat team plan with pooled credits.",
			PriceCents:       4900,
			SeatPriceCents:   4900,
			IncludedCredits:  5000,
			Interval:         catalogdomain.IntervalMonth,
			TeamTier:         true,
			ExternalPriceRef: "price_team_monthly_seat",
		},
	}
}

func defaultServiceCosts() []catalogdomain.ServiceCost {
	return []catalogdomain.ServiceCost{
		{ServiceKey: "chat.completion", Name: "Chat completion", UnitCost: 1},
		{ServiceKey: "image.generation", Name: "Image generation", UnitCost: 10},
		{ServiceKey: "audio.transcription", Name: "Audio transcription", UnitCost: 5},
		{ServiceKey: "embedding", Name: "Embedding", UnitCost: 1},
	}
}

// EnsureCatalog inserts any missing tiers and service costs.
func EnsureCatalog(conn *gorm.DB) error {
	for _, tier := range defaultTiers() {
		if err := conn.Clauses(clause.OnConflict{DoNothing: true}).Create(&tier).Error; err != nil {
			return err
		}
	}
	for _, cost := range defaultServiceCosts() {
		if err := conn.Clauses(clause.OnConflict{DoNothing: true}).Create(&cost).Error; err != nil {
			return err
		}
	}
	return nil
}
