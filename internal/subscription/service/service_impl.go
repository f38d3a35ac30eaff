package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/hypergraphlabs/meridian/internal/catalog/domain"
	"github.com/hypergraphlabs/meridian/internal/clock"
	creditdomain "github.com/hypergraphlabs/meridian/internal/credit/domain"
	gatewaydomain "github.com/hypergraphlabs/meridian/internal/gateway/domain"
	subdomain "github.com/hypergraphlabs/meridian/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db      *gorm.DB
	node    *snowflake.Node
	catalog catalogdomain.Service
	credits creditdomain.Service
	gateway gatewaydomain.Gateway
	clock   clock.Clock
	log     *zap.Logger
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Node    *snowflake.Node
	Catalog catalogdomain.Service
	Credits creditdomain.Service
	Gateway gatewaydomain.Gateway
	Clock   clock.Clock
	Log     *zap.Logger
}

func NewService(p Params) subdomain.Service {
	return &Service{
		db:      p.DB,
		node:    p.Node,
		catalog: p.Catalog,
		credits: p.Credits,
		gateway: p.Gateway,
		clock:   p.Clock,
		log:     p.Log.Named("subscription.service"),
	}
}

// lockForUpdate adds row locking on databases that support it. sqlite runs
// single-writer so the clause would only be a syntax error there.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func lockSkipLocked(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	return tx
}

func (s *Service) EnsureAccount(ctx context.Context, ownerID string) (*subdomain.Account, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, subdomain.ErrAccountNotFound
	}

	var existing subdomain.Account
	err := s.db.WithContext(ctx).First(&existing, "owner_id = ?", ownerID).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	freeTier, err := s.catalog.GetTier(ctx, catalogdomain.FreeTierID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	account := subdomain.Account{
		ID:        s.node.Generate().Int64(),
		OwnerID:   ownerID,
		Kind:      subdomain.KindIndividual,
		TierID:    freeTier.ID,
		Status:    subdomain.StatusActive,
		Seats:     1,
		AutoRenew: true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "owner_id"}}, DoNothing: true}).
		Create(&account).Error
	if err != nil {
		return nil, err
	}

	if _, err := s.credits.EnsureAccount(ctx, ownerID); err != nil {
		return nil, err
	}
	if freeTier.IncludedCredits > 0 {
		_, _, err := s.credits.GrantIdempotent(ctx, "signup:"+ownerID, creditdomain.GrantRequest{
			OwnerID:     ownerID,
			Amount:      freeTier.IncludedCredits,
			Type:        creditdomain.TransactionSubscription,
			Description: "free tier credits",
		})
		if err != nil {
			return nil, err
		}
	}

	var stored subdomain.Account
	if err := s.db.WithContext(ctx).First(&stored, "owner_id = ?", ownerID).Error; err != nil {
		return nil, err
	}
	s.log.Info("account provisioned", zap.String("owner_id", ownerID), zap.String("tier", stored.TierID))
	return &stored, nil
}

func (s *Service) Get(ctx context.Context, ownerID string) (*subdomain.Account, error) {
	var account subdomain.Account
	err := s.db.WithContext(ctx).First(&account, "owner_id = ?", ownerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, subdomain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *Service) GetByExternalRef(ctx context.Context, subRef string) (*subdomain.Account, error) {
	var account subdomain.Account
	err := s.db.WithContext(ctx).First(&account, "external_sub_ref = ?", subRef).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, subdomain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *Service) Subscribe(ctx context.Context, req subdomain.SubscribeRequest) (*subdomain.Account, error) {
	account, err := s.EnsureAccount(ctx, req.OwnerID)
	if err != nil {
		return nil, err
	}

	tier, err := s.catalog.GetTier(ctx, req.TierID)
	if err != nil {
		return nil, err
	}
	if tier.Free() {
		return s.ChangePlan(ctx, req.OwnerID, tier.ID, false)
	}
	if account.GatewayLinked() && account.Status != subdomain.StatusCanceled {
		return nil, subdomain.ErrAlreadySubscribed
	}

	seats := req.Seats
	if !tier.TeamTier || seats <= 0 {
		seats = 1
	}

	// Gateway first: local state only changes once the provider has
	// accepted the subscription.
	customerRef := account.ExternalCustomerRef
	if customerRef == "" {
		customerRef, err = s.gateway.EnsureCustomer(ctx, req.OwnerID, req.Email)
		if err != nil {
			return nil, err
		}
	}

	sub, err := s.gateway.CreateSubscription(ctx, gatewaydomain.CreateSubscriptionRequest{
		CustomerRef: customerRef,
		PriceRef:    tier.ExternalPriceRef,
		Quantity:    seats,
		TrialDays:   req.TrialDays,
		PaymentRef:  req.PaymentRef,
		Metadata:    map[string]string{"owner_id": req.OwnerID},
	})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	kind := subdomain.KindIndividual
	if tier.TeamTier {
		kind = subdomain.KindTeam
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current subdomain.Account
		if err := lockForUpdate(tx).First(&current, "owner_id = ?", req.OwnerID).Error; err != nil {
			return err
		}
		// A live gateway binding is never rebound. Only a canceled record,
		// whose agreement has ended, may start a new one.
		if current.ExternalSubRef != "" && current.Status != subdomain.StatusCanceled {
			return subdomain.ErrAlreadySubscribed
		}
		reason := "subscribe"
		if current.Status == subdomain.StatusCanceled {
			reason = "resubscribe"
		}

		status := subdomain.StatusFromGateway(sub.Status)
		updates := map[string]interface{}{
			"kind":                  kind,
			"tier_id":               tier.ID,
			"status":                status,
			"seats":                 seats,
			"current_period_start":  sub.CurrentPeriodStart,
			"current_period_end":    sub.CurrentPeriodEnd,
			"cancel_at_period_end":  false,
			"auto_renew":            true,
			"trial_ends_at":         sub.TrialEnd,
			"external_customer_ref": customerRef,
			"external_sub_ref":      sub.Ref,
			"ended_at":              nil,
			"updated_at":            now,
		}
		if err := tx.Model(&subdomain.Account{}).Where("id = ?", current.ID).Updates(updates).Error; err != nil {
			return err
		}
		return s.appendHistory(tx, current.ID, current.Status, status, current.TierID, tier.ID, reason)
	})
	if err != nil {
		return nil, err
	}

	if tier.IncludedCredits > 0 {
		amount := tier.IncludedCredits
		if tier.TeamTier {
			amount *= seats
		}
		_, _, err := s.credits.GrantIdempotent(ctx, "subscription_created:"+sub.Ref, creditdomain.GrantRequest{
			OwnerID:     req.OwnerID,
			Amount:      amount,
			Type:        creditdomain.TransactionSubscription,
			Description: fmt.Sprintf("%s tier credits", tier.ID),
			Metadata:    map[string]interface{}{"sub_ref": sub.Ref, "tier": tier.ID},
		})
		if err != nil {
			return nil, err
		}
	}

	s.log.Info("subscription created",
		zap.String("owner_id", req.OwnerID),
		zap.String("tier", tier.ID),
		zap.String("sub_ref", sub.Ref),
	)
	return s.Get(ctx, req.OwnerID)
}

func (s *Service) ChangePlan(ctx context.Context, ownerID, tierID string, prorate bool) (*subdomain.Account, error) {
	account, err := s.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	tier, err := s.catalog.GetTier(ctx, tierID)
	if err != nil {
		return nil, err
	}
	if tier.ID == account.TierID {
		return account, nil
	}
	if account.Status == subdomain.StatusCanceled {
		return nil, subdomain.ErrAlreadyCanceled
	}

	if tier.Free() {
		// Downgrade to free ends the paid agreement immediately.
		if account.GatewayLinked() {
			if _, err := s.gateway.CancelSubscription(ctx, account.ExternalSubRef, false); err != nil {
				return nil, err
			}
		}
		return s.applyLocalTierChange(ctx, account, tier, "downgrade_to_free")
	}

	if !account.GatewayLinked() {
		return nil, subdomain.ErrNotGatewayLinked
	}

	sub, err := s.gateway.UpdateSubscriptionPrice(ctx, account.ExternalSubRef, tier.ExternalPriceRef, account.Seats, prorate)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current subdomain.Account
		if err := lockForUpdate(tx).First(&current, "id = ?", account.ID).Error; err != nil {
			return err
		}
		kind := subdomain.KindIndividual
		if tier.TeamTier {
			kind = subdomain.KindTeam
		}
		updates := map[string]interface{}{
			"tier_id":              tier.ID,
			"kind":                 kind,
			"current_period_start": sub.CurrentPeriodStart,
			"current_period_end":   sub.CurrentPeriodEnd,
			"updated_at":           now,
		}
		if err := tx.Model(&subdomain.Account{}).Where("id = ?", current.ID).Updates(updates).Error; err != nil {
			return err
		}
		return s.appendHistory(tx, current.ID, current.Status, current.Status, current.TierID, tier.ID, "plan_change")
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("plan changed",
		zap.String("owner_id", ownerID),
		zap.String("from_tier", account.TierID),
		zap.String("to_tier", tier.ID),
	)
	return s.Get(ctx, ownerID)
}

func (s *Service) applyLocalTierChange(ctx context.Context, account *subdomain.Account, tier catalogdomain.Tier, reason string) (*subdomain.Account, error) {
	now := s.clock.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current subdomain.Account
		if err := lockForUpdate(tx).First(&current, "id = ?", account.ID).Error; err != nil {
			return err
		}
		updates := map[string]interface{}{
			"tier_id":              tier.ID,
			"status":               subdomain.StatusActive,
			"cancel_at_period_end": false,
			"external_sub_ref":     "",
			"current_period_start": nil,
			"current_period_end":   nil,
			"trial_ends_at":        nil,
			"updated_at":           now,
		}
		if err := tx.Model(&subdomain.Account{}).Where("id = ?", current.ID).Updates(updates).Error; err != nil {
			return err
		}
		return s.appendHistory(tx, current.ID, current.Status, subdomain.StatusActive, current.TierID, tier.ID, reason)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, account.OwnerID)
}

func (s *Service) Cancel(ctx context.Context, ownerID string, atPeriodEnd bool) (*subdomain.Account, error) {
	account, err := s.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if account.Status == subdomain.StatusCanceled {
		return nil, subdomain.ErrAlreadyCanceled
	}

	if account.GatewayLinked() {
		if _, err := s.gateway.CancelSubscription(ctx, account.ExternalSubRef, atPeriodEnd); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current subdomain.Account
		if err := lockForUpdate(tx).First(&current, "id = ?", account.ID).Error; err != nil {
			return err
		}

		if atPeriodEnd {
			// The account stays in its current status until the period
			// boundary; renewal is simply switched off.
			return tx.Model(&subdomain.Account{}).Where("id = ?", current.ID).Updates(map[string]interface{}{
				"cancel_at_period_end": true,
				"auto_renew":           false,
				"updated_at":           now,
			}).Error
		}

		if !subdomain.TransitionAllowed(current.Status, subdomain.StatusCanceled) {
			return subdomain.ErrInvalidTransition
		}
		updates := map[string]interface{}{
			"status":               subdomain.StatusCanceled,
			"tier_id":              catalogdomain.FreeTierID,
			"cancel_at_period_end": false,
			"auto_renew":           false,
			"ended_at":             now,
			"updated_at":           now,
		}
		if err := tx.Model(&subdomain.Account{}).Where("id = ?", current.ID).Updates(updates).Error; err != nil {
			return err
		}
		return s.appendHistory(tx, current.ID, current.Status, subdomain.StatusCanceled, current.TierID, catalogdomain.FreeTierID, "cancel")
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("subscription canceled",
		zap.String("owner_id", ownerID),
		zap.Bool("at_period_end", atPeriodEnd),
	)
	return s.Get(ctx, ownerID)
}

func (s *Service) UpdateStatus(ctx context.Context, ownerID string, target subdomain.Status, reason string) (*subdomain.Account, error) {
	if !target.Valid() {
		return nil, subdomain.ErrInvalidTransition
	}

	now := s.clock.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current subdomain.Account
		err := lockForUpdate(tx).First(&current, "owner_id = ?", ownerID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return subdomain.ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		if current.Status == target {
			return nil
		}
		if !subdomain.TransitionAllowed(current.Status, target) {
			return fmt.Errorf("%s -> %s: %w", current.Status, target, subdomain.ErrInvalidTransition)
		}

		updates := map[string]interface{}{
			"status":     target,
			"updated_at": now,
		}
		if target == subdomain.StatusCanceled {
			updates["ended_at"] = now
		}
		if err := tx.Model(&subdomain.Account{}).Where("id = ?", current.ID).Updates(updates).Error; err != nil {
			return err
		}
		return s.appendHistory(tx, current.ID, current.Status, target, current.TierID, current.TierID, reason)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, ownerID)
}

func (s *Service) ReconcileExternal(ctx context.Context, state subdomain.ExternalState) (*subdomain.Account, error) {
	now := s.clock.Now()
	var out *subdomain.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current subdomain.Account
		err := lockForUpdate(tx).First(&current, "external_sub_ref = ?", state.SubRef).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return subdomain.ErrAccountNotFound
		}
		if err != nil {
			return err
		}

		updates := map[string]interface{}{}
		statusChanged := false
		if state.Status.Valid() && state.Status != current.Status {
			if !subdomain.TransitionAllowed(current.Status, state.Status) {
				s.log.Warn("gateway reported status the state machine rejects",
					zap.String("sub_ref", state.SubRef),
					zap.String("current", string(current.Status)),
					zap.String("reported", string(state.Status)),
				)
			} else {
				updates["status"] = state.Status
				statusChanged = true
				if state.Status == subdomain.StatusCanceled {
					updates["ended_at"] = now
					updates["tier_id"] = catalogdomain.FreeTierID
				}
			}
		}
		if state.CurrentPeriodStart != nil && !equalTimePtr(state.CurrentPeriodStart, current.CurrentPeriodStart) {
			updates["current_period_start"] = state.CurrentPeriodStart
		}
		if state.CurrentPeriodEnd != nil && !equalTimePtr(state.CurrentPeriodEnd, current.CurrentPeriodEnd) {
			updates["current_period_end"] = state.CurrentPeriodEnd
		}
		if state.CancelAtPeriodEnd != nil && *state.CancelAtPeriodEnd != current.CancelAtPeriodEnd {
			updates["cancel_at_period_end"] = *state.CancelAtPeriodEnd
		}
		if state.TrialEnd != nil && !equalTimePtr(state.TrialEnd, current.TrialEndsAt) {
			updates["trial_ends_at"] = state.TrialEnd
		}
		if state.EndedAt != nil && !equalTimePtr(state.EndedAt, current.EndedAt) {
			updates["ended_at"] = state.EndedAt
		}

		if len(updates) == 0 {
			out = &current
			return nil
		}
		updates["updated_at"] = now
		if err := tx.Model(&subdomain.Account{}).Where("id = ?", current.ID).Updates(updates).Error; err != nil {
			return err
		}
		if statusChanged {
			if err := s.appendHistory(tx, current.ID, current.Status, state.Status, current.TierID, current.TierID, "gateway_reconcile"); err != nil {
				return err
			}
		}
		var stored subdomain.Account
		if err := tx.First(&stored, "id = ?", current.ID).Error; err != nil {
			return err
		}
		out = &stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) History(ctx context.Context, ownerID string, limit int) ([]subdomain.History, error) {
	account, err := s.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var rows []subdomain.History
	err = s.db.WithContext(ctx).
		Where("account_id = ?", account.ID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Service) ReserveSeat(ctx context.Context, accountID int64) error {
	now := s.clock.Now()
	res := s.db.WithContext(ctx).Model(&subdomain.Account{}).
		Where("id = ? AND used_seats < seats", accountID).
		Updates(map[string]interface{}{
			"used_seats": gorm.Expr("used_seats + 1"),
			"updated_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var account subdomain.Account
		err := s.db.WithContext(ctx).First(&account, "id = ?", accountID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return subdomain.ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		return subdomain.ErrSeatLimitReached
	}
	return nil
}

func (s *Service) ReleaseSeat(ctx context.Context, accountID int64) error {
	now := s.clock.Now()
	res := s.db.WithContext(ctx).Model(&subdomain.Account{}).
		Where("id = ? AND used_seats > 0", accountID).
		Updates(map[string]interface{}{
			"used_seats": gorm.Expr("used_seats - 1"),
			"updated_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return subdomain.ErrAccountNotFound
	}
	return nil
}

func (s *Service) SetSeats(ctx context.Context, accountID, seats int64) error {
	if seats <= 0 {
		return subdomain.ErrSeatsBelowUsage
	}

	now := s.clock.Now()
	res := s.db.WithContext(ctx).Model(&subdomain.Account{}).
		Where("id = ? AND used_seats <= ?", accountID, seats).
		Updates(map[string]interface{}{
			"seats":      seats,
			"updated_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var account subdomain.Account
		err := s.db.WithContext(ctx).First(&account, "id = ?", accountID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return subdomain.ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		return subdomain.ErrSeatsBelowUsage
	}
	return nil
}

func (s *Service) SweepTrialExpirations(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 50
	}
	now := s.clock.Now()

	var processed int
	var sweepErrs []error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var due []subdomain.Account
		err := lockSkipLocked(tx).
			Where("status = ? AND trial_ends_at IS NOT NULL AND trial_ends_at <= ?", subdomain.StatusTrialing, now).
			Limit(batchSize).
			Find(&due).Error
		if err != nil {
			return err
		}

		for i := range due {
			account := due[i]
			err := tx.Model(&subdomain.Account{}).Where("id = ?", account.ID).Updates(map[string]interface{}{
				"status":     subdomain.StatusPastDue,
				"updated_at": now,
			}).Error
			if err != nil {
				sweepErrs = append(sweepErrs, fmt.Errorf("account %d: %w", account.ID, err))
				continue
			}
			if err := s.appendHistory(tx, account.ID, account.Status, subdomain.StatusPastDue, account.TierID, account.TierID, "trial_expired"); err != nil {
				sweepErrs = append(sweepErrs, fmt.Errorf("account %d: %w", account.ID, err))
				continue
			}
			processed++
		}
		return nil
	})
	if err != nil {
		return processed, err
	}
	return processed, errors.Join(sweepErrs...)
}

func (s *Service) SweepPeriodCancellations(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 50
	}
	now := s.clock.Now()

	var processed int
	var sweepErrs []error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var due []subdomain.Account
		err := lockSkipLocked(tx).
			Where("status <> ? AND cancel_at_period_end = ? AND current_period_end IS NOT NULL AND current_period_end <= ?",
				subdomain.StatusCanceled, true, now).
			Limit(batchSize).
			Find(&due).Error
		if err != nil {
			return err
		}

		for i := range due {
			account := due[i]
			err := tx.Model(&subdomain.Account{}).Where("id = ?", account.ID).Updates(map[string]interface{}{
				"status":               subdomain.StatusCanceled,
				"tier_id":              catalogdomain.FreeTierID,
				"cancel_at_period_end": false,
				"ended_at":             now,
				"updated_at":           now,
			}).Error
			if err != nil {
				sweepErrs = append(sweepErrs, fmt.Errorf("account %d: %w", account.ID, err))
				continue
			}
			if err := s.appendHistory(tx, account.ID, account.Status, subdomain.StatusCanceled, account.TierID, catalogdomain.FreeTierID, "period_end_cancel"); err != nil {
				sweepErrs = append(sweepErrs, fmt.Errorf("account %d: %w", account.ID, err))
				continue
			}
			processed++
		}
		return nil
	})
	if err != nil {
		return processed, err
	}
	return processed, errors.Join(sweepErrs...)
}

func (s *Service) appendHistory(tx *gorm.DB, accountID int64, from, to subdomain.Status, fromTier, toTier, reason string) error {
	return tx.Create(&subdomain.History{
		ID:         s.node.Generate().Int64(),
		AccountID:  accountID,
		FromStatus: from,
		ToStatus:   to,
		FromTier:   fromTier,
		ToTier:     toTier,
		Reason:     reason,
		CreatedAt:  s.clock.Now(),
	}).Error
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
