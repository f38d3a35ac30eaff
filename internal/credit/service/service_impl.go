package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/hypergraphlabs/meridian/internal/catalog/domain"
	"github.com/hypergraphlabs/meridian/internal/clock"
	creditdomain "github.com/hypergraphlabs/meridian/internal/credit/domain"
	"github.com/hypergraphlabs/meridian/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db      *gorm.DB
	node    *snowflake.Node
	catalog catalogdomain.Service
	clock   clock.Clock
	log     *zap.Logger
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Node    *snowflake.Node
	Catalog catalogdomain.Service
	Clock   clock.Clock
	Log     *zap.Logger
}

func NewService(p Params) creditdomain.Service {
	return &Service{
		db:      p.DB,
		node:    p.Node,
		catalog: p.Catalog,
		clock:   p.Clock,
		log:     p.Log.Named("credit.service"),
	}
}

func (s *Service) EnsureAccount(ctx context.Context, ownerID string) (*creditdomain.Account, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, creditdomain.ErrAccountNotFound
	}

	account := creditdomain.Account{
		OwnerID:       ownerID,
		Balance:       0,
		LastUpdatedAt: s.clock.Now(),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "owner_id"}}, DoNothing: true}).
		Create(&account).Error
	if err != nil {
		return nil, err
	}

	// Re-read so callers always see the stored balance, not the zero row
	// we tried to insert.
	var stored creditdomain.Account
	if err := s.db.WithContext(ctx).First(&stored, "owner_id = ?", ownerID).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

func (s *Service) Balance(ctx context.Context, ownerID string) (int64, error) {
	var account creditdomain.Account
	err := s.db.WithContext(ctx).First(&account, "owner_id = ?", ownerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, creditdomain.ErrAccountNotFound
	}
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

func (s *Service) Grant(ctx context.Context, req creditdomain.GrantRequest) (*creditdomain.Transaction, error) {
	return s.grant(ctx, nil, req)
}

func (s *Service) GrantIdempotent(ctx context.Context, eventKey string, req creditdomain.GrantRequest) (*creditdomain.Transaction, bool, error) {
	eventKey = strings.TrimSpace(eventKey)
	if eventKey == "" {
		txn, err := s.grant(ctx, nil, req)
		return txn, err == nil, err
	}

	var existing creditdomain.Transaction
	err := s.db.WithContext(ctx).First(&existing, "event_key = ?", eventKey).Error
	if err == nil {
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	txn, err := s.grant(ctx, &eventKey, req)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Lost the race to a concurrent delivery of the same event.
		if ferr := s.db.WithContext(ctx).First(&existing, "event_key = ?", eventKey).Error; ferr == nil {
			return &existing, false, nil
		}
		return nil, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return txn, true, nil
}

func (s *Service) grant(ctx context.Context, eventKey *string, req creditdomain.GrantRequest) (*creditdomain.Transaction, error) {
	if req.Amount <= 0 {
		return nil, creditdomain.ErrInvalidAmount
	}
	if !req.Type.Valid() || req.Type == creditdomain.TransactionUsage {
		return nil, creditdomain.ErrInvalidType
	}

	now := s.clock.Now()
	txn := &creditdomain.Transaction{
		ID:          s.node.Generate().Int64(),
		OwnerID:     req.OwnerID,
		Amount:      req.Amount,
		Type:        req.Type,
		Description: req.Description,
		EventKey:    eventKey,
		Metadata:    datatypes.JSONMap(req.Metadata),
		CreatedAt:   now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account := creditdomain.Account{
			OwnerID:       req.OwnerID,
			Balance:       0,
			LastUpdatedAt: now,
		}
		if err := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "owner_id"}}, DoNothing: true}).
			Create(&account).Error; err != nil {
			return err
		}

		res := tx.Model(&creditdomain.Account{}).
			Where("owner_id = ?", req.OwnerID).
			Updates(map[string]interface{}{
				"balance":         gorm.Expr("balance + ?", req.Amount),
				"last_updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}

		var stored creditdomain.Account
		if err := tx.First(&stored, "owner_id = ?", req.OwnerID).Error; err != nil {
			return err
		}
		txn.ResultingBalance = stored.Balance
		return tx.Create(txn).Error
	})
	if err != nil {
		return nil, err
	}

	metrics.CreditTransactions.WithLabelValues(string(req.Type)).Inc()
	s.log.Info("credits granted",
		zap.String("owner_id", req.OwnerID),
		zap.Int64("amount", req.Amount),
		zap.String("type", string(req.Type)),
		zap.Int64("balance", txn.ResultingBalance),
	)
	return txn, nil
}

func (s *Service) Debit(ctx context.Context, req creditdomain.DebitRequest) (*creditdomain.Transaction, error) {
	if req.Amount <= 0 {
		return nil, creditdomain.ErrInvalidAmount
	}

	now := s.clock.Now()
	txn := &creditdomain.Transaction{
		ID:          s.node.Generate().Int64(),
		OwnerID:     req.OwnerID,
		Amount:      -req.Amount,
		Type:        creditdomain.TransactionUsage,
		Description: req.Description,
		ServiceKey:  req.ServiceKey,
		Metadata:    datatypes.JSONMap(req.Metadata),
		CreatedAt:   now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Single conditional update: the balance check and the decrement
		// are one statement, so two racing debits can never both pass a
		// stale read.
		res := tx.Model(&creditdomain.Account{}).
			Where("owner_id = ? AND balance >= ?", req.OwnerID, req.Amount).
			Updates(map[string]interface{}{
				"balance":         gorm.Expr("balance - ?", req.Amount),
				"last_updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var account creditdomain.Account
			err := tx.First(&account, "owner_id = ?", req.OwnerID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return creditdomain.ErrAccountNotFound
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("balance %d cannot cover %d: %w",
				account.Balance, req.Amount, creditdomain.ErrInsufficientCredits)
		}

		var stored creditdomain.Account
		if err := tx.First(&stored, "owner_id = ?", req.OwnerID).Error; err != nil {
			return err
		}
		txn.ResultingBalance = stored.Balance
		return tx.Create(txn).Error
	})
	if errors.Is(err, creditdomain.ErrInsufficientCredits) {
		metrics.DebitRejections.Inc()
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	metrics.CreditTransactions.WithLabelValues(string(creditdomain.TransactionUsage)).Inc()
	return txn, nil
}

func (s *Service) DebitForService(ctx context.Context, ownerID, serviceKey string, units int64) (*creditdomain.Transaction, error) {
	if units <= 0 {
		return nil, creditdomain.ErrInvalidAmount
	}

	cost, err := s.catalog.ServiceUnitCost(ctx, serviceKey)
	if err != nil {
		return nil, err
	}

	return s.Debit(ctx, creditdomain.DebitRequest{
		OwnerID:     ownerID,
		Amount:      units * cost.UnitCost,
		ServiceKey:  cost.ServiceKey,
		Description: fmt.Sprintf("%s x%d", cost.ServiceKey, units),
		Metadata: map[string]interface{}{
			"units":     units,
			"unit_cost": cost.UnitCost,
		},
	})
}

func (s *Service) AdminAdjust(ctx context.Context, ownerID string, amount int64, description string) (*creditdomain.Transaction, error) {
	if amount == 0 {
		return nil, creditdomain.ErrInvalidAmount
	}

	now := s.clock.Now()
	txn := &creditdomain.Transaction{
		ID:          s.node.Generate().Int64(),
		OwnerID:     ownerID,
		Amount:      amount,
		Type:        creditdomain.TransactionAdmin,
		Description: description,
		CreatedAt:   now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&creditdomain.Account{}).
			Where("owner_id = ?", ownerID).
			Updates(map[string]interface{}{
				"balance":         gorm.Expr("balance + ?", amount),
				"last_updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return creditdomain.ErrAccountNotFound
		}

		var stored creditdomain.Account
		if err := tx.First(&stored, "owner_id = ?", ownerID).Error; err != nil {
			return err
		}
		txn.ResultingBalance = stored.Balance
		return tx.Create(txn).Error
	})
	if err != nil {
		return nil, err
	}

	metrics.CreditTransactions.WithLabelValues(string(creditdomain.TransactionAdmin)).Inc()
	s.log.Info("admin adjustment",
		zap.String("owner_id", ownerID),
		zap.Int64("amount", amount),
		zap.Int64("balance", txn.ResultingBalance),
	)
	return txn, nil
}

func (s *Service) ListTransactions(ctx context.Context, ownerID string, limit, offset int) ([]creditdomain.Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var txns []creditdomain.Transaction
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

func (s *Service) UsageByService(ctx context.Context, ownerID string, limit, offset int) ([]creditdomain.ServiceUsage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var usage []creditdomain.ServiceUsage
	err := s.db.WithContext(ctx).
		Model(&creditdomain.Transaction{}).
		Select("service_key, COUNT(*) AS calls, SUM(-amount) AS credits_spent, MAX(created_at) AS last_used_at").
		Where("owner_id = ? AND type = ?", ownerID, creditdomain.TransactionUsage).
		Group("service_key").
		Order("credits_spent DESC").
		Limit(limit).
		Offset(offset).
		Scan(&usage).Error
	if err != nil {
		return nil, err
	}
	return usage, nil
}
