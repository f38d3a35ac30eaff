package service

import (
	"context"
	"errors"
	"strings"

	catalogdomain "github.com/hypergraphlabs/meridian/internal/catalog/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

func NewService(p Params) catalogdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("catalog.service"),
	}
}

func (s *Service) GetTier(ctx context.Context, tierID string) (catalogdomain.Tier, error) {
	tierID = strings.TrimSpace(tierID)
	if tierID == "" {
		return catalogdomain.Tier{}, catalogdomain.ErrTierNotFound
	}

	var tier catalogdomain.Tier
	err := s.db.WithContext(ctx).First(&tier, "id = ?", tierID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return catalogdomain.Tier{}, catalogdomain.ErrTierNotFound
	}
	if err != nil {
		return catalogdomain.Tier{}, err
	}
	return tier, nil
}

func (s *Service) ListTiers(ctx context.Context) ([]catalogdomain.Tier, error) {
	var tiers []catalogdomain.Tier
	if err := s.db.WithContext(ctx).Order("price_cents ASC").Find(&tiers).Error; err != nil {
		return nil, err
	}
	return tiers, nil
}

func (s *Service) ServiceUnitCost(ctx context.Context, serviceKey string) (catalogdomain.ServiceCost, error) {
	serviceKey = strings.ToLower(strings.TrimSpace(serviceKey))
	if serviceKey == "" {
		return catalogdomain.ServiceCost{}, catalogdomain.ErrServiceNotFound
	}

	var cost catalogdomain.ServiceCost
	err := s.db.WithContext(ctx).First(&cost, "service_key = ?", serviceKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return catalogdomain.ServiceCost{}, catalogdomain.ErrServiceNotFound
	}
	if err != nil {
		return catalogdomain.ServiceCost{}, err
	}
	return cost, nil
}
