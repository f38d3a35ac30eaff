package pause

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hypergraphlabs/meridian/internal/clock"
	gatewaydomain "github.com/hypergraphlabs/meridian/internal/gateway/domain"
	subdomain "github.com/hypergraphlabs/meridian/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type service struct {
	db      *gorm.DB
	node    *snowflake.Node
	subs    subdomain.Service
	gateway gatewaydomain.Gateway
	clock   clock.Clock
	log     *zap.Logger
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Node    *snowflake.Node
	Subs    subdomain.Service
	Gateway gatewaydomain.Gateway
	Clock   clock.Clock
	Log     *zap.Logger
}

func NewService(p Params) Service {
	return &service{
		db:      p.DB,
		node:    p.Node,
		subs:    p.Subs,
		gateway: p.Gateway,
		clock:   p.Clock,
		log:     p.Log.Named("pause.service"),
	}
}

func (s *service) Pause(ctx context.Context, ownerID, reason string, resumeAt *time.Time) (*Record, error) {
	account, err := s.subs.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if account.Status == subdomain.StatusPaused {
		return nil, ErrAlreadyPaused
	}

	now := s.clock.Now()
	if resumeAt != nil {
		horizon := now.AddDate(0, MaxPauseMonths, 0)
		if !resumeAt.After(now) || resumeAt.After(horizon) {
			return nil, fmt.Errorf("resume time must fall within %d months: %w", MaxPauseMonths, ErrInvalidResumeTime)
		}
	}

	if account.GatewayLinked() {
		if err := s.gateway.PauseCollection(ctx, account.ExternalSubRef, resumeAt); err != nil {
			return nil, err
		}
	}

	if _, err := s.subs.UpdateStatus(ctx, ownerID, subdomain.StatusPaused, "pause"); err != nil {
		return nil, err
	}

	record := &Record{
		ID:                s.node.Generate().Int64(),
		AccountID:         account.ID,
		OwnerID:           ownerID,
		Reason:            reason,
		PausedAt:          now,
		ScheduledResumeAt: resumeAt,
		CreatedAt:         now,
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, err
	}

	s.log.Info("subscription paused",
		zap.String("owner_id", ownerID),
		zap.String("reason", reason),
		zap.Timep("scheduled_resume_at", resumeAt),
	)
	return record, nil
}

func (s *service) Resume(ctx context.Context, ownerID string) (*Record, error) {
	record, err := s.Current(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.resume(ctx, record)
}

func (s *service) resume(ctx context.Context, record *Record) (*Record, error) {
	account, err := s.subs.Get(ctx, record.OwnerID)
	if err != nil {
		return nil, err
	}

	if account.GatewayLinked() {
		if err := s.gateway.ResumeCollection(ctx, account.ExternalSubRef); err != nil {
			return nil, err
		}
	}

	if _, err := s.subs.UpdateStatus(ctx, record.OwnerID, subdomain.StatusActive, "resume"); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	days := int(now.Sub(record.PausedAt).Hours() / 24)
	err = s.db.WithContext(ctx).Model(&Record{}).
		Where("id = ? AND resumed_at IS NULL", record.ID).
		Updates(map[string]interface{}{
			"resumed_at":    now,
			"duration_days": days,
		}).Error
	if err != nil {
		return nil, err
	}

	record.ResumedAt = &now
	record.DurationDays = days

	s.log.Info("subscription resumed",
		zap.String("owner_id", record.OwnerID),
		zap.Int("duration_days", days),
	)
	return record, nil
}

func (s *service) Current(ctx context.Context, ownerID string) (*Record, error) {
	var record Record
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND resumed_at IS NULL", ownerID).
		Order("paused_at DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotPaused
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *service) History(ctx context.Context, ownerID string, limit int) ([]Record, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var records []Record
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("paused_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *service) SweepDueResumes(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 50
	}
	now := s.clock.Now()

	var due []Record
	query := s.db.WithContext(ctx)
	if query.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	err := query.
		Where("resumed_at IS NULL AND scheduled_resume_at IS NOT NULL AND scheduled_resume_at <= ?", now).
		Limit(batchSize).
		Find(&due).Error
	if err != nil {
		return 0, err
	}

	var resumed int
	var sweepErrs []error
	for i := range due {
		record := due[i]
		if _, err := s.resume(ctx, &record); err != nil {
			sweepErrs = append(sweepErrs, fmt.Errorf("owner %s: %w", record.OwnerID, err))
			continue
		}
		resumed++
	}
	return resumed, errors.Join(sweepErrs...)
}
