// Package scheduler drives the periodic sweeps: scheduled pause resumes,
// trial expirations, and period-end cancellations.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hypergraphlabs/meridian/internal/clock"
	"github.com/hypergraphlabs/meridian/internal/observability/metrics"
	"github.com/hypergraphlabs/meridian/internal/pause"
	subdomain "github.com/hypergraphlabs/meridian/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const runLockKey = "meridian:scheduler:run"

type Params struct {
	fx.In

	Log    *zap.Logger
	Subs   subdomain.Service
	Pause  pause.Service
	Clock  clock.Clock
	Config Config  `optional:"true"`
	Locker *Locker `optional:"true"`
}

type Scheduler struct {
	log    *zap.Logger
	cfg    Config
	subs   subdomain.Service
	pause  pause.Service
	clock  clock.Clock
	locker *Locker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Subs == nil || p.Pause == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:    p.Log.Named("scheduler"),
		cfg:    p.Config.withDefaults(),
		subs:   p.Subs,
		pause:  p.Pause,
		clock:  p.Clock,
		locker: p.Locker,
	}, nil
}

// RunOnce executes every enabled sweep. One failing job does not stop the
// others; the joined error carries everything that went wrong.
func (s *Scheduler) RunOnce(parent context.Context) error {
	if s.locker != nil {
		token, ok, err := s.locker.TryLock(parent, runLockKey, s.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("scheduler lock: %w", err)
		}
		if !ok {
			s.log.Debug("another instance holds the run lock")
			return nil
		}
		defer func() {
			if err := s.locker.Release(parent, runLockKey, token); err != nil {
				s.log.Warn("run lock release", zap.Error(err))
			}
		}()
	}

	var err error
	jobs := []struct {
		Name string
		Run  func(ctx context.Context) (int, error)
	}{
		{"pause_resume_sweep", func(ctx context.Context) (int, error) {
			return s.pause.SweepDueResumes(ctx, s.cfg.BatchSize)
		}},
		{"trial_expiry_sweep", func(ctx context.Context) (int, error) {
			return s.subs.SweepTrialExpirations(ctx, s.cfg.BatchSize)
		}},
		{"period_cancel_sweep", func(ctx context.Context) (int, error) {
			return s.subs.SweepPeriodCancellations(ctx, s.cfg.BatchSize)
		}},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.Run))
	}
	return err
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) (int, error)) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.SweepTimeout)
	defer cancel()

	start := time.Now()
	processed, err := fn(ctx)
	if err != nil {
		metrics.SweepRuns.WithLabelValues(name, "error").Inc()
		s.log.Warn("sweep failed",
			zap.String("job", name),
			zap.Int("processed", processed),
			zap.Error(err),
		)
		return fmt.Errorf("%s: %w", name, err)
	}

	metrics.SweepRuns.WithLabelValues(name, "ok").Inc()
	if processed > 0 {
		s.log.Info("sweep completed",
			zap.String("job", name),
			zap.Int("processed", processed),
			zap.Duration("took", time.Since(start)),
		)
	}
	return nil
}

// RunForever loops RunOnce until the context is canceled.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(name string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, name) {
			return true
		}
	}
	return false
}
