package scheduler

import (
	"errors"
	"time"

	appconfig "github.com/hypergraphlabs/meridian/internal/config"
)

// Config controls the sweep loop. The zero value is usable after
// withDefaults.
type Config struct {
	RunInterval  time.Duration
	SweepTimeout time.Duration
	BatchSize    int
	LockTTL      time.Duration
	// EnabledJobs limits which jobs run. Empty means all.
	EnabledJobs []string
}

func (c Config) withDefaults() Config {
	if c.RunInterval <= 0 {
		c.RunInterval = time.Minute
	}
	if c.SweepTimeout <= 0 {
		c.SweepTimeout = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 2 * time.Minute
	}
	return c
}

// FromAppConfig builds the scheduler config from application settings.
func FromAppConfig(cfg appconfig.Config) Config {
	return Config{
		RunInterval:  cfg.Scheduler.RunInterval,
		SweepTimeout: cfg.Scheduler.SweepTimeout,
		BatchSize:    cfg.Scheduler.BatchSize,
		LockTTL:      cfg.Scheduler.LockTTL,
	}
}

var ErrInvalidConfig = errors.New("scheduler: invalid configuration")
