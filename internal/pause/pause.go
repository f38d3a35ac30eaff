// Package pause suspends billing without canceling the subscription. Each
// pause is recorded as its own row so resumes, scheduled or manual, are
// auditable.
package pause

import (
	"context"
	"errors"
	"time"
)

// Record is one pause episode. ResumedAt is nil while the pause is open.
type Record struct {
	ID                int64      `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	AccountID         int64      `gorm:"not null;index;column:account_id" json:"account_id,string"`
	OwnerID           string     `gorm:"type:text;not null;index;column:owner_id" json:"owner_id"`
	Reason            string     `gorm:"type:text" json:"reason"`
	PausedAt          time.Time  `gorm:"not null;column:paused_at" json:"paused_at"`
	ScheduledResumeAt *time.Time `gorm:"column:scheduled_resume_at;index" json:"scheduled_resume_at,omitempty"`
	ResumedAt         *time.Time `gorm:"column:resumed_at" json:"resumed_at,omitempty"`
	DurationDays      int        `gorm:"not null;default:0;column:duration_days" json:"duration_days"`
	CreatedAt         time.Time  `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (Record) TableName() string { return "pause_records" }

// MaxPauseMonths bounds how far out a scheduled resume may be.
const MaxPauseMonths = 3

// Service pauses and resumes subscription accounts.
type Service interface {
	// Pause suspends the account, optionally until resumeAt. A nil
	// resumeAt pauses indefinitely.
	Pause(ctx context.Context, ownerID, reason string, resumeAt *time.Time) (*Record, error)
	// Resume reactivates a paused account and closes the open record.
	Resume(ctx context.Context, ownerID string) (*Record, error)
	// Current returns the open pause record, or ErrNotPaused.
	Current(ctx context.Context, ownerID string) (*Record, error)
	// History returns past and present pause records, newest first.
	History(ctx context.Context, ownerID string, limit int) ([]Record, error)
	// SweepDueResumes resumes every account whose scheduled resume time
	// has arrived. One failing account does not stop the rest.
	SweepDueResumes(ctx context.Context, batchSize int) (int, error)
}

var (
	ErrAlreadyPaused     = errors.New("already_paused")
	ErrNotPaused         = errors.New("not_paused")
	ErrInvalidResumeTime = errors.New("invalid_resume_time")
)
