package models

import (
	"time"

	"github.com/joshu-sajeev/pollq/internal/config"
)

type Job struct {
	ID             uint             `gorm:"primaryKey;autoIncrement"`
	JobType        string           `gorm:"type:varchar(255);not null;index:idx_jobs_claim,priority:2"`
	Group          string           `gorm:"column:job_group;type:varchar(255);not null;default:'';index"`
	Reference      string           `gorm:"type:varchar(255);not null;default:''"`
	Payload        []byte           `gorm:"not null"`
	Status         config.JobStatus `gorm:"type:varchar(32);not null;default:'pending';index:idx_jobs_claim,priority:1"`
	Attempts       int              `gorm:"default:0;not null"`
	MaxAttempts    int              `gorm:"default:4;not null"`
	WorkerKey      string           `gorm:"type:varchar(64);not null;default:''"`
	FailureMessage string           `gorm:"type:text;not null;default:''"`
	NotBefore      *time.Time
	FetchedAt      *time.Time
	RetryAt        *time.Time
	CompletedAt    *time.Time `gorm:"index"`
	CreatedAt      time.Time  `gorm:"autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime"`
}

// Eligible reports when the job may next be claimed, ignoring reclaim of
// expired fetches.
func (j *Job) Eligible() time.Time {
	switch {
	case j.Status == config.JobStatusFailedRetry && j.RetryAt != nil:
		return *j.RetryAt
	case j.NotBefore != nil:
		return *j.NotBefore
	default:
		return j.CreatedAt
	}
}
