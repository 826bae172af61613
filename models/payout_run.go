package models

import (
	"time"

	"gorm.io/gorm"
)

type PayoutRunKind string

const (
	PayoutRunScheduled PayoutRunKind = "scheduled"
	PayoutRunManual    PayoutRunKind = "manual"
	PayoutRunRetry     PayoutRunKind = "retry"
)

// PayoutRun is the audit row written at the end of every batch.
type PayoutRun struct {
	ID             string        `gorm:"primaryKey;type:uuid" json:"id"`
	Kind           PayoutRunKind `gorm:"type:varchar(16);not null" json:"kind"`
	StartedAt      time.Time     `gorm:"not null;index" json:"started_at"`
	FinishedAt     time.Time     `gorm:"not null" json:"finished_at"`
	Selected       int           `gorm:"not null;default:0" json:"selected"`
	ProcessedCount int           `gorm:"not null;default:0" json:"processed_count"`
	TotalSettled   int64         `gorm:"not null;default:0" json:"total_settled"`
	ErrorCount     int           `gorm:"not null;default:0" json:"error_count"`
	Errors         string        `gorm:"type:text" json:"errors"` // JSON array of PayoutError
	ReportKey      string        `gorm:"type:varchar(255)" json:"report_key,omitempty"`
}

func (r *PayoutRun) BeforeCreate(tx *gorm.DB) error {
	ensureID(&r.ID)
	return nil
}
