package models

import (
	"time"

	"gorm.io/gorm"
)

type CommissionStatus string

const (
	CommissionStatusPending CommissionStatus = "pending"
	CommissionStatusPaid    CommissionStatus = "paid"
	CommissionStatusFailed  CommissionStatus = "failed"
)

// Commission is one credited level of one revenue event. The composite
// unique index makes re-crediting the same event a no-op.
type Commission struct {
	ID          string           `gorm:"primaryKey;type:uuid" json:"id"`
	AffiliateID string           `gorm:"not null;index;uniqueIndex:idx_commission_event_level" json:"affiliate_id"` // beneficiary UserID
	ReferredID  string           `gorm:"not null;index;uniqueIndex:idx_commission_event_level" json:"referred_id"`  // payer UserID
	EventID     string           `gorm:"not null;uniqueIndex:idx_commission_event_level" json:"event_id"`
	Level       int              `gorm:"not null;uniqueIndex:idx_commission_event_level" json:"level"`
	Amount      int64            `gorm:"not null" json:"amount"` // minor units
	Currency    string           `gorm:"type:varchar(3);not null" json:"currency"`
	Tier        Tier             `gorm:"type:varchar(16);not null" json:"tier"`
	EventType   RevenueEventType `gorm:"type:varchar(32);not null" json:"event_type"`
	AccruedAt   time.Time        `gorm:"not null;index" json:"accrued_at"`

	Status        CommissionStatus `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	PayoutRef     *string          `gorm:"type:varchar(128)" json:"payout_ref,omitempty"`
	FailureReason string           `gorm:"type:text" json:"failure_reason,omitempty"`
	Attempts      int              `gorm:"not null;default:0" json:"attempts"`
	ClaimToken    *string          `gorm:"type:varchar(64);index" json:"-"`
	ClaimedAt     *time.Time       `json:"claimed_at,omitempty"`
	SettledAt     *time.Time       `json:"settled_at,omitempty"`

	WithdrawalRequestID *string `gorm:"index" json:"withdrawal_request_id,omitempty"`

	Timestamps
}

func (c *Commission) BeforeCreate(tx *gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
