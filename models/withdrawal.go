package models

import (
	"time"

	"gorm.io/gorm"
)

type WithdrawalStatus string

const (
	WithdrawalStatusPending   WithdrawalStatus = "pending"
	WithdrawalStatusApproved  WithdrawalStatus = "approved"
	WithdrawalStatusCompleted WithdrawalStatus = "completed"
	WithdrawalStatusRejected  WithdrawalStatus = "rejected"
	// Failed keeps its commissions reserved until an operator re-drives
	// or rejects it.
	WithdrawalStatusFailed WithdrawalStatus = "failed"
)

// WithdrawalRequest is an affiliate cash-out. Approval reserves matured
// commission rows; ApprovedAmount is the sum of what was reserved.
type WithdrawalRequest struct {
	ID              string           `gorm:"primaryKey;type:uuid" json:"id"`
	AffiliateID     string           `gorm:"index;not null" json:"affiliate_id"`
	RequestedAmount int64            `gorm:"not null" json:"requested_amount"`
	ApprovedAmount  int64            `gorm:"not null;default:0" json:"approved_amount"`
	Currency        string           `gorm:"type:varchar(3);not null" json:"currency"`
	Destination     string           `gorm:"type:varchar(255);not null" json:"destination"`
	Status          WithdrawalStatus `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`

	RequestedAt     time.Time  `gorm:"not null" json:"requested_at"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	ApprovedBy      *string    `json:"approved_by,omitempty"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	GatewayRef      *string    `gorm:"type:varchar(128)" json:"gateway_ref,omitempty"`
	RejectionReason string     `gorm:"type:text" json:"rejection_reason,omitempty"`
	FailureReason   string     `gorm:"type:text" json:"failure_reason,omitempty"`
	Attempts        int        `gorm:"not null;default:0" json:"attempts"`

	Timestamps
}

func (w *WithdrawalRequest) BeforeCreate(tx *gorm.DB) error {
	ensureID(&w.ID)
	return nil
}
