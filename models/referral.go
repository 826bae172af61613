package models

import (
	"time"

	"gorm.io/gorm"
)

// ReferralEdge is a direct recruitment edge. Commission levels are chain
// distance, so Level is always 1 here.
type ReferralEdge struct {
	ID         string `gorm:"primaryKey;type:uuid" json:"id"`
	ReferrerID string `gorm:"index;not null" json:"referrer_id"`       // sponsor UserID
	ReferredID string `gorm:"uniqueIndex;not null" json:"referred_id"` // at most one sponsor per user

	Level            int    `gorm:"not null;default:1" json:"level"`
	RateHintBps      int    `gorm:"not null;default:0" json:"rate_hint_bps"`
	ReferralCodeUsed string `gorm:"not null" json:"referral_code_used"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (e *ReferralEdge) BeforeCreate(tx *gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
