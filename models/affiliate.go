package models

import (
	"gorm.io/gorm"
)

// Rank labels, cached on the profile and recomputed from the ledger.
const (
	RankMember     = "Member"
	RankBronze     = "Bronze"
	RankSilver     = "Silver"
	RankGold       = "Gold"
	RankDiamond    = "Diamond"
	RankAmbassador = "Ambassador"
)

// AffiliateProfile is one enrolled affiliate. Earnings and rank are a cache
// refreshed from commission rows, never incremented directly.
type AffiliateProfile struct {
	ID           string  `gorm:"primaryKey;type:uuid" json:"id"`
	UserID       string  `gorm:"uniqueIndex;not null" json:"user_id"` // verified identity from the gateway
	DisplayName  string  `gorm:"not null;default:''" json:"display_name"`
	ReferralCode string  `gorm:"type:varchar(64);uniqueIndex;not null" json:"referral_code"`
	SponsorID    *string `gorm:"index" json:"sponsor_id,omitempty"` // sponsor's UserID
	NetworkLevel int     `gorm:"not null;default:0" json:"network_level"`

	TotalEarnings  int64  `gorm:"not null;default:0" json:"total_earnings"`  // minor units
	WeeklyEarnings int64  `gorm:"not null;default:0" json:"weekly_earnings"` // minor units, trailing 7 days
	Rank           string `gorm:"type:varchar(32);not null;default:'Member'" json:"rank"`

	Active bool `gorm:"not null;default:true;index" json:"active"`

	Timestamps
}

func (p *AffiliateProfile) BeforeCreate(tx *gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// PayoutDestination maps an affiliate to the external reference the payout
// gateway transfers to (wallet address, tokenised bank account).
type PayoutDestination struct {
	ID        string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID    string `gorm:"uniqueIndex;not null" json:"user_id"`
	Reference string `gorm:"type:varchar(255);not null" json:"reference"`
	Source    string `gorm:"type:varchar(32);not null;default:'affiliate'" json:"source"` // affiliate | wallet_sync

	Timestamps
}

func (d *PayoutDestination) BeforeCreate(tx *gorm.DB) error {
	ensureID(&d.ID)
	return nil
}
