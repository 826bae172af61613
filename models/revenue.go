package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Tier is a membership plan; it selects the flat commission base.
type Tier string

const (
	TierBronze  Tier = "bronze"
	TierSilver  Tier = "silver"
	TierGold    Tier = "gold"
	TierDiamond Tier = "diamond"
)

var Tiers = []Tier{TierBronze, TierSilver, TierGold, TierDiamond}

// ParseTier accepts tier names in any case, "Silver" included.
func ParseTier(s string) Tier {
	return Tier(strings.ToLower(strings.TrimSpace(s)))
}

func (t Tier) Valid() bool {
	for _, known := range Tiers {
		if t == known {
			return true
		}
	}
	return false
}

type RevenueEventType string

const (
	RevenueEventSubscription RevenueEventType = "subscription"
	RevenueEventUpgrade      RevenueEventType = "upgrade"
	RevenueEventRenewal      RevenueEventType = "renewal"
)

func ParseRevenueEventType(s string) RevenueEventType {
	return RevenueEventType(strings.ToLower(strings.TrimSpace(s)))
}

func (t RevenueEventType) Valid() bool {
	switch t {
	case RevenueEventSubscription, RevenueEventUpgrade, RevenueEventRenewal:
		return true
	}
	return false
}

// RevenueEvent records each billing event once, keyed by the billing
// system's event id.
type RevenueEvent struct {
	ID          string           `gorm:"primaryKey;type:uuid" json:"id"`
	EventID     string           `gorm:"uniqueIndex;not null" json:"event_id"`
	PayerUserID string           `gorm:"index;not null" json:"payer_user_id"`
	Amount      int64            `gorm:"not null" json:"amount"` // minor units
	Currency    string           `gorm:"type:varchar(3);not null" json:"currency"`
	Tier        Tier             `gorm:"type:varchar(16);not null" json:"tier"`
	EventType   RevenueEventType `gorm:"type:varchar(32);not null" json:"event_type"`
	ReceivedAt  time.Time        `gorm:"index;not null" json:"received_at"`
}

func (e *RevenueEvent) BeforeCreate(tx *gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
