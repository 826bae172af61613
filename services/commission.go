// services/commission.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"affiliate-commission-system/logging"
	"affiliate-commission-system/models"
	"affiliate-commission-system/monitoring"
	"affiliate-commission-system/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LevelRates is the decaying rate table; index 0 is the direct sponsor.
var LevelRates = []decimal.Decimal{
	decimal.RequireFromString("0.20"),
	decimal.RequireFromString("0.10"),
	decimal.RequireFromString("0.05"),
	decimal.RequireFromString("0.03"),
	decimal.RequireFromString("0.02"),
	decimal.RequireFromString("0.01"),
	decimal.RequireFromString("0.01"),
}

// MaxCommissionLevel is the deepest ancestor that earns on an event.
var MaxCommissionLevel = len(LevelRates)

// RevenueEventInput is what the billing system posts for each charge.
type RevenueEventInput struct {
	PayerUserID string                  `json:"payer_user_id"`
	Amount      decimal.Decimal         `json:"amount"` // major units
	Tier        models.Tier             `json:"tier"`
	EventID     string                  `json:"event_id"`
	EventType   models.RevenueEventType `json:"event_type"`
}

// normalized lowercases the tier and event type the billing system sent.
func (in RevenueEventInput) normalized() RevenueEventInput {
	in.Tier = models.ParseTier(string(in.Tier))
	in.EventType = models.ParseRevenueEventType(string(in.EventType))
	return in
}

func (in RevenueEventInput) validate() error {
	switch {
	case in.PayerUserID == "":
		return fmt.Errorf("%w: payer_user_id is required", ErrInvalidRevenueEvent)
	case in.EventID == "":
		return fmt.Errorf("%w: event_id is required", ErrInvalidRevenueEvent)
	case !in.Tier.Valid():
		return fmt.Errorf("%w: unknown tier %q", ErrInvalidRevenueEvent, in.Tier)
	case !in.EventType.Valid():
		return fmt.Errorf("%w: unknown event_type %q", ErrInvalidRevenueEvent, in.EventType)
	case in.Amount.IsNegative():
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidRevenueEvent)
	}
	return nil
}

// CreditResult reports what one revenue event produced.
type CreditResult struct {
	EventID         string              `json:"event_id"`
	DuplicateEvent  bool                `json:"duplicate_event"`
	Created         []models.Commission `json:"created"`
	SkippedExisting int                 `json:"skipped_existing"`
	Warnings        []string            `json:"warnings"`
}

type CommissionCalculator struct {
	DB        *gorm.DB
	Money     utils.Money
	TierBases map[models.Tier]decimal.Decimal
	Now       func() time.Time
}

func NewCommissionCalculator(db *gorm.DB, money utils.Money, tierBases map[string]decimal.Decimal) *CommissionCalculator {
	bases := make(map[models.Tier]decimal.Decimal, len(tierBases))
	for name, base := range tierBases {
		bases[models.ParseTier(name)] = base
	}
	return &CommissionCalculator{
		DB:        db,
		Money:     money,
		TierBases: bases,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// LevelAmount is flatBase(tier) x rate(level) in minor units. Level is 1-based.
func (s *CommissionCalculator) LevelAmount(tier models.Tier, level int) int64 {
	if level < 1 || level > MaxCommissionLevel {
		return 0
	}
	return s.Money.ToMinor(s.TierBases[tier].Mul(LevelRates[level-1]))
}

// Credit records the revenue event and writes one pending commission per
// eligible ancestor. Replaying an event id is a no-op success.
func (s *CommissionCalculator) Credit(ctx context.Context, in RevenueEventInput) (*CreditResult, error) {
	in = in.normalized()
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := s.Now()
	result := &CreditResult{EventID: in.EventID, Created: []models.Commission{}, Warnings: []string{}}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		event := models.RevenueEvent{
			EventID:     in.EventID,
			PayerUserID: in.PayerUserID,
			Amount:      s.Money.ToMinor(in.Amount),
			Currency:    s.Money.Code,
			Tier:        in.Tier,
			EventType:   in.EventType,
			ReceivedAt:  now,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).Create(&event)
		if res.Error != nil {
			return fmt.Errorf("record revenue event: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			result.DuplicateEvent = true
			return nil
		}

		return s.walk(tx, in, now, result)
	})
	if err != nil {
		return nil, err
	}

	if result.DuplicateEvent {
		monitoring.CommissionDuplicates.Inc()
		logging.Logger.Info("[COMMISSION] duplicate revenue event ignored", zap.String("event_id", in.EventID))
		return result, nil
	}
	for _, c := range result.Created {
		monitoring.CommissionsCreated.WithLabelValues(strconv.Itoa(c.Level)).Inc()
	}
	logging.Logger.Info("[COMMISSION] credited revenue event",
		zap.String("event_id", in.EventID),
		zap.String("payer", in.PayerUserID),
		zap.String("tier", string(in.Tier)),
		zap.Int("rows", len(result.Created)),
		zap.Int("warnings", len(result.Warnings)),
	)
	return result, nil
}

// walk follows the sponsor chain upward from the payer. It stops at the
// deepest paid level, at a chain root, or when the chain is corrupt; rows
// already written for lower levels stand.
func (s *CommissionCalculator) walk(tx *gorm.DB, in RevenueEventInput, now time.Time, result *CreditResult) error {
	visited := map[string]bool{in.PayerUserID: true}
	current := in.PayerUserID

	for level := 1; level <= MaxCommissionLevel; level++ {
		var edge models.ReferralEdge
		err := tx.Where("referred_id = ?", current).First(&edge).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load sponsor of %s: %w", current, err)
		}

		sponsorID := edge.ReferrerID
		if visited[sponsorID] {
			s.warn(result, "cycle", fmt.Sprintf("sponsor cycle at level %d: %s already visited for event %s", level, sponsorID, in.EventID))
			return nil
		}
		visited[sponsorID] = true

		var sponsor models.AffiliateProfile
		err = tx.Where("user_id = ?", sponsorID).First(&sponsor).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.warn(result, "missing_profile", fmt.Sprintf("referral edge %s -> %s points to a missing profile", sponsorID, current))
			return nil
		}
		if err != nil {
			return fmt.Errorf("load sponsor profile %s: %w", sponsorID, err)
		}

		current = sponsorID
		if !sponsor.Active {
			continue
		}

		amount := s.LevelAmount(in.Tier, level)
		if amount <= 0 {
			continue
		}

		row := models.Commission{
			AffiliateID: sponsorID,
			ReferredID:  in.PayerUserID,
			EventID:     in.EventID,
			Level:       level,
			Amount:      amount,
			Currency:    s.Money.Code,
			Tier:        in.Tier,
			EventType:   in.EventType,
			AccruedAt:   now,
			Status:      models.CommissionStatusPending,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "affiliate_id"}, {Name: "referred_id"}, {Name: "event_id"}, {Name: "level"},
			},
			DoNothing: true,
		}).Create(&row)
		if res.Error != nil {
			return fmt.Errorf("write level %d commission: %w", level, res.Error)
		}
		if res.RowsAffected == 0 {
			result.SkippedExisting++
			continue
		}
		result.Created = append(result.Created, row)
	}
	return nil
}

func (s *CommissionCalculator) warn(result *CreditResult, kind, msg string) {
	result.Warnings = append(result.Warnings, msg)
	monitoring.IntegrityWarnings.WithLabelValues(kind).Inc()
	logging.Logger.Warn("[COMMISSION] integrity warning", zap.String("kind", kind), zap.String("detail", msg))
}
