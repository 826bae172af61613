// services/affiliate.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"affiliate-commission-system/logging"
	"affiliate-commission-system/models"
	"affiliate-commission-system/utils"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxSponsorChain bounds the ancestor walk done at enrollment time.
const maxSponsorChain = 256

// RankThresholds: total earnings (major units) required for each rank,
// highest first.
var RankThresholds = []struct {
	Rank string
	Min  decimal.Decimal
}{
	{models.RankAmbassador, decimal.NewFromInt(20000)},
	{models.RankDiamond, decimal.NewFromInt(5000)},
	{models.RankGold, decimal.NewFromInt(1000)},
	{models.RankSilver, decimal.NewFromInt(250)},
	{models.RankBronze, decimal.NewFromInt(50)},
}

type AffiliateService struct {
	DB          *gorm.DB
	Money       utils.Money
	JoinBaseURL string
	Now         func() time.Time
}

func NewAffiliateService(db *gorm.DB, money utils.Money, joinBaseURL string) *AffiliateService {
	return &AffiliateService{
		DB:          db,
		Money:       money,
		JoinBaseURL: joinBaseURL,
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

// Enroll creates the caller's affiliate profile and, when a sponsor code is
// given, the referral edge to that sponsor. A second call for the same user
// returns the existing profile unchanged and created=false.
func (s *AffiliateService) Enroll(ctx context.Context, userID, displayName, sponsorCode string) (*models.AffiliateProfile, bool, error) {
	if userID == "" {
		return nil, false, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	var profile models.AffiliateProfile
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("user_id = ?", userID).First(&profile).Error
		if err == nil {
			return ErrAlreadyEnrolled
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		profile = models.AffiliateProfile{
			UserID:      userID,
			DisplayName: displayName,
			Active:      true,
			Rank:        models.RankMember,
		}

		var sponsor *models.AffiliateProfile
		if sponsorCode != "" {
			var sp models.AffiliateProfile
			if err := tx.Where("referral_code = ?", sponsorCode).First(&sp).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrSponsorNotFound
				}
				return err
			}
			if err := s.checkNoCycle(tx, userID, sp.UserID); err != nil {
				return err
			}
			sponsor = &sp
			profile.SponsorID = &sp.UserID
			profile.NetworkLevel = sp.NetworkLevel + 1
		}

		code, err := s.uniqueReferralCode(tx, displayName)
		if err != nil {
			return err
		}
		profile.ReferralCode = code

		if err := tx.Create(&profile).Error; err != nil {
			return err
		}

		if sponsor != nil {
			edge := models.ReferralEdge{
				ReferrerID:       sponsor.UserID,
				ReferredID:       userID,
				Level:            1,
				RateHintBps:      int(LevelRates[0].Shift(4).IntPart()),
				ReferralCodeUsed: sponsorCode,
			}
			if err := tx.Create(&edge).Error; err != nil {
				return fmt.Errorf("create referral edge: %w", err)
			}
		}
		return nil
	})
	if errors.Is(err, ErrAlreadyEnrolled) {
		return &profile, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	logging.Logger.Info("[AFFILIATE] enrolled",
		zap.String("user_id", userID),
		zap.String("referral_code", profile.ReferralCode),
		zap.Int("network_level", profile.NetworkLevel),
	)
	return &profile, true, nil
}

// checkNoCycle walks the sponsor's ancestors and fails if userID is among them.
func (s *AffiliateService) checkNoCycle(tx *gorm.DB, userID, sponsorUserID string) error {
	current := sponsorUserID
	seen := map[string]bool{}
	for i := 0; i < maxSponsorChain; i++ {
		if current == userID {
			return ErrSponsorCycle
		}
		if seen[current] {
			// Pre-existing corruption above the sponsor; it does not involve this user.
			return nil
		}
		seen[current] = true

		var edge models.ReferralEdge
		err := tx.Where("referred_id = ?", current).First(&edge).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		current = edge.ReferrerID
	}
	return nil
}

func (s *AffiliateService) uniqueReferralCode(tx *gorm.DB, displayName string) (string, error) {
	base := slug.Make(displayName)
	if len(base) > 24 {
		base = base[:24]
	}
	if base == "" {
		base = "member"
	}

	for attempt := 0; attempt < 5; attempt++ {
		code := fmt.Sprintf("%s-%s", base, uuid.NewString()[:6])
		var count int64
		if err := tx.Model(&models.AffiliateProfile{}).Where("referral_code = ?", code).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not allocate a unique referral code for %q", displayName)
}

func (s *AffiliateService) Get(ctx context.Context, userID string) (*models.AffiliateProfile, error) {
	var profile models.AffiliateProfile
	if err := s.DB.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotEnrolled
		}
		return nil, err
	}
	return &profile, nil
}

// Deactivate stops a profile from earning. Profiles are never deleted.
func (s *AffiliateService) Deactivate(ctx context.Context, caller Caller, userID string) error {
	if err := caller.require(PermManageAffiliates); err != nil {
		return err
	}
	res := s.DB.WithContext(ctx).Model(&models.AffiliateProfile{}).
		Where("user_id = ?", userID).
		Update("active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotEnrolled
	}
	logging.Logger.Info("[AFFILIATE] deactivated", zap.String("user_id", userID), zap.String("by", caller.UserID))
	return nil
}

func (s *AffiliateService) SetPayoutDestination(ctx context.Context, userID, reference string) (*models.PayoutDestination, error) {
	if reference == "" {
		return nil, fmt.Errorf("%w: destination reference is required", ErrInvalidInput)
	}
	if _, err := s.Get(ctx, userID); err != nil {
		return nil, err
	}

	dest := models.PayoutDestination{UserID: userID, Reference: reference, Source: "affiliate"}
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"reference", "source", "updated_at"}),
	}).Create(&dest).Error
	if err != nil {
		return nil, err
	}
	return &dest, nil
}

// ListCommissions returns the user's commissions, newest first. An empty
// status means all statuses.
func (s *AffiliateService) ListCommissions(ctx context.Context, userID string, status models.CommissionStatus, limit int) ([]models.Commission, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.DB.WithContext(ctx).Where("affiliate_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var rows []models.Commission
	err := q.Order("accrued_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (s *AffiliateService) JoinLink(profile *models.AffiliateProfile) string {
	return s.JoinBaseURL + profile.ReferralCode
}

// JoinLinkQR renders the public join link as a PNG.
func (s *AffiliateService) JoinLinkQR(profile *models.AffiliateProfile, size int) ([]byte, error) {
	if size < 64 || size > 1024 {
		size = 256
	}
	return qrcode.Encode(s.JoinLink(profile), qrcode.Medium, size)
}

func (s *AffiliateService) rankFor(totalMinor int64) string {
	total := s.Money.ToMajor(totalMinor)
	for _, t := range RankThresholds {
		if total.GreaterThanOrEqual(t.Min) {
			return t.Rank
		}
	}
	return models.RankMember
}

type earningsRow struct {
	AffiliateID string
	Total       int64
	Weekly      int64
}

// RefreshEarnings recomputes every profile's cached totals and rank from the
// commission ledger. It returns how many profiles changed.
func (s *AffiliateService) RefreshEarnings(ctx context.Context) (int, error) {
	weekAgo := s.Now().AddDate(0, 0, -7)

	var rows []earningsRow
	err := s.DB.WithContext(ctx).Model(&models.Commission{}).
		Select("affiliate_id, COALESCE(SUM(amount), 0) AS total, "+
			"COALESCE(SUM(CASE WHEN accrued_at >= ? THEN amount ELSE 0 END), 0) AS weekly", weekAgo).
		Group("affiliate_id").
		Scan(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("aggregate earnings: %w", err)
	}
	byAffiliate := make(map[string]earningsRow, len(rows))
	for _, r := range rows {
		byAffiliate[r.AffiliateID] = r
	}

	var profiles []models.AffiliateProfile
	if err := s.DB.WithContext(ctx).Select("id", "user_id", "total_earnings", "weekly_earnings", "rank").Find(&profiles).Error; err != nil {
		return 0, err
	}

	changed := 0
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range profiles {
			agg := byAffiliate[p.UserID]
			rank := s.rankFor(agg.Total)
			if agg.Total == p.TotalEarnings && agg.Weekly == p.WeeklyEarnings && rank == p.Rank {
				continue
			}
			if err := tx.Model(&models.AffiliateProfile{}).Where("id = ?", p.ID).Updates(map[string]interface{}{
				"total_earnings":  agg.Total,
				"weekly_earnings": agg.Weekly,
				"rank":            rank,
			}).Error; err != nil {
				return err
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	logging.Logger.Info("[EARNINGS] refreshed", zap.Int("profiles", len(profiles)), zap.Int("changed", changed))
	return changed, nil
}
