package services

import (
	"context"
	"fmt"
	"testing"

	"affiliate-commission-system/models"
	"affiliate-commission-system/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newCalculator(t *testing.T, db *gorm.DB) *CommissionCalculator {
	calc := NewCommissionCalculator(db, usd(t), defaultTierBases())
	calc.Now = clock(testNow)
	return calc
}

func silverEvent(payer, eventID string) RevenueEventInput {
	return RevenueEventInput{
		PayerUserID: payer,
		Amount:      decimal.RequireFromString("33.00"),
		Tier:        models.TierSilver,
		EventID:     eventID,
		EventType:   models.RevenueEventSubscription,
	}
}

func commissionsFor(t *testing.T, db *gorm.DB, eventID string) map[string]models.Commission {
	t.Helper()
	var rows []models.Commission
	require.NoError(t, db.Where("event_id = ?", eventID).Find(&rows).Error)
	out := make(map[string]models.Commission, len(rows))
	for _, r := range rows {
		out[r.AffiliateID] = r
	}
	return out
}

func TestCreditSilverChain(t *testing.T) {
	db := testutil.NewDB(t)
	affiliates := newAffiliates(t, db)
	calc := newCalculator(t, db)

	a := enroll(t, affiliates, "A", nil)
	b := enroll(t, affiliates, "B", a)
	enroll(t, affiliates, "C", b)

	result, err := calc.Credit(context.Background(), silverEvent("C", "evt-1"))
	require.NoError(t, err)
	require.False(t, result.DuplicateEvent)
	require.Len(t, result.Created, 2)
	require.Empty(t, result.Warnings)

	rows := commissionsFor(t, db, "evt-1")
	require.Len(t, rows, 2)

	require.Equal(t, int64(660), rows["B"].Amount)
	require.Equal(t, 1, rows["B"].Level)
	require.Equal(t, int64(330), rows["A"].Amount)
	require.Equal(t, 2, rows["A"].Level)
	for _, r := range rows {
		require.Equal(t, models.CommissionStatusPending, r.Status)
		require.Equal(t, "C", r.ReferredID)
		require.Equal(t, "USD", r.Currency)
	}

	var event models.RevenueEvent
	require.NoError(t, db.Where("event_id = ?", "evt-1").First(&event).Error)
	require.Equal(t, int64(3300), event.Amount)
}

func TestCreditIsIdempotent(t *testing.T) {
	db := testutil.NewDB(t)
	affiliates := newAffiliates(t, db)
	calc := newCalculator(t, db)

	a := enroll(t, affiliates, "A", nil)
	b := enroll(t, affiliates, "B", a)
	enroll(t, affiliates, "C", b)

	_, err := calc.Credit(context.Background(), silverEvent("C", "evt-dup"))
	require.NoError(t, err)

	again, err := calc.Credit(context.Background(), silverEvent("C", "evt-dup"))
	require.NoError(t, err)
	require.True(t, again.DuplicateEvent)
	require.Empty(t, again.Created)

	var count int64
	require.NoError(t, db.Model(&models.Commission{}).Where("event_id = ?", "evt-dup").Count(&count).Error)
	require.Equal(t, int64(2), count)
}

func TestCreditRateTable(t *testing.T) {
	db := testutil.NewDB(t)
	affiliates := newAffiliates(t, db)
	calc := newCalculator(t, db)

	// u0 <- u1 <- ... <- u9; u9 pays, so u8 is level 1 and u0 is level 9.
	var prev *models.AffiliateProfile
	for i := 0; i <= 9; i++ {
		prev = enroll(t, affiliates, fmt.Sprintf("u%d", i), prev)
	}

	result, err := calc.Credit(context.Background(), RevenueEventInput{
		PayerUserID: "u9",
		Amount:      decimal.RequireFromString("150.00"),
		Tier:        models.TierDiamond,
		EventID:     "evt-diamond",
		EventType:   models.RevenueEventRenewal,
	})
	require.NoError(t, err)
	require.Len(t, result.Created, MaxCommissionLevel)

	rows := commissionsFor(t, db, "evt-diamond")
	want := []int64{3000, 1500, 750, 450, 300, 150, 150}
	for level, amount := range want {
		userID := fmt.Sprintf("u%d", 8-level)
		require.Equal(t, amount, rows[userID].Amount, "level %d", level+1)
		require.Equal(t, level+1, rows[userID].Level)
	}
	require.NotContains(t, rows, "u1")
	require.NotContains(t, rows, "u0")
}

func TestCreditSkipsInactiveAncestor(t *testing.T) {
	db := testutil.NewDB(t)
	affiliates := newAffiliates(t, db)
	calc := newCalculator(t, db)

	a := enroll(t, affiliates, "A", nil)
	b := enroll(t, affiliates, "B", a)
	enroll(t, affiliates, "C", b)
	require.NoError(t, affiliates.Deactivate(context.Background(), adminCaller, "B"))

	result, err := calc.Credit(context.Background(), silverEvent("C", "evt-inactive"))
	require.NoError(t, err)
	require.Len(t, result.Created, 1)

	rows := commissionsFor(t, db, "evt-inactive")
	require.NotContains(t, rows, "B")
	require.Equal(t, 2, rows["A"].Level)
	require.Equal(t, int64(330), rows["A"].Amount)
}

func TestCreditCycleIsTruncated(t *testing.T) {
	db := testutil.NewDB(t)
	calc := newCalculator(t, db)

	for _, id := range []string{"X", "Y", "P"} {
		require.NoError(t, db.Create(&models.AffiliateProfile{UserID: id, ReferralCode: "code-" + id}).Error)
	}
	// P <- Y <- X <- Y
	for _, e := range [][2]string{{"Y", "P"}, {"X", "Y"}, {"Y", "X"}} {
		require.NoError(t, db.Create(&models.ReferralEdge{ReferrerID: e[0], ReferredID: e[1]}).Error)
	}

	result, err := calc.Credit(context.Background(), silverEvent("P", "evt-cycle"))
	require.NoError(t, err)
	require.Len(t, result.Created, 2)
	require.Len(t, result.Warnings, 1)
	require.Contains(t, result.Warnings[0], "cycle")

	rows := commissionsFor(t, db, "evt-cycle")
	require.Equal(t, 1, rows["Y"].Level)
	require.Equal(t, 2, rows["X"].Level)
}

func TestCreditEdgeToMissingProfile(t *testing.T) {
	db := testutil.NewDB(t)
	calc := newCalculator(t, db)

	require.NoError(t, db.Create(&models.ReferralEdge{ReferrerID: "ghost", ReferredID: "P"}).Error)

	result, err := calc.Credit(context.Background(), silverEvent("P", "evt-ghost"))
	require.NoError(t, err)
	require.Empty(t, result.Created)
	require.Len(t, result.Warnings, 1)
}

func TestCreditPayerWithoutSponsor(t *testing.T) {
	db := testutil.NewDB(t)
	affiliates := newAffiliates(t, db)
	calc := newCalculator(t, db)
	enroll(t, affiliates, "root", nil)

	result, err := calc.Credit(context.Background(), silverEvent("root", "evt-root"))
	require.NoError(t, err)
	require.Empty(t, result.Created)
	require.Empty(t, result.Warnings)
}

func TestCreditValidation(t *testing.T) {
	db := testutil.NewDB(t)
	calc := newCalculator(t, db)

	tests := []struct {
		name   string
		mutate func(in *RevenueEventInput)
	}{
		{"missing payer", func(in *RevenueEventInput) { in.PayerUserID = "" }},
		{"missing event id", func(in *RevenueEventInput) { in.EventID = "" }},
		{"unknown tier", func(in *RevenueEventInput) { in.Tier = "platinum" }},
		{"unknown event type", func(in *RevenueEventInput) { in.EventType = "refund" }},
		{"negative amount", func(in *RevenueEventInput) { in.Amount = decimal.NewFromInt(-1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := silverEvent("payer", "evt-invalid")
			tt.mutate(&in)
			_, err := calc.Credit(context.Background(), in)
			require.ErrorIs(t, err, ErrInvalidRevenueEvent)
		})
	}

	var count int64
	require.NoError(t, db.Model(&models.RevenueEvent{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestCreditAcceptsMixedCaseTier(t *testing.T) {
	db := testutil.NewDB(t)
	affiliates := newAffiliates(t, db)
	calc := newCalculator(t, db)
	a := enroll(t, affiliates, "A", nil)
	enroll(t, affiliates, "B", a)

	in := silverEvent("B", "evt-mixed-case")
	in.Tier = "Silver"
	in.EventType = " Renewal "
	result, err := calc.Credit(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	require.Equal(t, int64(660), result.Created[0].Amount)
	require.Equal(t, models.TierSilver, result.Created[0].Tier)
	require.Equal(t, models.RevenueEventRenewal, result.Created[0].EventType)
}

func TestLevelAmountRounding(t *testing.T) {
	calc := &CommissionCalculator{Money: usd(t), TierBases: map[models.Tier]decimal.Decimal{
		models.TierBronze: decimal.RequireFromString("15.05"),
	}}

	// 15.05 * 0.03 = 0.4515 rounds to 0.45; 15.05 * 0.05 = 0.7525 rounds to 0.75.
	require.Equal(t, int64(45), calc.LevelAmount(models.TierBronze, 4))
	require.Equal(t, int64(75), calc.LevelAmount(models.TierBronze, 3))
	require.Zero(t, calc.LevelAmount(models.TierBronze, 8))
	require.Zero(t, calc.LevelAmount(models.TierBronze, 0))
}
