package services

import (
	"context"
	"testing"
	"time"

	"affiliate-commission-system/models"
	"affiliate-commission-system/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newAnalytics(t *testing.T, db *gorm.DB) *CashflowAnalytics {
	a := NewCashflowAnalytics(db, usd(t), decimal.RequireFromString("0.30"), LaunchWindow{
		Start: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		Days:  90,
	})
	a.Now = clock(testNow)
	return a
}

func oct(day int) time.Time {
	return time.Date(2026, 10, day, 0, 0, 0, 0, time.UTC)
}

func sep(day int) time.Time {
	return time.Date(2026, 9, day, 0, 0, 0, 0, time.UTC)
}

func seedRevenue(t *testing.T, db *gorm.DB, eventID string, amount int64, at time.Time) {
	t.Helper()
	require.NoError(t, db.Create(&models.RevenueEvent{
		EventID:     eventID,
		PayerUserID: "payer",
		Amount:      amount,
		Currency:    "USD",
		Tier:        models.TierSilver,
		EventType:   models.RevenueEventSubscription,
		ReceivedAt:  at,
	}).Error)
}

func seedPaid(t *testing.T, db *gorm.DB, amount int64, accruedAt, settledAt time.Time) {
	t.Helper()
	c := seedCommission(t, db, "a", amount, accruedAt, models.CommissionStatusPaid)
	require.NoError(t, db.Model(&models.Commission{}).Where("id = ?", c.ID).Update("settled_at", settledAt).Error)
}

func TestSummaryEmptyLedger(t *testing.T) {
	db := testutil.NewDB(t)

	summary, err := newAnalytics(t, db).Summary(context.Background(), adminCaller)
	require.NoError(t, err)
	require.Zero(t, summary.PendingTotal)
	require.Zero(t, summary.FailedTotal)
	require.Zero(t, summary.PaidThisMonth)
	require.Zero(t, summary.AveragePaid30d)
	require.Zero(t, summary.GrossRevenue)
	require.Zero(t, summary.NetDistributable)
	require.Len(t, summary.ByStatus, 3)
	for _, s := range summary.ByStatus {
		require.Zero(t, s.Count)
	}
	require.Equal(t, 76, summary.Launch.DaysRemaining)
}

func TestSummaryFigures(t *testing.T) {
	db := testutil.NewDB(t)

	seedRevenue(t, db, "evt-launch", 6000, oct(5))
	seedRevenue(t, db, "evt-before", 4000, sep(1))

	seedCommission(t, db, "a", 1200, oct(10), models.CommissionStatusPending)
	seedCommission(t, db, "a", 800, sep(10), models.CommissionStatusPending)
	seedCommission(t, db, "a", 300, sep(20), models.CommissionStatusFailed)
	seedPaid(t, db, 1000, sep(1), oct(5))
	seedPaid(t, db, 2000, time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC), sep(25))
	// Settled outside the trailing 30 days.
	seedPaid(t, db, 9000, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))

	summary, err := newAnalytics(t, db).Summary(context.Background(), Caller{UserID: "p", Roles: []string{"pastor"}})
	require.NoError(t, err)

	require.Equal(t, "USD", summary.Currency)
	require.Equal(t, int64(2300), summary.PendingTotal)
	require.Equal(t, int64(300), summary.FailedTotal)
	require.Equal(t, int64(1000), summary.PaidThisMonth)
	require.Equal(t, int64(1500), summary.AveragePaid30d)
	require.Equal(t, int64(10000), summary.GrossRevenue)
	require.Equal(t, int64(7000), summary.NetDistributable)
	require.Equal(t, int64(6000), summary.Launch.Revenue)
	require.Equal(t, int64(1200), summary.Launch.CommissionLiability)

	want := map[models.CommissionStatus][2]int64{
		models.CommissionStatusPending: {2, 2000},
		models.CommissionStatusPaid:    {3, 12000},
		models.CommissionStatusFailed:  {1, 300},
	}
	for _, s := range summary.ByStatus {
		require.Equal(t, want[s.Status], [2]int64{s.Count, s.Amount}, string(s.Status))
	}
}

func TestSummaryRequiresPermission(t *testing.T) {
	db := testutil.NewDB(t)

	_, err := newAnalytics(t, db).Summary(context.Background(), Caller{UserID: "b", Roles: []string{"billing"}})
	require.ErrorIs(t, err, ErrForbidden)
}
