// services/analytics.go
package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"affiliate-commission-system/models"
	"affiliate-commission-system/utils"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LaunchWindow is the introductory period tracked separately in analytics.
type LaunchWindow struct {
	Start time.Time
	Days  int
}

func (w LaunchWindow) End() time.Time {
	return w.Start.AddDate(0, 0, w.Days)
}

// DaysRemaining rounds partial days up and is zero once the window closed.
func (w LaunchWindow) DaysRemaining(now time.Time) int {
	if now.Before(w.Start) {
		return w.Days
	}
	left := w.End().Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Hours() / 24))
}

type StatusBreakdown struct {
	Status models.CommissionStatus `json:"status"`
	Count  int64                   `json:"count"`
	Amount int64                   `json:"amount"`
}

type LaunchSummary struct {
	Start               time.Time `json:"start"`
	End                 time.Time `json:"end"`
	Revenue             int64     `json:"revenue"`
	CommissionLiability int64     `json:"commission_liability"`
	DaysRemaining       int       `json:"days_remaining"`
}

// CashflowSummary amounts are minor units of Currency.
type CashflowSummary struct {
	Currency         string            `json:"currency"`
	GeneratedAt      time.Time         `json:"generated_at"`
	PendingTotal     int64             `json:"pending_total"` // every unpaid row, failed included
	FailedTotal      int64             `json:"failed_total"`
	PaidThisMonth    int64             `json:"paid_this_month"`
	AveragePaid30d   int64             `json:"average_paid_30d"`
	GrossRevenue     int64             `json:"gross_revenue"`
	RetentionRatio   decimal.Decimal   `json:"retention_ratio"`
	NetDistributable int64             `json:"net_distributable"`
	Launch           LaunchSummary     `json:"launch"`
	ByStatus         []StatusBreakdown `json:"by_status"`
}

type CashflowAnalytics struct {
	DB             *gorm.DB
	Money          utils.Money
	RetentionRatio decimal.Decimal
	Launch         LaunchWindow
	Now            func() time.Time
}

func NewCashflowAnalytics(db *gorm.DB, money utils.Money, retention decimal.Decimal, launch LaunchWindow) *CashflowAnalytics {
	return &CashflowAnalytics{
		DB:             db,
		Money:          money,
		RetentionRatio: retention,
		Launch:         launch,
		Now:            func() time.Time { return time.Now().UTC() },
	}
}

func (s *CashflowAnalytics) Summary(ctx context.Context, caller Caller) (*CashflowSummary, error) {
	if err := caller.require(PermViewCashflow); err != nil {
		return nil, err
	}

	now := s.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	thirtyDaysAgo := now.AddDate(0, 0, -30)
	db := s.DB.WithContext(ctx)

	out := &CashflowSummary{
		Currency:       s.Money.Code,
		GeneratedAt:    now,
		RetentionRatio: s.RetentionRatio,
		Launch: LaunchSummary{
			Start:         s.Launch.Start,
			End:           s.Launch.End(),
			DaysRemaining: s.Launch.DaysRemaining(now),
		},
	}

	var rows []StatusBreakdown
	if err := db.Model(&models.Commission{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("status breakdown: %w", err)
	}
	byStatus := make(map[models.CommissionStatus]StatusBreakdown, len(rows))
	for _, r := range rows {
		byStatus[r.Status] = r
	}
	for _, st := range []models.CommissionStatus{models.CommissionStatusPending, models.CommissionStatusPaid, models.CommissionStatusFailed} {
		r := byStatus[st]
		r.Status = st
		out.ByStatus = append(out.ByStatus, r)
	}
	out.FailedTotal = byStatus[models.CommissionStatusFailed].Amount
	out.PendingTotal = byStatus[models.CommissionStatusPending].Amount + out.FailedTotal

	if err := db.Model(&models.Commission{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("status = ? AND settled_at >= ?", models.CommissionStatusPaid, monthStart).
		Scan(&out.PaidThisMonth).Error; err != nil {
		return nil, fmt.Errorf("paid this month: %w", err)
	}

	var recent struct {
		Total int64
		Count int64
	}
	if err := db.Model(&models.Commission{}).
		Select("COALESCE(SUM(amount), 0) AS total, COUNT(*) AS count").
		Where("status = ? AND settled_at >= ?", models.CommissionStatusPaid, thirtyDaysAgo).
		Scan(&recent).Error; err != nil {
		return nil, fmt.Errorf("trailing paid average: %w", err)
	}
	if recent.Count > 0 {
		out.AveragePaid30d = decimal.NewFromInt(recent.Total).
			Div(decimal.NewFromInt(recent.Count)).
			Round(0).IntPart()
	}

	if err := db.Model(&models.RevenueEvent{}).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&out.GrossRevenue).Error; err != nil {
		return nil, fmt.Errorf("gross revenue: %w", err)
	}
	out.NetDistributable = decimal.NewFromInt(out.GrossRevenue).
		Mul(decimal.NewFromInt(1).Sub(s.RetentionRatio)).
		Round(0).IntPart()

	launchEnd := s.Launch.End()
	if err := db.Model(&models.RevenueEvent{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("received_at >= ? AND received_at < ?", s.Launch.Start, launchEnd).
		Scan(&out.Launch.Revenue).Error; err != nil {
		return nil, fmt.Errorf("launch revenue: %w", err)
	}
	if err := db.Model(&models.Commission{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("accrued_at >= ? AND accrued_at < ?", s.Launch.Start, launchEnd).
		Scan(&out.Launch.CommissionLiability).Error; err != nil {
		return nil, fmt.Errorf("launch liability: %w", err)
	}

	return out, nil
}
