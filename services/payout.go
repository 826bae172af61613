// services/payout.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"affiliate-commission-system/logging"
	"affiliate-commission-system/models"
	"affiliate-commission-system/monitoring"
	"affiliate-commission-system/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type PayoutConfig struct {
	MinPayout      int64 // minor units
	MaturationDays int
	Concurrency    int
	CallTimeout    time.Duration
	PayoutHourUTC  int
	Launch         LaunchWindow
}

// BatchResult is returned to the caller and archived as the run report.
type BatchResult struct {
	RunID              string               `json:"run_id"`
	Kind               models.PayoutRunKind `json:"kind"`
	StartedAt          time.Time            `json:"started_at"`
	FinishedAt         time.Time            `json:"finished_at"`
	Selected           int                  `json:"selected"`
	ProcessedCount     int                  `json:"processed_count"`
	TotalAmountSettled int64                `json:"total_amount_settled"`
	Skipped            int                  `json:"skipped"`
	Errors             []PayoutError        `json:"errors"`
	ReportKey          string               `json:"report_key,omitempty"`
}

type itemOutcome string

const (
	outcomeSettled            itemOutcome = "settled"
	outcomeFailed             itemOutcome = "failed"
	outcomeSkipped            itemOutcome = "skipped"
	outcomeDestinationMissing itemOutcome = "destination_missing"
	outcomeInFlight           itemOutcome = "in_flight"
	outcomeStoreFailure       itemOutcome = "store_failure"
)

type PayoutProcessor struct {
	DB       *gorm.DB
	Gateway  PayoutGateway
	Money    utils.Money
	Config   PayoutConfig
	Archive  ReportArchive // optional
	Notifier Notifier      // optional
	Now      func() time.Time
}

func NewPayoutProcessor(db *gorm.DB, gateway PayoutGateway, money utils.Money, cfg PayoutConfig) *PayoutProcessor {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	return &PayoutProcessor{
		DB:      db,
		Gateway: gateway,
		Money:   money,
		Config:  cfg,
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

// RunBatch settles every matured pending commission. It is what the
// scheduler calls.
func (s *PayoutProcessor) RunBatch(ctx context.Context) (*BatchResult, error) {
	return s.runMatured(ctx, models.PayoutRunScheduled)
}

// TriggerBatch is the operator-initiated equivalent of RunBatch.
func (s *PayoutProcessor) TriggerBatch(ctx context.Context, caller Caller) (*BatchResult, error) {
	if err := caller.require(PermManagePayouts); err != nil {
		return nil, err
	}
	logging.Logger.Info("[PAYOUT] manual run requested", zap.String("by", caller.UserID))
	return s.runMatured(ctx, models.PayoutRunManual)
}

func (s *PayoutProcessor) runMatured(ctx context.Context, kind models.PayoutRunKind) (*BatchResult, error) {
	if s.Gateway == nil {
		return nil, ErrGatewayUnavailable
	}
	started := s.Now()
	cutoff := started.AddDate(0, 0, -s.Config.MaturationDays)

	var items []models.Commission
	err := s.DB.WithContext(ctx).
		Where("status = ? AND accrued_at <= ? AND amount >= ?", models.CommissionStatusPending, cutoff, s.Config.MinPayout).
		Where("withdrawal_request_id IS NULL AND claim_token IS NULL").
		Order("accrued_at ASC, id ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("select matured commissions: %w", err)
	}

	return s.process(ctx, kind, models.CommissionStatusPending, items, started)
}

// RetryFailed re-drives failed commissions, all of them when ids is empty.
// Failed rows are never retried automatically.
func (s *PayoutProcessor) RetryFailed(ctx context.Context, caller Caller, ids []string) (*BatchResult, error) {
	if err := caller.require(PermManagePayouts); err != nil {
		return nil, err
	}
	if s.Gateway == nil {
		return nil, ErrGatewayUnavailable
	}
	started := s.Now()

	q := s.DB.WithContext(ctx).
		Where("status = ? AND withdrawal_request_id IS NULL AND claim_token IS NULL", models.CommissionStatusFailed)
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}
	var items []models.Commission
	if err := q.Order("accrued_at ASC, id ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("select failed commissions: %w", err)
	}

	logging.Logger.Info("[PAYOUT] retry requested",
		zap.String("by", caller.UserID),
		zap.Int("requested_ids", len(ids)),
		zap.Int("selected", len(items)),
	)
	return s.process(ctx, models.PayoutRunRetry, models.CommissionStatusFailed, items, started)
}

func (s *PayoutProcessor) process(ctx context.Context, kind models.PayoutRunKind, from models.CommissionStatus, items []models.Commission, started time.Time) (*BatchResult, error) {
	result := &BatchResult{
		RunID:     uuid.NewString(),
		Kind:      kind,
		StartedAt: started,
		Selected:  len(items),
		Errors:    []PayoutError{},
	}

	// A store failure stops new items from starting but never cancels
	// gateway calls already in flight.
	var mu sync.Mutex
	var aborted atomic.Bool
	var g errgroup.Group
	g.SetLimit(s.Config.Concurrency)

	for _, item := range items {
		if aborted.Load() || ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if aborted.Load() || ctx.Err() != nil {
				return nil
			}
			outcome, perr, err := s.settle(ctx, item, from)
			monitoring.PayoutItems.WithLabelValues(string(outcome)).Inc()
			if err != nil {
				aborted.Store(true)
			}

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeSettled:
				result.ProcessedCount++
				result.TotalAmountSettled += item.Amount
				monitoring.PayoutAmountSettled.Add(float64(item.Amount))
			case outcomeSkipped:
				result.Skipped++
			}
			if perr != nil {
				result.Errors = append(result.Errors, *perr)
			}
			return err
		})
	}
	fatal := g.Wait()
	if fatal == nil && ctx.Err() != nil {
		fatal = ctx.Err()
	}

	result.FinishedAt = s.Now()
	monitoring.PayoutBatchDuration.WithLabelValues(string(kind)).Observe(result.FinishedAt.Sub(started).Seconds())

	if fatal != nil {
		result.Errors = append(result.Errors, PayoutError{Category: PayoutErrorStore, Message: fatal.Error()})
	}
	s.finish(context.WithoutCancel(ctx), result)

	logFn := logging.Logger.Info
	if fatal != nil {
		logFn = logging.Logger.Error
	}
	logFn("[PAYOUT] run finished",
		zap.String("run_id", result.RunID),
		zap.String("kind", string(kind)),
		zap.Int("selected", result.Selected),
		zap.Int("processed", result.ProcessedCount),
		zap.String("settled", s.Money.Format(result.TotalAmountSettled)),
		zap.Int("errors", len(result.Errors)),
		zap.Error(fatal),
	)

	if fatal != nil {
		return result, fmt.Errorf("payout run %s aborted: %w", result.RunID, fatal)
	}
	return result, nil
}

// settle moves one commission out of `from`. A non-nil error means the
// ledger could not be written and the batch must stop.
func (s *PayoutProcessor) settle(ctx context.Context, c models.Commission, from models.CommissionStatus) (itemOutcome, *PayoutError, error) {
	// Ledger writes must land even when the run is cancelled mid-item.
	store := s.DB.WithContext(context.WithoutCancel(ctx))
	token := uuid.NewString()

	claim := store.Model(&models.Commission{}).
		Where("id = ? AND status = ? AND claim_token IS NULL AND withdrawal_request_id IS NULL", c.ID, from).
		Updates(map[string]interface{}{"claim_token": token, "claimed_at": s.Now()})
	if claim.Error != nil {
		return outcomeStoreFailure, nil, fmt.Errorf("claim commission %s: %w", c.ID, claim.Error)
	}
	if claim.RowsAffected == 0 {
		return outcomeSkipped, nil, nil
	}

	perr := func(cat PayoutErrorCategory, msg string) *PayoutError {
		return &PayoutError{CommissionID: c.ID, AffiliateID: c.AffiliateID, Amount: c.Amount, Category: cat, Message: msg}
	}

	var dest models.PayoutDestination
	err := store.Where("user_id = ?", c.AffiliateID).First(&dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && dest.Reference == "") {
		if err := store.Model(&models.Commission{}).
			Where("id = ? AND claim_token = ?", c.ID, token).
			Updates(map[string]interface{}{"claim_token": nil, "claimed_at": nil}).Error; err != nil {
			return outcomeStoreFailure, nil, fmt.Errorf("release claim on %s: %w", c.ID, err)
		}
		return outcomeDestinationMissing, perr(PayoutErrorDestinationMissing, ErrDestinationMissing.Error()), nil
	}
	if err != nil {
		if rerr := store.Model(&models.Commission{}).
			Where("id = ? AND claim_token = ?", c.ID, token).
			Updates(map[string]interface{}{"claim_token": nil, "claimed_at": nil}).Error; rerr != nil {
			logging.Logger.Error("[PAYOUT] could not release claim", zap.String("commission_id", c.ID), zap.Error(rerr))
		}
		return outcomeStoreFailure, nil, fmt.Errorf("load destination for %s: %w", c.AffiliateID, err)
	}

	attempt := c.Attempts + 1
	callCtx, cancel := context.WithTimeout(ctx, s.Config.CallTimeout)
	res, gwErr := s.Gateway.Transfer(callCtx, TransferRequest{
		AmountMinorUnits:     c.Amount,
		Currency:             c.Currency,
		DestinationReference: dest.Reference,
		IdempotencyKey:       fmt.Sprintf("%s-attempt-%d", c.ID, attempt),
		Metadata: map[string]string{
			"commission_id": c.ID,
			"claim_token":   token,
			"attempt":       strconv.Itoa(attempt),
		},
	})
	cancel()

	// The transfer may or may not have landed. The row stays claimed until
	// an operator resolves it with ResolveInFlight.
	if gwErr != nil && ctx.Err() != nil {
		logging.Logger.Warn("[PAYOUT] run interrupted during gateway call, commission left claimed",
			zap.String("commission_id", c.ID),
			zap.String("claim_token", token),
			zap.Error(gwErr),
		)
		return outcomeInFlight, perr(PayoutErrorGateway, "interrupted: "+gwErr.Error()), nil
	}

	if gwErr != nil {
		upd := store.Model(&models.Commission{}).
			Where("id = ? AND claim_token = ? AND status = ?", c.ID, token, from).
			Updates(map[string]interface{}{
				"status":         models.CommissionStatusFailed,
				"failure_reason": gwErr.Error(),
				"attempts":       attempt,
				"claim_token":    nil,
				"claimed_at":     nil,
			})
		if upd.Error != nil {
			return outcomeStoreFailure, nil, fmt.Errorf("mark commission %s failed: %w", c.ID, upd.Error)
		}
		logging.Logger.Warn("[PAYOUT] transfer failed",
			zap.String("commission_id", c.ID),
			zap.Int("attempt", attempt),
			zap.Error(gwErr),
		)
		return outcomeFailed, perr(PayoutErrorGateway, gwErr.Error()), nil
	}

	upd := store.Model(&models.Commission{}).
		Where("id = ? AND claim_token = ? AND status = ?", c.ID, token, from).
		Updates(map[string]interface{}{
			"status":         models.CommissionStatusPaid,
			"payout_ref":     res.Reference,
			"settled_at":     s.Now(),
			"attempts":       attempt,
			"failure_reason": "",
		})
	if upd.Error != nil {
		logging.Logger.Error("[PAYOUT] transfer succeeded but ledger write failed, commission left claimed",
			zap.String("commission_id", c.ID),
			zap.String("payout_ref", res.Reference),
			zap.Error(upd.Error),
		)
		return outcomeStoreFailure, nil, fmt.Errorf("mark commission %s paid: %w", c.ID, upd.Error)
	}
	if upd.RowsAffected == 0 {
		logging.Logger.Error("[PAYOUT] claim lost after successful transfer",
			zap.String("commission_id", c.ID),
			zap.String("payout_ref", res.Reference),
		)
		return outcomeStoreFailure, perr(PayoutErrorStore, "claim lost after transfer "+res.Reference), nil
	}
	return outcomeSettled, nil, nil
}

// finish writes the audit row, archives the report and alerts operators.
// Archive and alert failures are logged only.
func (s *PayoutProcessor) finish(ctx context.Context, result *BatchResult) {
	if s.Archive != nil {
		body, err := json.MarshalIndent(result, "", "  ")
		if err == nil {
			key := fmt.Sprintf("%s/%s.json", result.StartedAt.Format("2006/01/02"), result.RunID)
			result.ReportKey, err = s.Archive.Put(ctx, key, body, "application/json")
		}
		if err != nil {
			logging.Logger.Warn("[PAYOUT] report archive failed", zap.String("run_id", result.RunID), zap.Error(err))
		}
	}

	errorsJSON, _ := json.Marshal(result.Errors)
	run := models.PayoutRun{
		ID:             result.RunID,
		Kind:           result.Kind,
		StartedAt:      result.StartedAt,
		FinishedAt:     result.FinishedAt,
		Selected:       result.Selected,
		ProcessedCount: result.ProcessedCount,
		TotalSettled:   result.TotalAmountSettled,
		ErrorCount:     len(result.Errors),
		Errors:         string(errorsJSON),
		ReportKey:      result.ReportKey,
	}
	if err := s.DB.WithContext(ctx).Create(&run).Error; err != nil {
		logging.Logger.Error("[PAYOUT] could not record run", zap.String("run_id", result.RunID), zap.Error(err))
	}

	if s.Notifier != nil && len(result.Errors) > 0 {
		text := fmt.Sprintf("Payout %s run %s: settled %d of %d (%s), %d errors",
			result.Kind, result.RunID, result.ProcessedCount, result.Selected,
			s.Money.Format(result.TotalAmountSettled), len(result.Errors))
		if err := s.Notifier.Notify(ctx, text); err != nil {
			logging.Logger.Warn("[PAYOUT] operator alert failed", zap.Error(err))
		}
	}
}

// InFlightResolution is an operator's verdict on a claimed commission whose
// gateway call was interrupted. Outcome is paid (Reference required) or failed.
type InFlightResolution struct {
	Outcome   models.CommissionStatus `json:"outcome"`
	Reference string                  `json:"reference"`
	Reason    string                  `json:"reason"`
}

// staleClaimAfter is how old a claim must be before an operator may resolve
// it, so a live run's items are never touched.
func (s *PayoutProcessor) staleClaimAfter() time.Duration {
	d := 2 * s.Config.CallTimeout
	if d < time.Minute {
		d = time.Minute
	}
	return d
}

func inFlightScope(tx *gorm.DB) *gorm.DB {
	return tx.Model(&models.Commission{}).
		Where("claim_token IS NOT NULL AND status IN ?", []models.CommissionStatus{models.CommissionStatusPending, models.CommissionStatusFailed})
}

// ListInFlight returns commissions left claimed by an interrupted run. No
// batch or retry selects them until they are resolved.
func (s *PayoutProcessor) ListInFlight(ctx context.Context, caller Caller) ([]models.Commission, error) {
	if err := caller.require(PermManagePayouts); err != nil {
		return nil, err
	}
	var rows []models.Commission
	err := inFlightScope(s.DB.WithContext(ctx)).Order("claimed_at ASC, id ASC").Find(&rows).Error
	return rows, err
}

// ResolveInFlight settles one stranded commission by hand, after the
// operator has checked the gateway for the transfer.
func (s *PayoutProcessor) ResolveInFlight(ctx context.Context, caller Caller, id string, r InFlightResolution) (*models.Commission, error) {
	if err := caller.require(PermManagePayouts); err != nil {
		return nil, err
	}

	now := s.Now()
	var updates map[string]interface{}
	switch r.Outcome {
	case models.CommissionStatusPaid:
		if r.Reference == "" {
			return nil, fmt.Errorf("%w: reference is required for a paid resolution", ErrInvalidInput)
		}
		updates = map[string]interface{}{
			"status":         models.CommissionStatusPaid,
			"payout_ref":     r.Reference,
			"settled_at":     now,
			"failure_reason": "",
		}
	case models.CommissionStatusFailed:
		reason := "resolved by " + caller.UserID
		if r.Reason != "" {
			reason += ": " + r.Reason
		}
		updates = map[string]interface{}{
			"status":         models.CommissionStatusFailed,
			"failure_reason": reason,
		}
	default:
		return nil, fmt.Errorf("%w: outcome must be paid or failed", ErrInvalidInput)
	}
	updates["attempts"] = gorm.Expr("attempts + 1")
	updates["claim_token"] = nil
	updates["claimed_at"] = nil

	store := s.DB.WithContext(context.WithoutCancel(ctx))
	var c models.Commission
	if err := store.Where("id = ?", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if c.ClaimToken == nil || c.Status == models.CommissionStatusPaid {
		return nil, fmt.Errorf("%w: commission is not in flight", ErrInvalidTransition)
	}
	if c.ClaimedAt != nil && now.Sub(*c.ClaimedAt) < s.staleClaimAfter() {
		return nil, fmt.Errorf("%w: claim is still held by a running batch", ErrInvalidTransition)
	}

	res := inFlightScope(store).
		Where("id = ? AND claim_token = ?", id, *c.ClaimToken).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("resolve commission %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: commission changed during resolution", ErrInvalidTransition)
	}

	logging.Logger.Info("[PAYOUT] in-flight commission resolved",
		zap.String("commission_id", id),
		zap.String("outcome", string(r.Outcome)),
		zap.String("reference", r.Reference),
		zap.String("by", caller.UserID),
	)
	if err := store.Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PayoutProcessor) ListRuns(ctx context.Context, caller Caller, limit int) ([]models.PayoutRun, error) {
	if err := caller.require(PermManagePayouts); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var runs []models.PayoutRun
	err := s.DB.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&runs).Error
	return runs, err
}

type PayrollStatus struct {
	NextPayoutDate      time.Time `json:"next_payout_date"`
	DaysUntilPayout     int       `json:"days_until_payout"`
	MaturedPending      int64     `json:"matured_pending"`
	ImmaturePending     int64     `json:"immature_pending"`
	InFlight            int64     `json:"in_flight"`
	MinPayout           int64     `json:"min_payout"`
	Currency            string    `json:"currency"`
	LaunchDaysRemaining int       `json:"launch_days_remaining"`
}

// PayrollStatus summarises what the user will be paid and when.
func (s *PayoutProcessor) PayrollStatus(ctx context.Context, userID string) (*PayrollStatus, error) {
	now := s.Now()
	cutoff := now.AddDate(0, 0, -s.Config.MaturationDays)

	var sums struct {
		Matured  int64
		Immature int64
		InFlight int64
	}
	err := s.DB.WithContext(ctx).Model(&models.Commission{}).
		Select("COALESCE(SUM(CASE WHEN claim_token IS NULL AND accrued_at <= ? THEN amount ELSE 0 END), 0) AS matured, "+
			"COALESCE(SUM(CASE WHEN claim_token IS NULL AND accrued_at > ? THEN amount ELSE 0 END), 0) AS immature, "+
			"COALESCE(SUM(CASE WHEN claim_token IS NOT NULL THEN amount ELSE 0 END), 0) AS in_flight", cutoff, cutoff).
		Where("affiliate_id = ? AND status = ? AND withdrawal_request_id IS NULL", userID, models.CommissionStatusPending).
		Scan(&sums).Error
	if err != nil {
		return nil, fmt.Errorf("sum pending commissions: %w", err)
	}

	next := NextPayoutDate(now, s.Config.PayoutHourUTC)
	return &PayrollStatus{
		NextPayoutDate:      next,
		DaysUntilPayout:     daysBetween(now, next),
		MaturedPending:      sums.Matured,
		ImmaturePending:     sums.Immature,
		InFlight:            sums.InFlight,
		MinPayout:           s.Config.MinPayout,
		Currency:            s.Money.Code,
		LaunchDaysRemaining: s.Config.Launch.DaysRemaining(now),
	}, nil
}

// NextPayoutDate is the first Monday or Friday at hourUTC strictly after now.
func NextPayoutDate(now time.Time, hourUTC int) time.Time {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), hourUTC, 0, 0, 0, time.UTC)
	for i := 0; i <= 7; i++ {
		candidate := day.AddDate(0, 0, i)
		wd := candidate.Weekday()
		if (wd == time.Monday || wd == time.Friday) && candidate.After(now) {
			return candidate
		}
	}
	return day.AddDate(0, 0, 7)
}

// daysBetween counts calendar days from a's date to b's date.
func daysBetween(a, b time.Time) int {
	a, b = a.UTC(), b.UTC()
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
