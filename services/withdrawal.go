// services/withdrawal.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"affiliate-commission-system/logging"
	"affiliate-commission-system/models"
	"affiliate-commission-system/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WithdrawalService struct {
	DB             *gorm.DB
	Gateway        PayoutGateway
	Money          utils.Money
	MaturationDays int
	CallTimeout    time.Duration
	Now            func() time.Time
}

func NewWithdrawalService(db *gorm.DB, gateway PayoutGateway, money utils.Money, maturationDays int, callTimeout time.Duration) *WithdrawalService {
	if callTimeout <= 0 {
		callTimeout = 15 * time.Second
	}
	return &WithdrawalService{
		DB:             db,
		Gateway:        gateway,
		Money:          money,
		MaturationDays: maturationDays,
		CallTimeout:    callTimeout,
		Now:            func() time.Time { return time.Now().UTC() },
	}
}

// availableScope is matured, pending, unreserved and unclaimed commissions.
func (s *WithdrawalService) availableScope(tx *gorm.DB, userID string) *gorm.DB {
	cutoff := s.Now().AddDate(0, 0, -s.MaturationDays)
	return tx.Model(&models.Commission{}).
		Where("affiliate_id = ? AND status = ? AND accrued_at <= ?", userID, models.CommissionStatusPending, cutoff).
		Where("withdrawal_request_id IS NULL AND claim_token IS NULL")
}

// Available is the balance a withdrawal could reserve right now.
func (s *WithdrawalService) Available(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := s.availableScope(s.DB.WithContext(ctx), userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

// Request records a pending withdrawal. An empty destination falls back to
// the payout destination on file.
func (s *WithdrawalService) Request(ctx context.Context, userID string, amount decimal.Decimal, destination string) (*models.WithdrawalRequest, error) {
	minor := s.Money.ToMinor(amount)
	if minor <= 0 {
		return nil, ErrInvalidAmount
	}

	var profile models.AffiliateProfile
	if err := s.DB.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotEnrolled
		}
		return nil, err
	}

	if destination == "" {
		var dest models.PayoutDestination
		err := s.DB.WithContext(ctx).Where("user_id = ?", userID).First(&dest).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDestinationMissing
		}
		if err != nil {
			return nil, err
		}
		destination = dest.Reference
	}

	w := models.WithdrawalRequest{
		AffiliateID:     userID,
		RequestedAmount: minor,
		Currency:        s.Money.Code,
		Destination:     destination,
		Status:          models.WithdrawalStatusPending,
		RequestedAt:     s.Now(),
	}
	if err := s.DB.WithContext(ctx).Create(&w).Error; err != nil {
		return nil, fmt.Errorf("create withdrawal: %w", err)
	}

	logging.Logger.Info("[WITHDRAWAL] requested",
		zap.String("id", w.ID),
		zap.String("user_id", userID),
		zap.String("amount", s.Money.Format(minor)),
	)
	return &w, nil
}

func (s *WithdrawalService) List(ctx context.Context, userID string) ([]models.WithdrawalRequest, error) {
	var rows []models.WithdrawalRequest
	err := s.DB.WithContext(ctx).Where("affiliate_id = ?", userID).Order("requested_at DESC").Find(&rows).Error
	return rows, err
}

func (s *WithdrawalService) get(tx *gorm.DB, id string, lock bool) (*models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest
	q := tx
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.Where("id = ?", id).First(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &w, nil
}

// Approve reserves the oldest available commissions whose running sum fits
// in the requested amount. The approved amount is what was reserved.
func (s *WithdrawalService) Approve(ctx context.Context, caller Caller, id string) (*models.WithdrawalRequest, error) {
	if err := caller.require(PermManagePayouts); err != nil {
		return nil, err
	}

	var approved *models.WithdrawalRequest
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		w, err := s.get(tx, id, true)
		if err != nil {
			return err
		}
		if w.Status != models.WithdrawalStatusPending {
			return fmt.Errorf("%w: withdrawal is %s", ErrInvalidTransition, w.Status)
		}

		var candidates []models.Commission
		if err := s.availableScope(tx, w.AffiliateID).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Order("accrued_at ASC, id ASC").
			Find(&candidates).Error; err != nil {
			return err
		}

		var available, reserved int64
		var picked []string
		for _, c := range candidates {
			available += c.Amount
			if reserved+c.Amount <= w.RequestedAmount {
				reserved += c.Amount
				picked = append(picked, c.ID)
			}
		}
		if w.RequestedAmount > available || reserved == 0 {
			return ErrInsufficientBalance
		}

		res := tx.Model(&models.Commission{}).
			Where("id IN ? AND status = ? AND withdrawal_request_id IS NULL AND claim_token IS NULL", picked, models.CommissionStatusPending).
			Update("withdrawal_request_id", w.ID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != int64(len(picked)) {
			return fmt.Errorf("%w: commissions changed during approval", ErrInvalidTransition)
		}

		now := s.Now()
		res = tx.Model(&models.WithdrawalRequest{}).
			Where("id = ? AND status = ?", w.ID, models.WithdrawalStatusPending).
			Updates(map[string]interface{}{
				"status":          models.WithdrawalStatusApproved,
				"approved_amount": reserved,
				"approved_at":     now,
				"approved_by":     caller.UserID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidTransition
		}

		approved, err = s.get(tx, id, false)
		return err
	})
	if err != nil {
		return nil, err
	}

	logging.Logger.Info("[WITHDRAWAL] approved",
		zap.String("id", id),
		zap.String("by", caller.UserID),
		zap.String("reserved", s.Money.Format(approved.ApprovedAmount)),
	)
	return approved, nil
}

// Reject closes a pending, approved or failed withdrawal and releases its
// reservation. Rejecting a failed withdrawal asserts the transfer never landed.
func (s *WithdrawalService) Reject(ctx context.Context, caller Caller, id, reason string) (*models.WithdrawalRequest, error) {
	if err := caller.require(PermManagePayouts); err != nil {
		return nil, err
	}

	var rejected *models.WithdrawalRequest
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.get(tx, id, true); err != nil {
			return err
		}
		res := tx.Model(&models.WithdrawalRequest{}).
			Where("id = ? AND status IN ? AND processed_at IS NULL", id, []models.WithdrawalStatus{
				models.WithdrawalStatusPending, models.WithdrawalStatusApproved, models.WithdrawalStatusFailed,
			}).
			Updates(map[string]interface{}{
				"status":           models.WithdrawalStatusRejected,
				"rejection_reason": reason,
				"processed_at":     s.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidTransition
		}
		if err := s.release(tx, id); err != nil {
			return err
		}
		var err error
		rejected, err = s.get(tx, id, false)
		return err
	})
	if err != nil {
		return nil, err
	}

	logging.Logger.Info("[WITHDRAWAL] rejected", zap.String("id", id), zap.String("by", caller.UserID), zap.String("reason", reason))
	return rejected, nil
}

var reservedStatuses = []models.CommissionStatus{models.CommissionStatusPending, models.CommissionStatusFailed}

// release returns reserved commissions to the pending pool.
func (s *WithdrawalService) release(tx *gorm.DB, withdrawalID string) error {
	return tx.Model(&models.Commission{}).
		Where("withdrawal_request_id = ? AND status IN ?", withdrawalID, reservedStatuses).
		Updates(map[string]interface{}{
			"withdrawal_request_id": nil,
			"status":                models.CommissionStatusPending,
		}).Error
}

// Process pays an approved withdrawal with a single gateway call. Any
// gateway error, a timeout included, marks the withdrawal and its reserved
// commissions failed; they stay reserved so no batch can pay them again.
// Calling Process on a failed withdrawal re-sends the transfer under the
// same idempotency key.
func (s *WithdrawalService) Process(ctx context.Context, caller Caller, id string) (*models.WithdrawalRequest, error) {
	if err := caller.require(PermManagePayouts); err != nil {
		return nil, err
	}
	if s.Gateway == nil {
		return nil, ErrGatewayUnavailable
	}

	w, err := s.get(s.DB.WithContext(ctx), id, false)
	if err != nil {
		return nil, err
	}
	if w.Status != models.WithdrawalStatusApproved && w.Status != models.WithdrawalStatusFailed {
		return nil, fmt.Errorf("%w: withdrawal is %s", ErrInvalidTransition, w.Status)
	}

	store := s.DB.WithContext(context.WithoutCancel(ctx))
	now := s.Now()
	claim := store.Model(&models.WithdrawalRequest{}).
		Where("id = ? AND status = ? AND processed_at IS NULL", id, w.Status).
		Updates(map[string]interface{}{
			"processed_at": now,
			"attempts":     gorm.Expr("attempts + 1"),
		})
	if claim.Error != nil {
		return nil, claim.Error
	}
	if claim.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: withdrawal is already being processed", ErrInvalidTransition)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.CallTimeout)
	res, gwErr := s.Gateway.Transfer(callCtx, TransferRequest{
		AmountMinorUnits:     w.ApprovedAmount,
		Currency:             w.Currency,
		DestinationReference: w.Destination,
		IdempotencyKey:       "withdrawal-" + w.ID,
		Metadata: map[string]string{
			"withdrawal_id": w.ID,
			"affiliate_id":  w.AffiliateID,
			"attempt":       strconv.Itoa(w.Attempts + 1),
		},
	})
	cancel()

	err = store.Transaction(func(tx *gorm.DB) error {
		if gwErr != nil {
			if err := tx.Model(&models.Commission{}).
				Where("withdrawal_request_id = ? AND status IN ?", id, reservedStatuses).
				Updates(map[string]interface{}{
					"status":         models.CommissionStatusFailed,
					"failure_reason": "withdrawal: " + gwErr.Error(),
					"attempts":       gorm.Expr("attempts + 1"),
				}).Error; err != nil {
				return err
			}
			return tx.Model(&models.WithdrawalRequest{}).Where("id = ?", id).Updates(map[string]interface{}{
				"status":         models.WithdrawalStatusFailed,
				"failure_reason": gwErr.Error(),
				"processed_at":   nil,
			}).Error
		}

		if err := tx.Model(&models.Commission{}).
			Where("withdrawal_request_id = ? AND status IN ?", id, reservedStatuses).
			Updates(map[string]interface{}{
				"status":         models.CommissionStatusPaid,
				"payout_ref":     res.Reference,
				"settled_at":     now,
				"failure_reason": "",
				"attempts":       gorm.Expr("attempts + 1"),
			}).Error; err != nil {
			return err
		}
		return tx.Model(&models.WithdrawalRequest{}).Where("id = ?", id).Updates(map[string]interface{}{
			"status":         models.WithdrawalStatusCompleted,
			"gateway_ref":    res.Reference,
			"failure_reason": "",
		}).Error
	})
	if err != nil {
		logging.Logger.Error("[WITHDRAWAL] ledger write failed after gateway call",
			zap.String("id", id),
			zap.Bool("gateway_ok", gwErr == nil),
			zap.Error(err),
		)
		return nil, fmt.Errorf("record withdrawal outcome: %w", err)
	}

	if gwErr != nil {
		logging.Logger.Warn("[WITHDRAWAL] transfer failed, commissions held for re-drive", zap.String("id", id), zap.Error(gwErr))
	} else {
		logging.Logger.Info("[WITHDRAWAL] completed", zap.String("id", id), zap.String("ref", res.Reference))
	}
	return s.get(store, id, false)
}
