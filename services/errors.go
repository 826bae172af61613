package services

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidRevenueEvent = errors.New("invalid revenue event")
	ErrSponsorNotFound     = errors.New("sponsor referral code not found")
	ErrSponsorCycle        = errors.New("sponsor would create a referral cycle")
	ErrAlreadyEnrolled     = errors.New("user is already enrolled")
	ErrNotEnrolled         = errors.New("user is not enrolled as an affiliate")
	ErrInsufficientBalance = errors.New("amount exceeds available balance")
	ErrForbidden           = errors.New("caller lacks the required permission")
	ErrNotFound            = errors.New("record not found")
	ErrInvalidTransition   = errors.New("status transition not allowed")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrDestinationMissing  = errors.New("no payout destination on file")
	ErrGatewayUnavailable  = errors.New("payout gateway is not configured")
)

// PayoutErrorCategory separates problems the affiliate must fix from
// gateway problems an operator re-drives.
type PayoutErrorCategory string

const (
	PayoutErrorDestinationMissing PayoutErrorCategory = "destination_missing"
	PayoutErrorGateway            PayoutErrorCategory = "gateway_failure"
	PayoutErrorStore              PayoutErrorCategory = "store_failure"
)

// PayoutError describes one batch item that was not settled.
type PayoutError struct {
	CommissionID string              `json:"commission_id"`
	AffiliateID  string              `json:"affiliate_id"`
	Amount       int64               `json:"amount"`
	Category     PayoutErrorCategory `json:"category"`
	Message      string              `json:"message"`
}

func (e PayoutError) Error() string {
	return fmt.Sprintf("%s: commission %s (affiliate %s): %s", e.Category, e.CommissionID, e.AffiliateID, e.Message)
}
