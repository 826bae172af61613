package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"affiliate-commission-system/models"
	"affiliate-commission-system/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// testNow is a Thursday.
var testNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

var adminCaller = Caller{UserID: "admin-1", Roles: []string{"admin"}}

func clock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func usd(t *testing.T) utils.Money {
	t.Helper()
	m, err := utils.NewMoney("USD")
	require.NoError(t, err)
	return m
}

func defaultTierBases() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"bronze":  decimal.RequireFromString("15.00"),
		"silver":  decimal.RequireFromString("33.00"),
		"gold":    decimal.RequireFromString("75.00"),
		"diamond": decimal.RequireFromString("150.00"),
	}
}

func newAffiliates(t *testing.T, db *gorm.DB) *AffiliateService {
	svc := NewAffiliateService(db, usd(t), "https://example.org/join/")
	svc.Now = clock(testNow)
	return svc
}

// enroll registers userID under the given sponsor profile (nil for a root).
func enroll(t *testing.T, svc *AffiliateService, userID string, sponsor *models.AffiliateProfile) *models.AffiliateProfile {
	t.Helper()
	code := ""
	if sponsor != nil {
		code = sponsor.ReferralCode
	}
	p, created, err := svc.Enroll(context.Background(), userID, "User "+userID, code)
	require.NoError(t, err)
	require.True(t, created)
	return p
}

func setDestination(t *testing.T, db *gorm.DB, userID, ref string) {
	t.Helper()
	require.NoError(t, db.Create(&models.PayoutDestination{UserID: userID, Reference: ref}).Error)
}

func seedCommission(t *testing.T, db *gorm.DB, affiliateID string, amount int64, accruedAt time.Time, status models.CommissionStatus) models.Commission {
	t.Helper()
	c := models.Commission{
		AffiliateID: affiliateID,
		ReferredID:  "payer-" + affiliateID,
		EventID:     uuid.NewString(),
		Level:       1,
		Amount:      amount,
		Currency:    "USD",
		Tier:        models.TierSilver,
		EventType:   models.RevenueEventSubscription,
		AccruedAt:   accruedAt,
		Status:      status,
	}
	require.NoError(t, db.Create(&c).Error)
	return c
}

func loadCommission(t *testing.T, db *gorm.DB, id string) models.Commission {
	t.Helper()
	var c models.Commission
	require.NoError(t, db.First(&c, "id = ?", id).Error)
	return c
}

// fakeGateway records transfers and declines destinations listed in decline.
type fakeGateway struct {
	mu      sync.Mutex
	calls   []TransferRequest
	decline map[string]bool
	delay   time.Duration
	seq     int
}

func (g *fakeGateway) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	if g.decline[req.DestinationReference] {
		return nil, errors.New("destination declined")
	}
	g.seq++
	return &TransferResult{Reference: fmt.Sprintf("po_%03d", g.seq)}, nil
}

func (g *fakeGateway) setDecline(ref string, declined bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.decline == nil {
		g.decline = map[string]bool{}
	}
	g.decline[ref] = declined
}

func (g *fakeGateway) transfers() []TransferRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]TransferRequest(nil), g.calls...)
}

type fakeArchive struct {
	keys []string
}

func (a *fakeArchive) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	a.keys = append(a.keys, key)
	return "reports/" + key, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) Notify(ctx context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
	return nil
}
