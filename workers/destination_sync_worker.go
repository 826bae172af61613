// workers/destination_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"affiliate-commission-system/logging"
	"affiliate-commission-system/models"
	"affiliate-commission-system/utils"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SourceWalletSync marks destinations mirrored from the billing wallet service.
const SourceWalletSync = "wallet_sync"

// RemoteDestination is one row of the wallet service's payout destination feed.
type RemoteDestination struct {
	UserID    string    `json:"user_id"`
	Reference string    `json:"reference"`
	UpdatedAt time.Time `json:"updated_at"`
}

type DestinationSyncClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	DB         *gorm.DB
}

func NewDestinationSyncClient(db *gorm.DB, baseURL, token string) *DestinationSyncClient {
	return &DestinationSyncClient{
		BaseURL:    baseURL,
		Token:      token,
		DB:         db,
		HTTPClient: utils.NewHTTPClient(30 * time.Second),
	}
}

func (c *DestinationSyncClient) GetChangedDestinations(ctx context.Context, since time.Time) ([]RemoteDestination, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	u = u.JoinPath("/api/v1/public/payout-destinations")

	q := u.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call sync service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("sync service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Destinations []RemoteDestination `json:"destinations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode sync service response: %w", err)
	}
	return response.Destinations, nil
}

// Apply upserts the given destinations. A destination the affiliate set
// themselves is never overwritten by the mirror.
func (c *DestinationSyncClient) Apply(ctx context.Context, remote []RemoteDestination) (int64, error) {
	rows := make([]models.PayoutDestination, 0, len(remote))
	for _, r := range remote {
		if r.UserID == "" || r.Reference == "" {
			continue
		}
		rows = append(rows, models.PayoutDestination{UserID: r.UserID, Reference: r.Reference, Source: SourceWalletSync})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	res := c.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"reference", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Eq{Column: clause.Column{Table: "payout_destinations", Name: "source"}, Value: SourceWalletSync},
		}},
	}).Create(&rows)
	return res.RowsAffected, res.Error
}

// PollDestinations mirrors wallet destinations until ctx is done. The
// window only advances after a successful upsert.
func PollDestinations(ctx context.Context, client *DestinationSyncClient, pollInterval time.Duration) {
	logging.Logger.Info("[SYNC] destination polling started", zap.Duration("interval", pollInterval))
	lastSyncTime := time.Now().UTC().Add(-24 * time.Hour)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Logger.Info("[SYNC] destination polling stopped")
			return
		case <-ticker.C:
			pollTime := time.Now().UTC()

			remote, err := client.GetChangedDestinations(ctx, lastSyncTime)
			if err != nil {
				logging.Logger.Warn("[SYNC] destination poll failed", zap.Error(err))
				continue
			}
			if len(remote) == 0 {
				lastSyncTime = pollTime
				continue
			}

			n, err := client.Apply(ctx, remote)
			if err != nil {
				logging.Logger.Error("[SYNC] destination upsert failed", zap.Int("count", len(remote)), zap.Error(err))
				continue
			}
			lastSyncTime = pollTime
			logging.Logger.Info("[SYNC] destinations mirrored", zap.Int("received", len(remote)), zap.Int64("upserted", n))
		}
	}
}
