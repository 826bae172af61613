// workers/profile_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"affiliate-commission-system/logging"
	"affiliate-commission-system/models"
	"affiliate-commission-system/utils"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RemoteProfile is the subset of the identity service's profile feed this
// service mirrors.
type RemoteProfile struct {
	ExternalID    string    `json:"external_id"`
	Username      string    `json:"username"`
	FirstName     *string   `json:"first_name,omitempty"`
	LastName      *string   `json:"last_name,omitempty"`
	AccountStatus string    `json:"account_status"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DisplayName prefers the real name and falls back to the username.
func (p RemoteProfile) DisplayName() string {
	var parts []string
	if p.FirstName != nil && strings.TrimSpace(*p.FirstName) != "" {
		parts = append(parts, strings.TrimSpace(*p.FirstName))
	}
	if p.LastName != nil && strings.TrimSpace(*p.LastName) != "" {
		parts = append(parts, strings.TrimSpace(*p.LastName))
	}
	if len(parts) == 0 {
		return p.Username
	}
	return strings.Join(parts, " ")
}

type GetProfileChangesResponse struct {
	Users []RemoteProfile `json:"users"`
}

// ProfileSyncWorker keeps affiliate display names in step with the identity
// service. It never creates profiles; enrollment does that.
type ProfileSyncWorker struct {
	db           *gorm.DB
	interval     time.Duration
	baseURL      string
	endpointPath string
	serviceToken string
	httpClient   *http.Client
}

func NewProfileSyncWorker(db *gorm.DB, baseURL, serviceToken string, interval time.Duration) *ProfileSyncWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ProfileSyncWorker{
		db:           db,
		interval:     interval,
		baseURL:      baseURL,
		endpointPath: "/api/v1/public/profiles",
		serviceToken: serviceToken,
		httpClient:   utils.NewHTTPClient(30 * time.Second),
	}
}

func (w *ProfileSyncWorker) Start(ctx context.Context) {
	logging.Logger.Info("[SYNC] profile sync worker started", zap.Duration("interval", w.interval))
	go w.run(ctx)
}

func (w *ProfileSyncWorker) run(ctx context.Context) {
	since := time.Unix(0, 0).UTC()
	if next, err := w.syncBatch(ctx, since); err != nil {
		logging.Logger.Warn("[SYNC] initial profile sync failed", zap.Error(err))
	} else {
		since = next
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			next, err := w.syncBatch(ctx, since)
			if err != nil {
				logging.Logger.Warn("[SYNC] profile sync batch failed", zap.Error(err))
				continue
			}
			since = next
		case <-ctx.Done():
			logging.Logger.Info("[SYNC] profile sync worker stopped")
			return
		}
	}
}

// syncBatch applies one page of changes and returns the watermark for the
// next call.
func (w *ProfileSyncWorker) syncBatch(ctx context.Context, since time.Time) (time.Time, error) {
	base, err := url.Parse(w.baseURL)
	if err != nil {
		return since, fmt.Errorf("invalid sync service URL '%s': %w", w.baseURL, err)
	}
	endpointURL := base.JoinPath(w.endpointPath)
	q := endpointURL.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	endpointURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpointURL.String(), nil)
	if err != nil {
		return since, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return since, fmt.Errorf("HTTP request to sync service failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return since, fmt.Errorf("sync service non-200 response: %d: %s", resp.StatusCode, string(body))
	}

	var response GetProfileChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return since, fmt.Errorf("failed to decode sync service response: %w", err)
	}

	latest := since
	var updated, failed int
	for _, p := range response.Users {
		if p.UpdatedAt.After(latest) {
			latest = p.UpdatedAt.UTC()
		}
		name := p.DisplayName()
		if p.ExternalID == "" || name == "" {
			continue
		}
		res := w.db.WithContext(ctx).Model(&models.AffiliateProfile{}).
			Where("user_id = ? AND display_name <> ?", p.ExternalID, name).
			Update("display_name", name)
		if res.Error != nil {
			failed++
			logging.Logger.Warn("[SYNC] display name update failed", zap.String("user_id", p.ExternalID), zap.Error(res.Error))
			continue
		}
		updated += int(res.RowsAffected)
	}

	if len(response.Users) > 0 {
		logging.Logger.Info("[SYNC] profiles processed",
			zap.Int("received", len(response.Users)),
			zap.Int("updated", updated),
			zap.Int("errors", failed),
		)
	}
	return latest, nil
}
