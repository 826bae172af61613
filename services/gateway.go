// services/gateway.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"affiliate-commission-system/monitoring"
	"affiliate-commission-system/utils"
)

// TransferRequest is one outbound payout.
type TransferRequest struct {
	AmountMinorUnits     int64             `json:"amount_minor_units"`
	Currency             string            `json:"currency"`
	DestinationReference string            `json:"destination_reference"`
	IdempotencyKey       string            `json:"idempotency_key"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

type TransferResult struct {
	Reference string `json:"reference"`
}

// PayoutGateway moves money to an affiliate. Any error, including a context
// deadline, counts as a failed transfer.
type PayoutGateway interface {
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

type HTTPPayoutGateway struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewHTTPPayoutGateway(baseURL, token string, timeout time.Duration) *HTTPPayoutGateway {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPPayoutGateway{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  utils.NewHTTPClient(timeout),
	}
}

// Transfer calls POST /v1/payouts on the gateway.
func (g *HTTPPayoutGateway) Transfer(ctx context.Context, in TransferRequest) (*TransferResult, error) {
	if g.BaseURL == "" {
		return nil, fmt.Errorf("payout gateway is not configured")
	}
	url := fmt.Sprintf("%s/v1/payouts", g.BaseURL)

	jsonData, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", in.IdempotencyKey)
	if g.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.Token)
	}

	start := time.Now()
	resp, err := g.Client.Do(req)
	monitoring.GatewayLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("gateway transport: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out TransferResult
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode gateway response: %w", err)
	}
	if out.Reference == "" {
		return nil, fmt.Errorf("gateway response has no reference")
	}
	return &out, nil
}
