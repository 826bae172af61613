package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHTTPPayoutGatewayTransfer(t *testing.T) {
	var got TransferRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/payouts", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.Equal(t, "c-1-attempt-1", r.Header.Get("Idempotency-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"reference":"po_123"}`))
	}))
	defer srv.Close()

	gw := NewHTTPPayoutGateway(srv.URL+"/", "secret", time.Second)
	res, err := gw.Transfer(context.Background(), TransferRequest{
		AmountMinorUnits:     1500,
		Currency:             "USD",
		DestinationReference: "wallet-a",
		IdempotencyKey:       "c-1-attempt-1",
		Metadata:             map[string]string{"commission_id": "c-1"},
	})
	require.NoError(t, err)
	require.Equal(t, "po_123", res.Reference)
	require.Equal(t, int64(1500), got.AmountMinorUnits)
	require.Equal(t, "wallet-a", got.DestinationReference)
	require.Equal(t, "c-1", got.Metadata["commission_id"])
}

func TestHTTPPayoutGatewayErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"declined", http.StatusUnprocessableEntity, `{"error":"account closed"}`, "gateway returned 422"},
		{"missing reference", http.StatusOK, `{}`, "no reference"},
		{"malformed body", http.StatusOK, `not json`, "decode gateway response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewHTTPPayoutGateway(srv.URL, "", time.Second).Transfer(context.Background(), TransferRequest{IdempotencyKey: "k"})
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestHTTPPayoutGatewayHonoursDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewHTTPPayoutGateway(srv.URL, "", 5*time.Second).Transfer(ctx, TransferRequest{IdempotencyKey: "k"})
	require.Error(t, err)
}
