package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"affiliate-commission-system/monitoring"
	"affiliate-commission-system/services"

	"github.com/gofiber/fiber/v2"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func do(t *testing.T, app *fiber.App, method, path string, headers map[string]string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestGatewayAuthMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		header   string
		want     int
	}{
		{"missing header", "secret", "", http.StatusUnauthorized},
		{"wrong token", "secret", "Bearer nope", http.StatusUnauthorized},
		{"bearer token", "secret", "Bearer secret", http.StatusOK},
		{"raw token", "secret", "secret", http.StatusOK},
		{"unset expected token rejects everything", "", "Bearer ", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Use(GatewayAuthMiddleware(tt.expected))
			app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })

			headers := map[string]string{}
			if tt.header != "" {
				headers["Authorization"] = tt.header
			}
			require.Equal(t, tt.want, do(t, app, http.MethodGet, "/ping", headers).StatusCode)
		})
	}
}

func TestUserContextMiddleware(t *testing.T) {
	var seen services.Caller
	app := fiber.New()
	app.Use(UserContextMiddleware())
	handler := func(c *fiber.Ctx) error {
		seen = CallerFrom(c)
		return c.SendStatus(http.StatusOK)
	}
	app.Get("/s/me", handler)
	app.Get("/public", handler)

	resp := do(t, app, http.MethodGet, "/s/me", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = do(t, app, http.MethodGet, "/public", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, seen.UserID)

	resp = do(t, app, http.MethodGet, "/s/me", map[string]string{
		"X-User-ID":    " u-1 ",
		"X-User-Roles": "Admin, finance ,,",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "u-1", seen.UserID)
	require.Equal(t, []string{"admin", "finance"}, seen.Roles)
}

func TestRequirePermission(t *testing.T) {
	app := fiber.New()
	app.Use(UserContextMiddleware())
	app.Get("/s/cashflow", RequirePermission(services.PermViewCashflow), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusOK)
	})

	resp := do(t, app, http.MethodGet, "/s/cashflow", map[string]string{"X-User-ID": "u", "X-User-Roles": "billing"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = do(t, app, http.MethodGet, "/s/cashflow", map[string]string{"X-User-ID": "u", "X-User-Roles": "pastor"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	app := fiber.New()
	app.Use(MetricsMiddleware())
	app.Get("/items/:id", func(c *fiber.Ctx) error { return c.SendStatus(http.StatusNoContent) })

	counter := monitoring.HttpRequestsTotal.WithLabelValues(http.MethodGet, "/items/:id", "204")
	before := promtest.ToFloat64(counter)

	do(t, app, http.MethodGet, "/items/1", nil)
	do(t, app, http.MethodGet, "/items/2", nil)

	require.Equal(t, before+2, promtest.ToFloat64(counter))
}
