// handlers/payout_routes.go
package handlers

import (
	"affiliate-commission-system/middleware"
	"affiliate-commission-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type withdrawalRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Destination string          `json:"destination"`
}

type retryRequest struct {
	CommissionIDs []string `json:"commission_ids"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// SetupPayoutRoutes registers payroll status, withdrawals, payout batch
// administration and cashflow analytics.
func SetupPayoutRoutes(app *fiber.App, payouts *services.PayoutProcessor, withdrawals *services.WithdrawalService, analytics *services.CashflowAnalytics) {
	s := app.Group("/s")

	s.Get("/payroll/status", func(c *fiber.Ctx) error {
		status, err := payouts.PayrollStatus(c.UserContext(), middleware.CallerFrom(c).UserID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(status)
	})

	s.Post("/withdrawals", func(c *fiber.Ctx) error {
		var req withdrawalRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		w, err := withdrawals.Request(c.UserContext(), middleware.CallerFrom(c).UserID, req.Amount, req.Destination)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(w)
	})

	s.Get("/withdrawals", func(c *fiber.Ctx) error {
		userID := middleware.CallerFrom(c).UserID
		rows, err := withdrawals.List(c.UserContext(), userID)
		if err != nil {
			return respondError(c, err)
		}
		available, err := withdrawals.Available(c.UserContext(), userID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"withdrawals": rows, "available": available})
	})

	admin := s.Group("/admin")

	admin.Post("/payouts/run", func(c *fiber.Ctx) error {
		result, err := payouts.TriggerBatch(c.UserContext(), middleware.CallerFrom(c))
		if err != nil && result == nil {
			return respondError(c, err)
		}
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":  "payout run aborted",
				"result": result,
			})
		}
		return c.JSON(result)
	})

	admin.Post("/payouts/retry", func(c *fiber.Ctx) error {
		var req retryRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return badRequest(c, "invalid request body")
			}
		}
		result, err := payouts.RetryFailed(c.UserContext(), middleware.CallerFrom(c), req.CommissionIDs)
		if err != nil && result == nil {
			return respondError(c, err)
		}
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":  "payout retry aborted",
				"result": result,
			})
		}
		return c.JSON(result)
	})

	admin.Get("/payouts/in-flight", func(c *fiber.Ctx) error {
		rows, err := payouts.ListInFlight(c.UserContext(), middleware.CallerFrom(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"commissions": rows})
	})

	admin.Post("/payouts/in-flight/:id/resolve", func(c *fiber.Ctx) error {
		var req services.InFlightResolution
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		row, err := payouts.ResolveInFlight(c.UserContext(), middleware.CallerFrom(c), c.Params("id"), req)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(row)
	})

	admin.Get("/payouts/runs", func(c *fiber.Ctx) error {
		runs, err := payouts.ListRuns(c.UserContext(), middleware.CallerFrom(c), c.QueryInt("limit", 20))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"runs": runs})
	})

	admin.Get("/cashflow", func(c *fiber.Ctx) error {
		summary, err := analytics.Summary(c.UserContext(), middleware.CallerFrom(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(summary)
	})

	admin.Post("/withdrawals/:id/approve", func(c *fiber.Ctx) error {
		w, err := withdrawals.Approve(c.UserContext(), middleware.CallerFrom(c), c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(w)
	})

	admin.Post("/withdrawals/:id/reject", func(c *fiber.Ctx) error {
		var req rejectRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return badRequest(c, "invalid request body")
			}
		}
		w, err := withdrawals.Reject(c.UserContext(), middleware.CallerFrom(c), c.Params("id"), req.Reason)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(w)
	})

	admin.Post("/withdrawals/:id/process", func(c *fiber.Ctx) error {
		w, err := withdrawals.Process(c.UserContext(), middleware.CallerFrom(c), c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(w)
	})
}
