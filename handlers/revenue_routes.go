// handlers/revenue_routes.go
package handlers

import (
	"affiliate-commission-system/middleware"
	"affiliate-commission-system/services"

	"github.com/gofiber/fiber/v2"
)

// SetupRevenueRoutes exposes revenue intake to the billing service.
func SetupRevenueRoutes(app *fiber.App, calculator *services.CommissionCalculator) {
	app.Post("/revenue-events", middleware.RequirePermission(services.PermIngestRevenue), func(c *fiber.Ctx) error {
		var in services.RevenueEventInput
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "invalid request body")
		}

		result, err := calculator.Credit(c.UserContext(), in)
		if err != nil {
			return respondError(c, err)
		}

		status := fiber.StatusCreated
		if result.DuplicateEvent {
			status = fiber.StatusOK
		}
		return c.Status(status).JSON(result)
	})
}
