// handlers/affiliate_routes.go
package handlers

import (
	"strconv"

	"affiliate-commission-system/middleware"
	"affiliate-commission-system/models"
	"affiliate-commission-system/services"

	"github.com/gofiber/fiber/v2"
)

type enrollRequest struct {
	DisplayName string `json:"display_name"`
	SponsorCode string `json:"sponsor_code"`
}

type destinationRequest struct {
	Reference string `json:"reference"`
}

// SetupAffiliateRoutes registers the caller's own affiliate endpoints and
// the downline views. UserContextMiddleware must already be installed.
func SetupAffiliateRoutes(app *fiber.App, affiliates *services.AffiliateService, downline *services.DownlineService) {
	s := app.Group("/s")

	s.Post("/affiliates/enroll", func(c *fiber.Ctx) error {
		var req enrollRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		caller := middleware.CallerFrom(c)

		profile, created, err := affiliates.Enroll(c.UserContext(), caller.UserID, req.DisplayName, req.SponsorCode)
		if err != nil {
			return respondError(c, err)
		}
		status := fiber.StatusOK
		if created {
			status = fiber.StatusCreated
		}
		return c.Status(status).JSON(fiber.Map{
			"profile":   profile,
			"join_link": affiliates.JoinLink(profile),
		})
	})

	s.Get("/affiliates/me", func(c *fiber.Ctx) error {
		profile, err := affiliates.Get(c.UserContext(), middleware.CallerFrom(c).UserID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{
			"profile":   profile,
			"join_link": affiliates.JoinLink(profile),
		})
	})

	s.Put("/affiliates/me/destination", func(c *fiber.Ctx) error {
		var req destinationRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		dest, err := affiliates.SetPayoutDestination(c.UserContext(), middleware.CallerFrom(c).UserID, req.Reference)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(dest)
	})

	s.Get("/affiliates/me/qr", func(c *fiber.Ctx) error {
		profile, err := affiliates.Get(c.UserContext(), middleware.CallerFrom(c).UserID)
		if err != nil {
			return respondError(c, err)
		}
		png, err := affiliates.JoinLinkQR(profile, c.QueryInt("size", 256))
		if err != nil {
			return respondError(c, err)
		}
		c.Set(fiber.HeaderContentType, "image/png")
		return c.Send(png)
	})

	s.Get("/affiliates/me/commissions", func(c *fiber.Ctx) error {
		status := models.CommissionStatus(c.Query("status"))
		limit, _ := strconv.Atoi(c.Query("limit", "50"))

		rows, err := affiliates.ListCommissions(c.UserContext(), middleware.CallerFrom(c).UserID, status, limit)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"commissions": rows})
	})

	s.Get("/downline", func(c *fiber.Ctx) error {
		tree, err := downline.Tree(c.UserContext(), middleware.CallerFrom(c).UserID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(tree)
	})

	s.Get("/admin/downline/:user_id", middleware.RequirePermission(services.PermViewAnyDownline), func(c *fiber.Ctx) error {
		tree, err := downline.Tree(c.UserContext(), c.Params("user_id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(tree)
	})

	s.Post("/admin/affiliates/:user_id/deactivate", func(c *fiber.Ctx) error {
		if err := affiliates.Deactivate(c.UserContext(), middleware.CallerFrom(c), c.Params("user_id")); err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"message": "affiliate deactivated"})
	})
}
