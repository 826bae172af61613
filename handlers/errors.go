// handlers/errors.go
package handlers

import (
	"errors"

	"affiliate-commission-system/logging"
	"affiliate-commission-system/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, services.ErrInvalidRevenueEvent),
		errors.Is(err, services.ErrInvalidAmount):
		return fiber.StatusBadRequest
	case errors.Is(err, services.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, services.ErrNotFound),
		errors.Is(err, services.ErrNotEnrolled),
		errors.Is(err, services.ErrSponsorNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrSponsorCycle),
		errors.Is(err, services.ErrInvalidTransition):
		return fiber.StatusConflict
	case errors.Is(err, services.ErrInsufficientBalance),
		errors.Is(err, services.ErrDestinationMissing):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, services.ErrGatewayUnavailable):
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

func respondError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status == fiber.StatusInternalServerError {
		logging.Logger.Error("[HTTP] request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return c.Status(status).JSON(fiber.Map{"error": "internal server error"})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}
