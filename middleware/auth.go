// middleware/auth.go
package middleware

import (
	"strings"

	"affiliate-commission-system/logging"
	"affiliate-commission-system/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const callerKey = "caller"

// UserContextMiddleware turns the identity headers set by the gateway into a
// services.Caller. Routes under /s/ require X-User-ID.
func UserContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get("X-User-ID"))

		if strings.HasPrefix(c.Path(), "/s/") && userID == "" {
			logging.Logger.Warn("[USER_CTX] X-User-ID missing on secured route", zap.String("path", c.Path()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID, request must come through gateway with auth context",
			})
		}

		var roles []string
		for _, r := range strings.Split(c.Get("X-User-Roles"), ",") {
			r = strings.ToLower(strings.TrimSpace(r))
			if r != "" {
				roles = append(roles, r)
			}
		}

		c.Locals(callerKey, services.Caller{UserID: userID, Roles: roles})
		return c.Next()
	}
}

// CallerFrom returns the caller attached by UserContextMiddleware.
func CallerFrom(c *fiber.Ctx) services.Caller {
	caller, _ := c.Locals(callerKey).(services.Caller)
	return caller
}

// RequirePermission rejects callers whose roles do not grant p.
func RequirePermission(p services.Permission) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !CallerFrom(c).Can(p) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": services.ErrForbidden.Error(),
			})
		}
		return c.Next()
	}
}
