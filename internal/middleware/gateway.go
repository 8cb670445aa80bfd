package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	userIDHeader = "X-User-ID"
	userIDLocal  = "user_id"
)

// GatewayUser trusts the caller identity forwarded by the API gateway, which
// has already authenticated the request.
func GatewayUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid := strings.TrimSpace(c.Get(userIDHeader))
		if uid == "" {
			return fiber.NewError(http.StatusUnauthorized, "missing caller identity")
		}
		c.Locals(userIDLocal, uid)
		return c.Next()
	}
}

// UserID returns the caller set by GatewayUser, or "".
func UserID(c *fiber.Ctx) string {
	uid, _ := c.Locals(userIDLocal).(string)
	return uid
}
