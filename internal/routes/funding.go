package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/billpay/internal/funding"
)

// RegisterFundingRoutes wires wallet top-up endpoints.
func RegisterFundingRoutes(r fiber.Router, h *funding.Handler) {
	r.Post("/wallet/topups", h.Initialize)
	r.Post("/wallet/topups/:reference/verify", h.Verify)
}
