package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/billpay/internal/settlement"
)

// RegisterPurchaseRoutes wires bill payment and transaction status endpoints.
func RegisterPurchaseRoutes(r fiber.Router, h *settlement.Handler, limiter fiber.Handler) {
	r.Post("/purchases/:serviceType", limiter, h.Purchase)
	r.Get("/transactions/:id", h.Status)
	r.Get("/customers/verify", h.VerifyCustomer)
}
