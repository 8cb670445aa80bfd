package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/billpay/internal/wallet"
)

// RegisterWalletRoutes wires the caller's wallet endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Get("/wallet", h.Me)
	r.Get("/wallet/balance", h.Balance)
	r.Get("/wallet/statement", h.Statement)
	r.Get("/wallet/audit", h.Audit)
}

// RegisterInternalRoutes wires the provisioning hook and operator audit.
func RegisterInternalRoutes(r fiber.Router, h *wallet.Handler) {
	r.Post("/users/:userId/wallet", h.Provision)
	r.Get("/wallets/:walletId/audit", h.AuditWallet)
}
