package wallet

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/billpay/internal/ledger"
	"github.com/congo-pay/billpay/internal/middleware"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type provisionRequest struct {
	Currency string `json:"currency"`
}

type walletResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Currency  string `json:"currency"`
	Balance   string `json:"balance"`
	CreatedAt string `json:"created_at"`
}

func toResponse(w ledger.Wallet) walletResponse {
	return walletResponse{
		ID:        w.ID,
		UserID:    w.UserID,
		Currency:  w.Currency,
		Balance:   w.Balance.String(),
		CreatedAt: w.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

// Provision creates a wallet for a newly registered user. It is called by the
// account service, not by end users.
func (h *Handler) Provision(c *fiber.Ctx) error {
	var req provisionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}
	w, created, err := h.service.Provision(c.UserContext(), c.Params("userId"), req.Currency)
	if err != nil {
		if errors.Is(err, ErrInvalidUser) {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.Status(status).JSON(toResponse(w))
}

// Me returns the authenticated user's wallet and balance.
func (h *Handler) Me(c *fiber.Ctx) error {
	uid := middleware.UserID(c)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	w, err := h.service.GetByUser(c.UserContext(), uid)
	if err != nil {
		return walletError(err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(w))
}

// Balance returns the authenticated user's balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	uid := middleware.UserID(c)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	balance, err := h.service.Balance(c.UserContext(), uid)
	if err != nil {
		return walletError(err)
	}
	return c.Status(http.StatusOK).JSON(balance)
}

// Statement lists ledger entries of the authenticated user's wallet.
func (h *Handler) Statement(c *fiber.Ctx) error {
	uid := middleware.UserID(c)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	stmt, err := h.service.Statement(c.UserContext(), uid, c.QueryInt("limit", defaultStatementLimit), c.QueryInt("offset", 0))
	if err != nil {
		return walletError(err)
	}
	return c.Status(http.StatusOK).JSON(stmt)
}

// Audit replays the authenticated user's ledger against the stored balance.
func (h *Handler) Audit(c *fiber.Ctx) error {
	uid := middleware.UserID(c)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	report, err := h.service.AuditUser(c.UserContext(), uid)
	if err != nil {
		return walletError(err)
	}
	return c.Status(http.StatusOK).JSON(report)
}

// AuditWallet replays any wallet's ledger for operators. Drift answers 409.
func (h *Handler) AuditWallet(c *fiber.Ctx) error {
	report, err := h.service.Audit(c.UserContext(), c.Params("walletId"))
	if err != nil {
		return walletError(err)
	}
	status := http.StatusOK
	if !report.Consistent {
		status = http.StatusConflict
	}
	return c.Status(status).JSON(report)
}

func walletError(err error) error {
	if errors.Is(err, ledger.ErrWalletNotFound) {
		return fiber.NewError(http.StatusNotFound, "wallet not found")
	}
	return fiber.NewError(http.StatusInternalServerError, err.Error())
}
