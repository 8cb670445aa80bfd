package funding

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/billpay/internal/ledger"
	"github.com/congo-pay/billpay/internal/middleware"
	"github.com/congo-pay/billpay/internal/provider"
)

// Handler exposes HTTP endpoints for wallet top-ups.
type Handler struct {
	service *Service
}

// NewHandler constructs a funding handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Initialize starts a checkout for the authenticated user's wallet.
func (h *Handler) Initialize(c *fiber.Ctx) error {
	uid := middleware.UserID(c)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	var req TopUpRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	topUp, err := h.service.InitializeTopUp(c.UserContext(), TopUpInput{UserID: uid, Amount: req.Amount, Email: req.Email})
	if err != nil {
		return fundingError(err)
	}
	return c.Status(http.StatusCreated).JSON(topUp)
}

// Verify confirms a checkout and credits the wallet when paid.
func (h *Handler) Verify(c *fiber.Ctx) error {
	uid := middleware.UserID(c)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	result, err := h.service.VerifyTopUp(c.UserContext(), uid, c.Params("reference"))
	if err != nil {
		return fundingError(err)
	}
	status := http.StatusOK
	if result.Credited {
		status = http.StatusCreated
	}
	return c.Status(status).JSON(result)
}

func fundingError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrWalletNotFound):
		return fiber.NewError(http.StatusNotFound, "wallet not found")
	case errors.Is(err, ErrNotOwner):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrEmailRequired), errors.Is(err, ErrCurrencyMismatch):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, provider.ErrCapabilityUnsupported), errors.Is(err, provider.ErrUnknownProvider):
		return fiber.NewError(http.StatusServiceUnavailable, "payment collection unavailable")
	default:
		return fiber.NewError(http.StatusBadGateway, err.Error())
	}
}
