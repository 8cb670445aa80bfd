package settlement

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/billpay/internal/catalog"
	"github.com/congo-pay/billpay/internal/ledger"
	"github.com/congo-pay/billpay/internal/middleware"
	"github.com/congo-pay/billpay/internal/money"
	"github.com/congo-pay/billpay/internal/provider"
	"github.com/congo-pay/billpay/internal/transaction"
)

// Handler exposes purchase and transaction status endpoints.
type Handler struct {
	engine    *Engine
	providers *provider.Registry
}

// NewHandler builds the purchase HTTP handler.
func NewHandler(engine *Engine, providers *provider.Registry) *Handler {
	return &Handler{engine: engine, providers: providers}
}

// PurchaseRequest is the body of POST /purchases/:serviceType.
type PurchaseRequest struct {
	Provider        string            `json:"provider"`
	Amount          money.Amount      `json:"amount"`
	Recipient       string            `json:"recipient"`
	Phone           string            `json:"phone"`
	PlanID          string            `json:"plan_id"`
	Params          map[string]string `json:"params"`
	ClientReference string            `json:"client_reference"`
}

// ReceiptResponse is returned for purchases.
type ReceiptResponse struct {
	Transaction   transaction.Transaction `json:"transaction"`
	BalanceBefore money.Amount            `json:"balance_before"`
	BalanceAfter  money.Amount            `json:"balance_after"`
}

// Purchase charges the caller's wallet and fulfils the order. Final failures are
// reported with 200 and status "failed", since the wallet has been refunded.
func (h *Handler) Purchase(c *fiber.Ctx) error {
	uid := middleware.UserID(c)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	var req PurchaseRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	clientRef := strings.TrimSpace(req.ClientReference)
	if clientRef == "" {
		clientRef = strings.TrimSpace(c.Get("Idempotency-Key"))
	}

	receipt, err := h.engine.Purchase(c.UserContext(), InitiateInput{
		UserID:          uid,
		ServiceType:     catalog.ServiceType(strings.ToLower(c.Params("serviceType"))),
		Provider:        strings.ToLower(strings.TrimSpace(req.Provider)),
		RequestedAmount: req.Amount,
		Recipient:       strings.TrimSpace(req.Recipient),
		Phone:           strings.TrimSpace(req.Phone),
		PlanID:          req.PlanID,
		Params:          req.Params,
		ClientReference: clientRef,
	})
	if err != nil {
		if errors.Is(err, transaction.ErrDuplicateReference) {
			return c.Status(http.StatusConflict).JSON(fiber.Map{
				"error":       "duplicate client reference",
				"transaction": receipt.Transaction,
			})
		}
		if receipt.Transaction.ID != "" {
			// money moved but settlement did not finish cleanly
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
				"error":       "settlement incomplete",
				"transaction": receipt.Transaction,
			})
		}
		return purchaseError(err)
	}

	resp := ReceiptResponse{
		Transaction:   receipt.Transaction,
		BalanceBefore: receipt.BalanceBefore,
		BalanceAfter:  receipt.BalanceAfter,
	}
	status := http.StatusOK
	switch receipt.Transaction.Status {
	case transaction.StatusSuccess:
		status = http.StatusCreated
	case transaction.StatusPending:
		status = http.StatusAccepted
	}
	return c.Status(status).JSON(resp)
}

// Status returns one of the caller's transactions, asking the provider first
// when it is still pending.
func (h *Handler) Status(c *fiber.Ctx) error {
	uid := middleware.UserID(c)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	tx, err := h.engine.Status(c.UserContext(), uid, c.Params("id"))
	if err != nil {
		if errors.Is(err, transaction.ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, "transaction not found")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(tx)
}

// VerifyCustomer looks up a meter or smartcard number with the active provider.
func (h *Handler) VerifyCustomer(c *fiber.Ctx) error {
	serviceType := catalog.ServiceType(strings.ToLower(c.Query("service_type")))
	providerCode := strings.ToLower(c.Query("provider"))
	customerID := strings.TrimSpace(c.Query("customer_id"))
	if !serviceType.Valid() || providerCode == "" || customerID == "" {
		return fiber.NewError(http.StatusBadRequest, "service_type, provider and customer_id are required")
	}

	f, err := h.providers.Fulfiller()
	if err != nil {
		return fiber.NewError(http.StatusServiceUnavailable, "fulfillment unavailable")
	}
	params := map[string]string{}
	meterType := c.Query("meter_type")
	if meterType == "" {
		meterType = c.Query("type")
	}
	if meterType != "" {
		params["meter_type"] = meterType
	}
	info, err := f.VerifyCustomer(c.UserContext(), serviceType, providerCode, customerID, params)
	if err != nil {
		if errors.Is(err, provider.ErrAmbiguous) {
			return fiber.NewError(http.StatusBadGateway, "provider unavailable")
		}
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.Status(http.StatusOK).JSON(info)
}

func purchaseError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return fiber.NewError(http.StatusPaymentRequired, "insufficient wallet balance")
	case errors.Is(err, ErrServiceDisabled):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ledger.ErrWalletNotFound):
		return fiber.NewError(http.StatusNotFound, "wallet not found")
	case errors.Is(err, provider.ErrUnknownProvider), errors.Is(err, provider.ErrCapabilityUnsupported):
		return fiber.NewError(http.StatusServiceUnavailable, "fulfillment unavailable")
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
