package funding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/congo-pay/billpay/internal/ledger"
	"github.com/congo-pay/billpay/internal/money"
	"github.com/congo-pay/billpay/internal/notification"
	"github.com/congo-pay/billpay/internal/provider"
)

const topUpLedgerPrefix = "TOPUP_"

var (
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrEmailRequired    = errors.New("email is required")
	ErrNotOwner         = errors.New("payment does not belong to this wallet")
	ErrCurrencyMismatch = errors.New("paid currency does not match wallet currency")
)

// Service credits wallets with payments collected by the active collector.
type Service struct {
	wallets     ledger.Store
	claims      ClaimStore
	providers   *provider.Registry
	notifier    notification.Notifier
	logger      *slog.Logger
	callbackURL string
	now         func() time.Time
}

// NewService prepares a funding service.
func NewService(wallets ledger.Store, claims ClaimStore, providers *provider.Registry, notifier notification.Notifier, logger *slog.Logger, callbackURL string) (*Service, error) {
	if wallets == nil {
		return nil, fmt.Errorf("wallet store is required")
	}
	if claims == nil {
		return nil, fmt.Errorf("top-up claim store is required")
	}
	if providers == nil {
		return nil, fmt.Errorf("provider registry is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		wallets:     wallets,
		claims:      claims,
		providers:   providers,
		notifier:    notifier,
		logger:      logger,
		callbackURL: callbackURL,
		now:         time.Now,
	}, nil
}

// TopUpInput captures a request to fund a wallet.
type TopUpInput struct {
	UserID string
	Amount money.Amount
	Email  string
}

// TopUp is a started checkout.
type TopUp struct {
	Reference        string       `json:"reference"`
	WalletID         string       `json:"wallet_id"`
	Amount           money.Amount `json:"amount"`
	Currency         string       `json:"currency"`
	Provider         string       `json:"provider"`
	AuthorizationURL string       `json:"authorization_url"`
	AccessCode       string       `json:"access_code,omitempty"`
}

// TopUpResult is the outcome of verifying a checkout.
type TopUpResult struct {
	Reference     string                 `json:"reference"`
	Status        provider.PaymentStatus `json:"status"`
	Amount        money.Amount           `json:"amount"`
	Credited      bool                   `json:"credited"`
	AlreadyFunded bool                   `json:"already_funded"`
	WalletBalance money.Amount           `json:"wallet_balance"`
	CompletedAt   time.Time              `json:"completed_at"`
}

// InitializeTopUp starts a checkout with the active collector.
func (s *Service) InitializeTopUp(ctx context.Context, input TopUpInput) (TopUp, error) {
	if !input.Amount.IsPositive() {
		return TopUp{}, ErrInvalidAmount
	}
	email := strings.TrimSpace(input.Email)
	if email == "" {
		return TopUp{}, ErrEmailRequired
	}

	w, err := s.wallets.WalletByUser(ctx, input.UserID)
	if err != nil {
		return TopUp{}, err
	}
	collector, err := s.providers.Collector()
	if err != nil {
		return TopUp{}, err
	}

	reference := "TOPUP-" + ulid.Make().String()
	checkout, err := collector.InitializePayment(ctx, provider.CollectRequest{
		Reference:   reference,
		Email:       email,
		Amount:      input.Amount,
		Currency:    w.Currency,
		CallbackURL: s.callbackURL,
		Metadata: map[string]string{
			"user_id":   w.UserID,
			"wallet_id": w.ID,
		},
	})
	if err != nil {
		return TopUp{}, err
	}

	s.logger.Info("top-up initialized",
		slog.String("reference", reference),
		slog.String("wallet_id", w.ID),
		slog.String("provider", collector.Code()),
		slog.String("amount", input.Amount.String()))

	return TopUp{
		Reference:        checkout.Reference,
		WalletID:         w.ID,
		Amount:           input.Amount,
		Currency:         w.Currency,
		Provider:         collector.Code(),
		AuthorizationURL: checkout.AuthorizationURL,
		AccessCode:       checkout.AccessCode,
	}, nil
}

// VerifyTopUp asks the collector about a checkout and credits the wallet once
// when it is paid. Repeat calls for a paid reference report AlreadyFunded. The
// payment must carry the wallet it was started for, and a reference credits at
// most one wallet.
func (s *Service) VerifyTopUp(ctx context.Context, userID, reference string) (TopUpResult, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return TopUpResult{}, fmt.Errorf("reference is required")
	}
	w, err := s.wallets.WalletByUser(ctx, userID)
	if err != nil {
		return TopUpResult{}, err
	}
	collector, err := s.providers.Collector()
	if err != nil {
		return TopUpResult{}, err
	}

	payment, err := collector.VerifyPayment(ctx, reference)
	if err != nil {
		return TopUpResult{}, err
	}
	if payment.Metadata["wallet_id"] != w.ID {
		return TopUpResult{}, ErrNotOwner
	}

	result := TopUpResult{
		Reference:     reference,
		Status:        payment.Status,
		Amount:        payment.Amount,
		WalletBalance: w.Balance,
		CompletedAt:   s.now().UTC(),
	}
	if payment.Status != provider.PaymentSuccess {
		return result, nil
	}
	if payment.Currency != "" && !strings.EqualFold(payment.Currency, w.Currency) {
		return TopUpResult{}, ErrCurrencyMismatch
	}
	if !payment.Amount.IsPositive() {
		return TopUpResult{}, ErrInvalidAmount
	}

	claimRef := payment.Reference
	if claimRef == "" {
		claimRef = reference
	}
	owner, err := s.claims.Claim(ctx, claimRef, w.ID)
	if err != nil {
		return TopUpResult{}, err
	}
	if owner != w.ID {
		s.logger.Warn("top-up already claimed by another wallet",
			slog.String("reference", claimRef),
			slog.String("wallet_id", w.ID),
			slog.String("owner", owner))
		return TopUpResult{}, ErrNotOwner
	}

	posting, err := s.wallets.Release(ctx, w.ID, payment.Amount, topUpLedgerPrefix+reference, "Wallet top-up via "+collector.Code())
	switch {
	case errors.Is(err, ledger.ErrDuplicateReference):
		balance, balErr := s.wallets.GetBalance(ctx, w.ID)
		if balErr != nil {
			return TopUpResult{}, balErr
		}
		result.AlreadyFunded = true
		result.WalletBalance = balance
		return result, nil
	case err != nil:
		return TopUpResult{}, err
	}

	result.Credited = true
	result.WalletBalance = posting.BalanceAfter
	s.logger.Info("wallet funded",
		slog.String("reference", reference),
		slog.String("wallet_id", w.ID),
		slog.String("amount", payment.Amount.String()),
		slog.String("balance_after", posting.BalanceAfter.String()))

	if s.notifier != nil {
		event := notification.Event{
			ID:                uuid.NewString(),
			Kind:              notification.KindWalletFunded,
			ExternalReference: reference,
			UserID:            w.UserID,
			WalletID:          w.ID,
			Provider:          collector.Code(),
			Amount:            payment.Amount,
			Status:            string(payment.Status),
			OccurredAt:        result.CompletedAt,
		}
		if err := s.notifier.Send(ctx, event); err != nil {
			s.logger.Warn("event publication failed", slog.String("kind", event.Kind), slog.String("reference", reference), slog.Any("error", err))
		}
	}
	return result, nil
}
