// Package settlement moves money out of a wallet for a bill payment, hands the
// order to the fulfillment provider and settles the outcome. Every path that
// changes a transaction status goes through Resolve.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/congo-pay/billpay/internal/catalog"
	"github.com/congo-pay/billpay/internal/ledger"
	"github.com/congo-pay/billpay/internal/money"
	"github.com/congo-pay/billpay/internal/notification"
	"github.com/congo-pay/billpay/internal/provider"
	"github.com/congo-pay/billpay/internal/transaction"
)

var (
	// ErrServiceDisabled is returned when the product's config exists but is switched off.
	ErrServiceDisabled = errors.New("service is disabled")
	// ErrCompensationFailed means a reservation could not be returned after the
	// transaction record failed to persist. The wallet needs reconciliation.
	ErrCompensationFailed = errors.New("compensating refund failed")
	// ErrInvalidRequest rejects malformed purchase input before any money moves.
	ErrInvalidRequest = errors.New("invalid purchase request")
	// ErrUnrecoverable is returned by Reconcile when a delivered order could not be
	// charged again.
	ErrUnrecoverable = errors.New("reconciliation unrecoverable")
)

const (
	defaultDispatchTimeout = 45 * time.Second
	defaultRequeryTimeout  = 10 * time.Second
)

// Options tunes provider call deadlines.
type Options struct {
	DispatchTimeout      time.Duration
	StatusRequeryTimeout time.Duration
}

// Deps are the collaborators of the engine.
type Deps struct {
	Wallets      ledger.Store
	Transactions transaction.Store
	Catalog      catalog.Repository
	Providers    *provider.Registry
	Notifier     notification.Notifier
	Logger       *slog.Logger
}

// Engine is the settlement state machine.
type Engine struct {
	wallets   ledger.Store
	txs       transaction.Store
	catalog   catalog.Repository
	providers *provider.Registry
	notifier  notification.Notifier
	logger    *slog.Logger
	refs      *ReferenceGenerator
	opts      Options
	requeries singleflight.Group
	now       func() time.Time
}

// New constructs an engine.
func New(deps Deps, opts Options) *Engine {
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = defaultDispatchTimeout
	}
	if opts.StatusRequeryTimeout <= 0 {
		opts.StatusRequeryTimeout = defaultRequeryTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		wallets:   deps.Wallets,
		txs:       deps.Transactions,
		catalog:   deps.Catalog,
		providers: deps.Providers,
		notifier:  deps.Notifier,
		logger:    logger.With(slog.String("component", "settlement")),
		refs:      NewReferenceGenerator(),
		opts:      opts,
		now:       time.Now,
	}
}

// InitiateInput is a purchase request from an authenticated user.
type InitiateInput struct {
	UserID          string
	ServiceType     catalog.ServiceType
	Provider        string
	RequestedAmount money.Amount
	Recipient       string
	Phone           string
	PlanID          string
	Params          map[string]string
	Metadata        map[string]string
	ClientReference string
}

// Receipt is what a caller gets back from Initiate or Purchase.
type Receipt struct {
	Transaction   transaction.Transaction
	BalanceBefore money.Amount
	BalanceAfter  money.Amount
}

func (in InitiateInput) validate() error {
	switch {
	case strings.TrimSpace(in.UserID) == "":
		return fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	case !in.ServiceType.Valid():
		return fmt.Errorf("%w: unknown service type %q", ErrInvalidRequest, in.ServiceType)
	case strings.TrimSpace(in.Provider) == "":
		return fmt.Errorf("%w: provider is required", ErrInvalidRequest)
	case strings.TrimSpace(in.Recipient) == "":
		return fmt.Errorf("%w: recipient is required", ErrInvalidRequest)
	case !in.RequestedAmount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	return nil
}

// Initiate prices the purchase, reserves the settled amount and records a pending
// transaction. When the record cannot be written the reservation is released.
func (e *Engine) Initiate(ctx context.Context, in InitiateInput) (Receipt, error) {
	if err := in.validate(); err != nil {
		return Receipt{}, err
	}

	if in.ClientReference != "" {
		existing, err := e.txs.FindByClientReference(ctx, in.UserID, in.ClientReference)
		switch {
		case err == nil:
			return Receipt{Transaction: existing}, transaction.ErrDuplicateReference
		case !errors.Is(err, transaction.ErrNotFound):
			return Receipt{}, fmt.Errorf("check client reference: %w", err)
		}
	}

	wallet, err := e.wallets.WalletByUser(ctx, in.UserID)
	if err != nil {
		return Receipt{}, err
	}

	cfg, err := catalog.Lookup(ctx, e.catalog, in.Provider, in.ServiceType)
	if err != nil {
		return Receipt{}, fmt.Errorf("load service config: %w", err)
	}
	if cfg != nil && !cfg.IsEnabled {
		return Receipt{}, fmt.Errorf("%w: %s %s", ErrServiceDisabled, in.Provider, in.ServiceType)
	}

	discount := catalog.Discount(cfg, in.RequestedAmount)
	settled := in.RequestedAmount.Sub(discount)
	if !settled.IsPositive() {
		return Receipt{}, fmt.Errorf("%w: discount consumes the whole amount", ErrInvalidRequest)
	}

	var backend string
	if f, err := e.providers.Fulfiller(); err == nil {
		backend = f.Code()
	}

	ref := e.refs.Next()
	description := describe(in)

	posting, err := e.wallets.Reserve(ctx, wallet.ID, settled, ref, description)
	if err != nil {
		return Receipt{}, err
	}

	tx := transaction.Transaction{
		ID:                uuid.NewString(),
		UserID:            in.UserID,
		WalletID:          wallet.ID,
		ServiceType:       in.ServiceType,
		Provider:          in.Provider,
		RequestedAmount:   in.RequestedAmount,
		Discount:          discount,
		SettledAmount:     settled,
		Recipient:         in.Recipient,
		PlanID:            in.PlanID,
		ExternalReference: ref,
		ClientReference:   in.ClientReference,
		Backend:           backend,
		Status:            transaction.StatusPending,
		Description:       description,
		Metadata:          requestMetadata(in),
		Reconciliation:    transaction.ReconciliationNone,
	}

	created, err := e.txs.Create(ctx, tx)
	if err != nil {
		if compErr := e.compensate(ctx, tx, err); compErr != nil {
			return Receipt{}, compErr
		}
		// a concurrent request with the same client reference won the insert
		if errors.Is(err, transaction.ErrDuplicateReference) && in.ClientReference != "" {
			if existing, findErr := e.txs.FindByClientReference(ctx, in.UserID, in.ClientReference); findErr == nil {
				return Receipt{Transaction: existing}, transaction.ErrDuplicateReference
			}
		}
		return Receipt{}, fmt.Errorf("record transaction: %w", err)
	}

	return Receipt{Transaction: created, BalanceBefore: posting.BalanceBefore, BalanceAfter: posting.BalanceAfter}, nil
}

// compensate returns a reservation whose transaction record was never written.
func (e *Engine) compensate(ctx context.Context, tx transaction.Transaction, cause error) error {
	_, err := e.wallets.Release(context.WithoutCancel(ctx), tx.WalletID, tx.SettledAmount, refundReference(tx.ExternalReference), "Reversal: "+tx.Description)
	if err == nil || errors.Is(err, ledger.ErrDuplicateReference) {
		e.logger.Warn("transaction record failed, reservation released",
			slog.String("external_reference", tx.ExternalReference),
			slog.Any("error", cause),
		)
		return nil
	}
	e.logger.Error("compensating refund failed",
		slog.String("external_reference", tx.ExternalReference),
		slog.String("wallet_id", tx.WalletID),
		slog.String("amount", tx.SettledAmount.String()),
		slog.Bool("reconcile_required", true),
		slog.Any("error", err),
		slog.Any("cause", cause),
	)
	return errors.Join(fmt.Errorf("record transaction: %w", cause), fmt.Errorf("%w: %w", ErrCompensationFailed, err))
}

// fulfiller returns the backend recorded on the transaction, or the active one
// for records written before the backend was tracked.
func (e *Engine) fulfiller(tx transaction.Transaction) (provider.Fulfiller, error) {
	if tx.Backend == "" {
		return e.providers.Fulfiller()
	}
	return e.providers.FulfillerFor(tx.Backend)
}

// Dispatch sends the order to the fulfillment provider recorded at initiation
// exactly once. A failure to get a definite answer is reported as an ambiguous
// failed result.
func (e *Engine) Dispatch(ctx context.Context, tx transaction.Transaction) provider.Result {
	f, err := e.fulfiller(tx)
	if err != nil {
		// nothing left the building
		return provider.Result{Status: provider.StatusFailed, Message: err.Error()}
	}

	dctx, cancel := context.WithTimeout(ctx, e.opts.DispatchTimeout)
	defer cancel()

	res, err := f.Fulfill(dctx, provider.FulfillRequest{
		ServiceType:    tx.ServiceType,
		Provider:       tx.Provider,
		Recipient:      tx.Recipient,
		Amount:         tx.RequestedAmount,
		PlanID:         tx.PlanID,
		Phone:          tx.Metadata["phone"],
		Params:         providerParams(tx.Metadata),
		IdempotencyKey: tx.ExternalReference,
	})
	if err != nil {
		e.logger.Warn("fulfillment outcome unknown",
			slog.String("external_reference", tx.ExternalReference),
			slog.String("backend", f.Code()),
			slog.Any("error", err),
		)
		return provider.Result{Status: provider.StatusFailed, Message: err.Error(), Ambiguous: true}
	}
	return res
}

// Resolve applies a provider outcome. Success commits, failure refunds, pending
// leaves the transaction for a later requery. It is safe to call repeatedly and
// concurrently for the same transaction.
func (e *Engine) Resolve(ctx context.Context, tx transaction.Transaction, res provider.Result) (transaction.Transaction, error) {
	switch res.Status {
	case provider.StatusSuccess:
		updated, changed, err := e.txs.UpdateStatus(ctx, tx.ID, transaction.Update{
			Status:            transaction.StatusSuccess,
			ProviderReference: res.ProviderReference,
			PurchasedCode:     res.PurchasedCode,
		})
		if err != nil {
			return tx, fmt.Errorf("mark success: %w", err)
		}
		if changed {
			e.publish(ctx, notification.KindTransactionSuccess, updated, res.Message)
		}
		return updated, nil

	case provider.StatusFailed:
		updated, changed, err := e.txs.UpdateStatus(ctx, tx.ID, transaction.Update{
			Status:            transaction.StatusFailed,
			ProviderReference: res.ProviderReference,
			Description:       failureDescription(tx.Description, res.Message),
		})
		if err != nil {
			return tx, fmt.Errorf("mark failed: %w", err)
		}
		if updated.Status != transaction.StatusFailed {
			// someone else settled it first
			return updated, nil
		}
		if changed {
			if res.Ambiguous {
				if err := e.txs.MarkReconciliation(ctx, updated.ID, transaction.ReconciliationRequired); err != nil {
					e.logger.Error("could not flag transaction for reconciliation",
						slog.String("external_reference", updated.ExternalReference),
						slog.Bool("reconcile_required", true),
						slog.Any("error", err),
					)
				} else {
					updated.Reconciliation = transaction.ReconciliationRequired
				}
			}
			e.publish(ctx, notification.KindTransactionFailed, updated, res.Message)
		}
		if err := e.refund(ctx, updated); err != nil {
			if markErr := e.txs.MarkReconciliation(ctx, updated.ID, transaction.ReconciliationRequired); markErr == nil {
				updated.Reconciliation = transaction.ReconciliationRequired
			}
			e.logger.Error("refund failed",
				slog.String("external_reference", updated.ExternalReference),
				slog.String("wallet_id", updated.WalletID),
				slog.String("amount", updated.SettledAmount.String()),
				slog.Bool("reconcile_required", true),
				slog.Any("error", err),
			)
			return updated, err
		}
		return updated, nil

	default:
		return tx, nil
	}
}

// refund credits the settled amount back. Duplicates are already-applied refunds.
func (e *Engine) refund(ctx context.Context, tx transaction.Transaction) error {
	_, err := e.wallets.Release(ctx, tx.WalletID, tx.SettledAmount, refundReference(tx.ExternalReference), "Refund: "+tx.Description)
	switch {
	case err == nil:
		e.publish(ctx, notification.KindTransactionRefunded, tx, "")
		return nil
	case errors.Is(err, ledger.ErrDuplicateReference):
		return nil
	default:
		return fmt.Errorf("refund: %w", err)
	}
}

// Purchase runs Initiate, Dispatch and Resolve in order. Resolution is detached
// from the caller's cancellation so a dropped client cannot strand a reservation.
func (e *Engine) Purchase(ctx context.Context, in InitiateInput) (Receipt, error) {
	receipt, err := e.Initiate(ctx, in)
	if err != nil {
		return receipt, err
	}

	res := e.Dispatch(ctx, receipt.Transaction)

	settleCtx := context.WithoutCancel(ctx)
	final, err := e.Resolve(settleCtx, receipt.Transaction, res)
	receipt.Transaction = final
	if final.Status == transaction.StatusFailed {
		if balance, balErr := e.wallets.GetBalance(settleCtx, final.WalletID); balErr == nil {
			receipt.BalanceAfter = balance
		}
	}
	return receipt, err
}

// Requery asks the provider about a pending transaction and resolves the answer.
// Concurrent calls for the same transaction share one provider request.
func (e *Engine) Requery(ctx context.Context, tx transaction.Transaction) (transaction.Transaction, error) {
	if tx.Status != transaction.StatusPending {
		return tx, nil
	}
	v, err, _ := e.requeries.Do(tx.ID, func() (any, error) {
		res, err := e.ask(ctx, tx)
		if err != nil {
			return tx, err
		}
		return e.Resolve(context.WithoutCancel(ctx), tx, res)
	})
	updated, _ := v.(transaction.Transaction)
	if updated.ID == "" {
		updated = tx
	}
	return updated, err
}

func (e *Engine) ask(ctx context.Context, tx transaction.Transaction) (provider.Result, error) {
	f, err := e.fulfiller(tx)
	if err != nil {
		return provider.Result{}, err
	}
	qctx, cancel := context.WithTimeout(ctx, e.opts.StatusRequeryTimeout)
	defer cancel()
	res, err := f.Requery(qctx, tx.ExternalReference)
	if err != nil {
		return provider.Result{}, fmt.Errorf("requery %s: %w", tx.ExternalReference, err)
	}
	return res, nil
}

// Status returns the transaction, refreshing it from the provider first when it is
// still pending. A failed refresh is logged and the stored record returned.
// An empty userID skips the ownership check.
func (e *Engine) Status(ctx context.Context, userID, txID string) (transaction.Transaction, error) {
	tx, err := e.txs.FindByID(ctx, txID)
	if err != nil {
		return transaction.Transaction{}, err
	}
	if userID != "" && tx.UserID != userID {
		return transaction.Transaction{}, transaction.ErrNotFound
	}
	if tx.Status != transaction.StatusPending {
		return tx, nil
	}

	updated, err := e.Requery(ctx, tx)
	if err != nil {
		e.logger.Warn("status requery failed",
			slog.String("external_reference", tx.ExternalReference),
			slog.Any("error", err),
		)
		return tx, nil
	}
	return updated, nil
}

// ForceFail settles a transaction whose outcome never became known. It is
// treated as an ambiguous failure so a late provider success is reconciled.
func (e *Engine) ForceFail(ctx context.Context, tx transaction.Transaction, reason string) (transaction.Transaction, error) {
	return e.Resolve(ctx, tx, provider.Result{Status: provider.StatusFailed, Message: reason, Ambiguous: true})
}

// Reconcile settles a failed transaction flagged for reconciliation against the
// provider's final answer. When the provider delivered after all, the refund is
// taken back with a REDEBIT_ entry and the transaction flips to success.
func (e *Engine) Reconcile(ctx context.Context, tx transaction.Transaction) (transaction.Transaction, error) {
	if tx.Status != transaction.StatusFailed || tx.Reconciliation != transaction.ReconciliationRequired {
		return tx, nil
	}

	// a failed transaction must hold no funds whatever the provider says
	if err := e.refund(ctx, tx); err != nil {
		return tx, err
	}

	res, err := e.ask(ctx, tx)
	if err != nil {
		return tx, err
	}

	switch res.Status {
	case provider.StatusPending:
		return tx, nil

	case provider.StatusFailed:
		if err := e.txs.MarkReconciliation(ctx, tx.ID, transaction.ReconciliationResolved); err != nil {
			return tx, fmt.Errorf("mark resolved: %w", err)
		}
		tx.Reconciliation = transaction.ReconciliationResolved
		e.publish(ctx, notification.KindTransactionReconciled, tx, "provider confirmed failure")
		return tx, nil
	}

	// delivered: take the refund back
	_, err = e.wallets.Reserve(ctx, tx.WalletID, tx.SettledAmount, redebitReference(tx.ExternalReference), "Re-debit: "+tx.Description)
	switch {
	case err == nil, errors.Is(err, ledger.ErrDuplicateReference):
	case errors.Is(err, ledger.ErrInsufficientFunds):
		if markErr := e.txs.MarkReconciliation(ctx, tx.ID, transaction.ReconciliationUnrecoverable); markErr != nil {
			return tx, fmt.Errorf("mark unrecoverable: %w", markErr)
		}
		tx.Reconciliation = transaction.ReconciliationUnrecoverable
		e.logger.Error("delivered order could not be charged again",
			slog.String("transaction_id", tx.ID),
			slog.String("external_reference", tx.ExternalReference),
			slog.String("wallet_id", tx.WalletID),
			slog.String("amount", tx.SettledAmount.String()),
		)
		e.publish(ctx, notification.KindReconciliationFailed, tx, "insufficient funds for re-debit")
		return tx, ErrUnrecoverable
	default:
		return tx, fmt.Errorf("re-debit: %w", err)
	}

	updated, changed, err := e.txs.ConfirmSuccess(ctx, tx.ID, transaction.Update{
		ProviderReference: res.ProviderReference,
		PurchasedCode:     res.PurchasedCode,
		Description:       tx.Description,
	})
	if err != nil {
		return tx, fmt.Errorf("confirm success: %w", err)
	}
	if changed {
		e.publish(ctx, notification.KindTransactionReconciled, updated, "provider confirmed delivery")
	}
	return updated, nil
}

func (e *Engine) publish(ctx context.Context, kind string, tx transaction.Transaction, msg string) {
	if e.notifier == nil {
		return
	}
	event := notification.Event{
		ID:                uuid.NewString(),
		Kind:              kind,
		TransactionID:     tx.ID,
		ExternalReference: tx.ExternalReference,
		UserID:            tx.UserID,
		WalletID:          tx.WalletID,
		ServiceType:       string(tx.ServiceType),
		Provider:          tx.Provider,
		Amount:            tx.SettledAmount,
		Status:            string(tx.Status),
		Reconciliation:    string(tx.Reconciliation),
		Message:           msg,
		OccurredAt:        e.now().UTC(),
	}
	if err := e.notifier.Send(ctx, event); err != nil {
		e.logger.Warn("event publication failed", slog.String("kind", kind), slog.String("transaction_id", tx.ID), slog.Any("error", err))
	}
}

func describe(in InitiateInput) string {
	return fmt.Sprintf("%s %s purchase for %s", strings.ToUpper(in.Provider), in.ServiceType, in.Recipient)
}

func failureDescription(base, msg string) string {
	if msg == "" {
		return base
	}
	return base + " (" + msg + ")"
}

const paramPrefix = "param."

// requestMetadata stores caller metadata plus the provider parameters so that the
// order can be rebuilt from the record alone.
func requestMetadata(in InitiateInput) map[string]string {
	if len(in.Metadata) == 0 && len(in.Params) == 0 && in.Phone == "" {
		return nil
	}
	out := make(map[string]string, len(in.Metadata)+len(in.Params)+1)
	for k, v := range in.Metadata {
		out[k] = v
	}
	for k, v := range in.Params {
		out[paramPrefix+k] = v
	}
	if in.Phone != "" {
		out["phone"] = in.Phone
	}
	return out
}

func providerParams(metadata map[string]string) map[string]string {
	var out map[string]string
	for k, v := range metadata {
		if name, ok := strings.CutPrefix(k, paramPrefix); ok {
			if out == nil {
				out = make(map[string]string)
			}
			out[name] = v
		}
	}
	return out
}
