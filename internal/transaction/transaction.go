// Package transaction stores purchase orders and enforces their one-way status
// transitions.
package transaction

import (
	"context"
	"errors"
	"time"

	"github.com/congo-pay/billpay/internal/catalog"
	"github.com/congo-pay/billpay/internal/money"
)

var (
	// ErrNotFound is returned when no transaction matches the lookup.
	ErrNotFound = errors.New("transaction not found")
	// ErrDuplicateReference is returned by Create when the external reference, or the
	// caller's client reference for the same user, is already taken.
	ErrDuplicateReference = errors.New("duplicate transaction reference")
)

// Status is the settlement state of a purchase.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Terminal reports whether no further status change is expected.
func (s Status) Terminal() bool { return s == StatusSuccess || s == StatusFailed }

// Reconciliation tracks follow-up work for failures whose provider outcome was unknown.
type Reconciliation string

const (
	ReconciliationNone          Reconciliation = "none"
	ReconciliationRequired      Reconciliation = "required"
	ReconciliationResolved      Reconciliation = "resolved"
	ReconciliationUnrecoverable Reconciliation = "unrecoverable"
)

// Transaction is one purchase of a bill-payment product.
type Transaction struct {
	ID                string              `json:"id"`
	UserID            string              `json:"user_id"`
	WalletID          string              `json:"wallet_id"`
	ServiceType       catalog.ServiceType `json:"service_type"`
	Provider          string              `json:"provider"`
	RequestedAmount   money.Amount        `json:"requested_amount"`
	Discount          money.Amount        `json:"discount"`
	SettledAmount     money.Amount        `json:"settled_amount"`
	Recipient         string              `json:"recipient"`
	PlanID            string              `json:"plan_id,omitempty"`
	ExternalReference string              `json:"external_reference"`
	ClientReference   string              `json:"client_reference,omitempty"`
	ProviderReference string              `json:"provider_reference,omitempty"`
	Backend           string              `json:"backend,omitempty"`
	Status            Status              `json:"status"`
	PurchasedCode     string              `json:"purchased_code,omitempty"`
	Description       string              `json:"description"`
	Metadata          map[string]string   `json:"metadata,omitempty"`
	SweepAttempts     int                 `json:"sweep_attempts"`
	Reconciliation    Reconciliation      `json:"reconciliation"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// Update carries the fields written alongside a status change. Empty strings keep
// the stored value.
type Update struct {
	Status            Status
	ProviderReference string
	PurchasedCode     string
	Description       string
}

// Store persists transactions.
type Store interface {
	Create(ctx context.Context, tx Transaction) (Transaction, error)
	// UpdateStatus moves a pending transaction to u.Status. When the stored status is
	// no longer pending it returns the stored record with changed=false.
	UpdateStatus(ctx context.Context, id string, u Update) (tx Transaction, changed bool, err error)
	FindByID(ctx context.Context, id string) (Transaction, error)
	FindByExternalReference(ctx context.Context, ref string) (Transaction, error)
	FindByClientReference(ctx context.Context, userID, ref string) (Transaction, error)
	ListPending(ctx context.Context, olderThan time.Time, limit int) ([]Transaction, error)
	IncrementSweepAttempts(ctx context.Context, id string) (int, error)
	MarkReconciliation(ctx context.Context, id string, state Reconciliation) error
	ListReconciliation(ctx context.Context, olderThan time.Time, limit int) ([]Transaction, error)
	// ConfirmSuccess flips a failed transaction awaiting reconciliation to success.
	// Any other current state is left alone and reported with changed=false.
	ConfirmSuccess(ctx context.Context, id string, u Update) (tx Transaction, changed bool, err error)
}

func (t *Transaction) apply(u Update, now time.Time) {
	t.Status = u.Status
	if u.ProviderReference != "" {
		t.ProviderReference = u.ProviderReference
	}
	if u.PurchasedCode != "" {
		t.PurchasedCode = u.PurchasedCode
	}
	if u.Description != "" {
		t.Description = u.Description
	}
	t.UpdatedAt = now
}
