package notification

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/congo-pay/billpay/internal/money"
)

const (
	KindTransactionSuccess    = "transaction.success"
	KindTransactionFailed     = "transaction.failed"
	KindTransactionRefunded   = "transaction.refunded"
	KindTransactionReconciled = "transaction.reconciled"
	// KindReconciliationFailed is raised when a delivered order could not be charged
	// again after its refund. It needs an operator.
	KindReconciliationFailed = "transaction.reconciliation_failed"
	KindWalletFunded         = "wallet.funded"
)

// Event describes a settlement outcome published to downstream systems.
type Event struct {
	ID                string       `json:"id" bson:"_id"`
	Kind              string       `json:"kind" bson:"kind"`
	TransactionID     string       `json:"transaction_id,omitempty" bson:"transaction_id,omitempty"`
	ExternalReference string       `json:"external_reference,omitempty" bson:"external_reference,omitempty"`
	UserID            string       `json:"user_id" bson:"user_id"`
	WalletID          string       `json:"wallet_id,omitempty" bson:"wallet_id,omitempty"`
	ServiceType       string       `json:"service_type,omitempty" bson:"service_type,omitempty"`
	Provider          string       `json:"provider,omitempty" bson:"provider,omitempty"`
	Amount            money.Amount `json:"amount" bson:"amount_minor"`
	Status            string       `json:"status,omitempty" bson:"status,omitempty"`
	Reconciliation    string       `json:"reconciliation,omitempty" bson:"reconciliation,omitempty"`
	Message           string       `json:"message,omitempty" bson:"message,omitempty"`
	OccurredAt        time.Time    `json:"occurred_at" bson:"occurred_at"`
}

// Notifier delivers events to downstream systems.
type Notifier interface {
	Send(ctx context.Context, event Event) error
}

// LoggerNotifier writes events to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the event to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, event Event) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("settlement event",
		slog.String("kind", event.Kind),
		slog.String("transaction_id", event.TransactionID),
		slog.String("external_reference", event.ExternalReference),
		slog.String("user_id", event.UserID),
		slog.String("amount", event.Amount.String()),
		slog.String("status", event.Status),
	)
	return nil
}

// Multi fans an event out to every sink. All sinks are attempted; their errors are joined.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Send(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
