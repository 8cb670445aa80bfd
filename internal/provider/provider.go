// Package provider defines the contracts for external billing and payment
// collection backends. Backends declare what they can do through capability tags
// and are selected through a Registry.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/congo-pay/billpay/internal/catalog"
	"github.com/congo-pay/billpay/internal/money"
)

var (
	// ErrAmbiguous marks a call whose outcome is unknown: timeout, connection reset,
	// 5xx or an undecodable response. The order may or may not have been fulfilled.
	ErrAmbiguous = errors.New("provider outcome unknown")
	// ErrCapabilityUnsupported is returned when a backend is wired for a capability it
	// does not declare.
	ErrCapabilityUnsupported = errors.New("provider capability unsupported")
	// ErrUnknownProvider is returned for unregistered backend codes.
	ErrUnknownProvider = errors.New("unknown provider")
)

// Capability is a bit set of the features a backend offers.
type Capability uint8

const (
	CapFulfillment Capability = 1 << iota
	CapPaymentCollection
)

// Has reports whether every bit of want is present.
func (c Capability) Has(want Capability) bool { return c&want == want }

// Provider is implemented by every backend.
type Provider interface {
	Code() string
	Capabilities() Capability
}

// Status is the provider's view of an order.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

// FulfillRequest is one purchase sent to a billing provider. IdempotencyKey is the
// transaction's external reference and is reused for requery.
type FulfillRequest struct {
	ServiceType    catalog.ServiceType
	Provider       string
	Recipient      string
	Amount         money.Amount
	PlanID         string
	Phone          string
	Params         map[string]string
	IdempotencyKey string
}

// Result is the normalised outcome of Fulfill or Requery. Ambiguous is set when the
// status was inferred from a transport failure rather than reported by the provider.
type Result struct {
	Status            Status
	ProviderReference string
	PurchasedCode     string
	Message           string
	Ambiguous         bool
}

// CustomerInfo is returned by customer verification (meter, smartcard, profile).
type CustomerInfo struct {
	CustomerID string            `json:"customer_id"`
	Name       string            `json:"name"`
	Address    string            `json:"address,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Fulfiller is implemented by backends declaring CapFulfillment.
type Fulfiller interface {
	Provider
	Fulfill(ctx context.Context, req FulfillRequest) (Result, error)
	Requery(ctx context.Context, idempotencyKey string) (Result, error)
	VerifyCustomer(ctx context.Context, serviceType catalog.ServiceType, providerCode, customerID string, params map[string]string) (CustomerInfo, error)
}

// CollectRequest starts a wallet top-up with a payment collector.
type CollectRequest struct {
	Reference   string
	Email       string
	Amount      money.Amount
	Currency    string
	CallbackURL string
	Metadata    map[string]string
}

// Checkout tells the client where to complete the payment.
type Checkout struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code,omitempty"`
}

// PaymentStatus is the collector's view of a payment.
type PaymentStatus string

const (
	PaymentSuccess PaymentStatus = "success"
	PaymentPending PaymentStatus = "pending"
	PaymentFailed  PaymentStatus = "failed"
)

// Payment is a verified collection.
type Payment struct {
	Reference string
	Status    PaymentStatus
	Amount    money.Amount
	Currency  string
	Channel   string
	PaidAt    time.Time
	Metadata  map[string]string
}

// Collector is implemented by backends declaring CapPaymentCollection.
type Collector interface {
	Provider
	InitializePayment(ctx context.Context, req CollectRequest) (Checkout, error)
	VerifyPayment(ctx context.Context, reference string) (Payment, error)
}
