// Package simulated is an in-process backend offering both fulfillment and payment
// collection. It approves everything by default; tests script other outcomes.
package simulated

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/billpay/internal/catalog"
	"github.com/congo-pay/billpay/internal/money"
	"github.com/congo-pay/billpay/internal/provider"
)

// Code is the registry code of the simulated backend.
const Code = "simulated"

// FulfillFunc decides the outcome of a Fulfill call.
type FulfillFunc func(ctx context.Context, req provider.FulfillRequest) (provider.Result, error)

// Backend records every order it receives so Requery can answer for it.
type Backend struct {
	mu        sync.Mutex
	fulfill   FulfillFunc
	orders    map[string]provider.Result
	requeries map[string]provider.Result
	payments  map[string]provider.Payment
	calls     int
}

// New returns a backend that approves every order.
func New() *Backend {
	return &Backend{
		orders:    make(map[string]provider.Result),
		requeries: make(map[string]provider.Result),
		payments:  make(map[string]provider.Payment),
	}
}

func (b *Backend) Code() string { return Code }

func (b *Backend) Capabilities() provider.Capability {
	return provider.CapFulfillment | provider.CapPaymentCollection
}

// OnFulfill replaces the fulfillment decision.
func (b *Backend) OnFulfill(fn FulfillFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fulfill = fn
}

// SetRequery scripts the answer the next requeries of key will get.
func (b *Backend) SetRequery(key string, res provider.Result) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requeries[key] = res
}

// Calls returns how many times Fulfill was invoked.
func (b *Backend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *Backend) Fulfill(ctx context.Context, req provider.FulfillRequest) (provider.Result, error) {
	b.mu.Lock()
	b.calls++
	fn := b.fulfill
	b.mu.Unlock()

	var (
		res provider.Result
		err error
	)
	if fn != nil {
		res, err = fn(ctx, req)
	} else {
		res = approve(req)
	}
	if err != nil {
		return provider.Result{}, err
	}

	b.mu.Lock()
	b.orders[req.IdempotencyKey] = res
	b.mu.Unlock()
	return res, nil
}

func approve(req provider.FulfillRequest) provider.Result {
	res := provider.Result{
		Status:            provider.StatusSuccess,
		ProviderReference: uuid.NewString(),
		Message:           "TRANSACTION SUCCESSFUL",
	}
	if req.ServiceType == catalog.ServiceElectricity {
		res.PurchasedCode = fmt.Sprintf("Token : %s", uuid.NewString()[:20])
	}
	return res
}

func (b *Backend) Requery(_ context.Context, key string) (provider.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if res, ok := b.requeries[key]; ok {
		return res, nil
	}
	if res, ok := b.orders[key]; ok {
		return res, nil
	}
	return provider.Result{Status: provider.StatusFailed, Message: "REQUEST ID NOT FOUND"}, nil
}

func (b *Backend) VerifyCustomer(_ context.Context, _ catalog.ServiceType, providerCode, customerID string, _ map[string]string) (provider.CustomerInfo, error) {
	return provider.CustomerInfo{
		CustomerID: customerID,
		Name:       "Test Customer",
		Extra:      map[string]string{"provider": providerCode},
	}, nil
}

func (b *Backend) InitializePayment(_ context.Context, req provider.CollectRequest) (provider.Checkout, error) {
	if !req.Amount.IsPositive() {
		return provider.Checkout{}, money.ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payments[req.Reference] = provider.Payment{
		Reference: req.Reference,
		Status:    provider.PaymentPending,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Metadata:  req.Metadata,
	}
	return provider.Checkout{
		Reference:        req.Reference,
		AuthorizationURL: "https://checkout.simulated.local/" + req.Reference,
		AccessCode:       uuid.NewString(),
	}, nil
}

// MarkPaid completes a checkout started with InitializePayment.
func (b *Backend) MarkPaid(reference string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.payments[reference]
	if !ok {
		return
	}
	p.Status = provider.PaymentSuccess
	p.Channel = "card"
	p.PaidAt = time.Now().UTC()
	b.payments[reference] = p
}

func (b *Backend) VerifyPayment(_ context.Context, reference string) (provider.Payment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.payments[reference]
	if !ok {
		return provider.Payment{Reference: reference, Status: provider.PaymentFailed}, nil
	}
	return p, nil
}
