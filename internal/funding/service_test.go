package funding

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/congo-pay/billpay/internal/ledger"
	"github.com/congo-pay/billpay/internal/logging"
	"github.com/congo-pay/billpay/internal/money"
	"github.com/congo-pay/billpay/internal/notification"
	"github.com/congo-pay/billpay/internal/provider"
	"github.com/congo-pay/billpay/internal/provider/paystack"
	"github.com/congo-pay/billpay/internal/provider/simulated"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notification.Event
}

func (r *recordingNotifier) Send(_ context.Context, e notification.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

type fixture struct {
	store    *ledger.MemoryStore
	backend  *simulated.Backend
	notifier *recordingNotifier
	service  *Service
	wallet   ledger.Wallet
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := ledger.NewInMemory()
	backend := simulated.New()
	registry := provider.NewRegistry(backend)
	if err := registry.SetCollector(simulated.Code); err != nil {
		t.Fatalf("set collector: %v", err)
	}
	notifier := &recordingNotifier{}
	svc, err := NewService(store, NewMemoryClaimStore(), registry, notifier, logging.Discard(), "https://app.local/topups/callback")
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	w, err := store.CreateWallet(context.Background(), uuid.NewString(), "NGN")
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	return fixture{store: store, backend: backend, notifier: notifier, service: svc, wallet: w}
}

func TestTopUpCreditsOnceWhenPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	topUp, err := f.service.InitializeTopUp(ctx, TopUpInput{UserID: f.wallet.UserID, Amount: money.FromMajor(5_000), Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if topUp.AuthorizationURL == "" || topUp.WalletID != f.wallet.ID || topUp.Provider != simulated.Code {
		t.Fatalf("unexpected checkout %+v", topUp)
	}

	pending, err := f.service.VerifyTopUp(ctx, f.wallet.UserID, topUp.Reference)
	if err != nil {
		t.Fatalf("verify pending: %v", err)
	}
	if pending.Credited || pending.Status != provider.PaymentPending {
		t.Fatalf("expected pending without credit, got %+v", pending)
	}

	f.backend.MarkPaid(topUp.Reference)

	res, err := f.service.VerifyTopUp(ctx, f.wallet.UserID, topUp.Reference)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Credited || res.WalletBalance != money.FromMajor(5_000) {
		t.Fatalf("expected credit of 5000.00, got %+v", res)
	}

	again, err := f.service.VerifyTopUp(ctx, f.wallet.UserID, topUp.Reference)
	if err != nil {
		t.Fatalf("verify again: %v", err)
	}
	if again.Credited || !again.AlreadyFunded || again.WalletBalance != money.FromMajor(5_000) {
		t.Fatalf("expected idempotent verification, got %+v", again)
	}

	entries, err := f.store.Entries(ctx, f.wallet.ID)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Reference != "TOPUP_"+topUp.Reference {
		t.Fatalf("expected one top-up entry, got %+v", entries)
	}
	if len(f.notifier.events) != 1 || f.notifier.events[0].Kind != notification.KindWalletFunded {
		t.Fatalf("expected one wallet.funded event, got %+v", f.notifier.events)
	}
}

func TestVerifyTopUpRejectsOtherWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	topUp, err := f.service.InitializeTopUp(ctx, TopUpInput{UserID: f.wallet.UserID, Amount: money.FromMajor(100), Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	f.backend.MarkPaid(topUp.Reference)

	other, err := f.store.CreateWallet(ctx, uuid.NewString(), "NGN")
	if err != nil {
		t.Fatalf("create other wallet: %v", err)
	}
	if _, err := f.service.VerifyTopUp(ctx, other.UserID, topUp.Reference); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	balance, _ := f.store.GetBalance(ctx, other.ID)
	if balance != 0 {
		t.Fatalf("expected other wallet untouched, got %s", balance)
	}
}

func TestInitializeTopUpValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.service.InitializeTopUp(ctx, TopUpInput{UserID: f.wallet.UserID, Amount: 0, Email: "ada@example.com"}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := f.service.InitializeTopUp(ctx, TopUpInput{UserID: f.wallet.UserID, Amount: money.FromMajor(10)}); !errors.Is(err, ErrEmailRequired) {
		t.Fatalf("expected ErrEmailRequired, got %v", err)
	}
	if _, err := f.service.InitializeTopUp(ctx, TopUpInput{UserID: "nobody", Amount: money.FromMajor(10), Email: "x@example.com"}); !errors.Is(err, ledger.ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
}

func TestTopUpWithoutCollector(t *testing.T) {
	store := ledger.NewInMemory()
	svc, err := NewService(store, NewMemoryClaimStore(), provider.NewRegistry(), nil, logging.Discard(), "")
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	w, _ := store.CreateWallet(context.Background(), "u1", "NGN")
	_, err = svc.InitializeTopUp(context.Background(), TopUpInput{UserID: w.UserID, Amount: money.FromMajor(10), Email: "x@example.com"})
	if err == nil {
		t.Fatal("expected error without an active collector")
	}
}

func TestVerifyTopUpWithoutWalletMetadataCreditsNobody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":true,"data":{"status":"success","reference":"TOPUP-X","amount":500000,"currency":"NGN","metadata":""}}`))
	}))
	defer srv.Close()

	store := ledger.NewInMemory()
	registry := provider.NewRegistry(paystack.New(srv.URL, "sk_test"))
	if err := registry.SetCollector(paystack.Code); err != nil {
		t.Fatalf("set collector: %v", err)
	}
	svc, err := NewService(store, NewMemoryClaimStore(), registry, nil, logging.Discard(), "")
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	ctx := context.Background()
	for _, user := range []string{"alice", "bob"} {
		w, err := store.CreateWallet(ctx, user, "NGN")
		if err != nil {
			t.Fatalf("create wallet: %v", err)
		}
		if _, err := svc.VerifyTopUp(ctx, user, "TOPUP-X"); !errors.Is(err, ErrNotOwner) {
			t.Fatalf("%s: expected ErrNotOwner, got %v", user, err)
		}
		if balance, _ := store.GetBalance(ctx, w.ID); balance != 0 {
			t.Fatalf("%s: expected no credit, got %s", user, balance)
		}
	}
}

// scriptedCollector answers every verification with payment.
type scriptedCollector struct {
	mu      sync.Mutex
	payment provider.Payment
}

func (*scriptedCollector) Code() string { return "scripted" }

func (*scriptedCollector) Capabilities() provider.Capability { return provider.CapPaymentCollection }

func (*scriptedCollector) InitializePayment(_ context.Context, req provider.CollectRequest) (provider.Checkout, error) {
	return provider.Checkout{Reference: req.Reference}, nil
}

func (c *scriptedCollector) VerifyPayment(context.Context, string) (provider.Payment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.payment, nil
}

func (c *scriptedCollector) set(p provider.Payment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payment = p
}

func TestTopUpReferenceCreditsOneWallet(t *testing.T) {
	store := ledger.NewInMemory()
	collector := &scriptedCollector{}
	registry := provider.NewRegistry(collector)
	if err := registry.SetCollector(collector.Code()); err != nil {
		t.Fatalf("set collector: %v", err)
	}
	svc, err := NewService(store, NewMemoryClaimStore(), registry, nil, logging.Discard(), "")
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	ctx := context.Background()
	alice, _ := store.CreateWallet(ctx, "alice", "NGN")
	bob, _ := store.CreateWallet(ctx, "bob", "NGN")

	paid := provider.Payment{Reference: "TOPUP-Y", Status: provider.PaymentSuccess, Amount: money.FromMajor(5_000), Currency: "NGN"}
	paid.Metadata = map[string]string{"wallet_id": alice.ID}
	collector.set(paid)
	if res, err := svc.VerifyTopUp(ctx, "alice", "TOPUP-Y"); err != nil || !res.Credited {
		t.Fatalf("expected alice credited, got %+v %v", res, err)
	}

	// same reference now reported for bob's wallet
	paid.Metadata = map[string]string{"wallet_id": bob.ID}
	collector.set(paid)
	if _, err := svc.VerifyTopUp(ctx, "bob", "TOPUP-Y"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner for a claimed reference, got %v", err)
	}
	if balance, _ := store.GetBalance(ctx, bob.ID); balance != 0 {
		t.Fatalf("expected bob untouched, got %s", balance)
	}
	if balance, _ := store.GetBalance(ctx, alice.ID); balance != money.FromMajor(5_000) {
		t.Fatalf("expected alice credited once, got %s", balance)
	}
}

func TestMemoryClaimStoreFirstClaimWins(t *testing.T) {
	s := NewMemoryClaimStore()
	ctx := context.Background()
	if owner, _ := s.Claim(ctx, "TOPUP-Z", "w-1"); owner != "w-1" {
		t.Fatalf("expected first claim to win, got %s", owner)
	}
	if owner, _ := s.Claim(ctx, "TOPUP-Z", "w-2"); owner != "w-1" {
		t.Fatalf("expected recorded owner, got %s", owner)
	}
	if owner, _ := s.Claim(ctx, "TOPUP-Z", "w-1"); owner != "w-1" {
		t.Fatalf("expected repeat claim by owner to succeed, got %s", owner)
	}
}
