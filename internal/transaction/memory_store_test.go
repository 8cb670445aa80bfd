package transaction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/congo-pay/billpay/internal/catalog"
	"github.com/congo-pay/billpay/internal/money"
)

func pendingTx(id, ref string) Transaction {
	return Transaction{
		ID:                id,
		UserID:            "user-1",
		WalletID:          "wallet-1",
		ServiceType:       catalog.ServiceAirtime,
		Provider:          "mtn",
		RequestedAmount:   money.FromMajor(500),
		Discount:          money.FromMajor(15),
		SettledAmount:     money.FromMajor(485),
		Recipient:         "08030000000",
		ExternalReference: ref,
		Status:            StatusPending,
		Description:       "MTN airtime",
	}
}

func TestMemoryStore_CreateRejectsDuplicates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	tx := pendingTx("tx-1", "ref-1")
	tx.ClientReference = "client-1"
	if _, err := s.Create(ctx, tx); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Create(ctx, pendingTx("tx-2", "ref-1")); !errors.Is(err, ErrDuplicateReference) {
		t.Fatalf("expected duplicate external reference, got %v", err)
	}

	again := pendingTx("tx-3", "ref-3")
	again.ClientReference = "client-1"
	if _, err := s.Create(ctx, again); !errors.Is(err, ErrDuplicateReference) {
		t.Fatalf("expected duplicate client reference, got %v", err)
	}

	found, err := s.FindByClientReference(ctx, "user-1", "client-1")
	if err != nil {
		t.Fatalf("find by client reference: %v", err)
	}
	if found.ID != "tx-1" || found.Reconciliation != ReconciliationNone {
		t.Fatalf("unexpected transaction %+v", found)
	}
}

func TestMemoryStore_UpdateStatusOnlyFromPending(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if _, err := s.Create(ctx, pendingTx("tx-1", "ref-1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	tx, changed, err := s.UpdateStatus(ctx, "tx-1", Update{Status: StatusSuccess, ProviderReference: "prov-9", PurchasedCode: "1234-5678"})
	if err != nil || !changed {
		t.Fatalf("expected change, got changed=%v err=%v", changed, err)
	}
	if tx.Status != StatusSuccess || tx.PurchasedCode != "1234-5678" || tx.Description != "MTN airtime" {
		t.Fatalf("unexpected transaction %+v", tx)
	}

	tx, changed, err = s.UpdateStatus(ctx, "tx-1", Update{Status: StatusFailed})
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if changed || tx.Status != StatusSuccess {
		t.Fatalf("terminal status must not change, got %s changed=%v", tx.Status, changed)
	}

	if _, _, err := s.UpdateStatus(ctx, "missing", Update{Status: StatusFailed}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStore_ConfirmSuccessRequiresReconciliation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if _, err := s.Create(ctx, pendingTx("tx-1", "ref-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := s.UpdateStatus(ctx, "tx-1", Update{Status: StatusFailed}); err != nil {
		t.Fatalf("fail: %v", err)
	}

	if _, changed, _ := s.ConfirmSuccess(ctx, "tx-1", Update{}); changed {
		t.Fatalf("confirm must be refused without reconciliation flag")
	}

	if err := s.MarkReconciliation(ctx, "tx-1", ReconciliationRequired); err != nil {
		t.Fatalf("mark: %v", err)
	}
	tx, changed, err := s.ConfirmSuccess(ctx, "tx-1", Update{PurchasedCode: "TOKEN-1"})
	if err != nil || !changed {
		t.Fatalf("expected confirm, got changed=%v err=%v", changed, err)
	}
	if tx.Status != StatusSuccess || tx.Reconciliation != ReconciliationResolved || tx.PurchasedCode != "TOKEN-1" {
		t.Fatalf("unexpected transaction %+v", tx)
	}
}

func TestMemoryStore_ListPendingAndReconciliation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.Create(ctx, pendingTx(id, "ref-"+id)); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if _, _, err := s.UpdateStatus(ctx, "c", Update{Status: StatusFailed}); err != nil {
		t.Fatalf("fail c: %v", err)
	}
	if err := s.MarkReconciliation(ctx, "c", ReconciliationRequired); err != nil {
		t.Fatalf("mark c: %v", err)
	}

	cutoff := time.Now().Add(time.Minute)
	pending, err := s.ListPending(ctx, cutoff, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}
	if limited, _ := s.ListPending(ctx, cutoff, 1); len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
	if none, _ := s.ListPending(ctx, time.Now().Add(-time.Hour), 10); len(none) != 0 {
		t.Fatalf("expected nothing older than an hour, got %d", len(none))
	}

	recon, err := s.ListReconciliation(ctx, cutoff, 10)
	if err != nil {
		t.Fatalf("list reconciliation: %v", err)
	}
	if len(recon) != 1 || recon[0].ID != "c" {
		t.Fatalf("unexpected reconciliation list %+v", recon)
	}

	n, err := s.IncrementSweepAttempts(ctx, "a")
	if err != nil || n != 1 {
		t.Fatalf("expected 1 attempt, got %d (%v)", n, err)
	}
}
