package wallet

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/congo-pay/billpay/internal/ledger"
	"github.com/congo-pay/billpay/internal/money"
)

const (
	defaultStatementLimit = 50
	maxStatementLimit     = 200
)

// ErrInvalidUser rejects provisioning without a user id.
var ErrInvalidUser = errors.New("user id is required")

// Service exposes wallet read operations and provisioning over the ledger store.
type Service struct {
	store    ledger.Store
	currency string
}

// NewService builds a wallet service instance. currency is used when provisioning
// does not name one.
func NewService(store ledger.Store, currency string) *Service {
	if currency == "" {
		currency = "NGN"
	}
	return &Service{store: store, currency: currency}
}

// Provision creates the user's wallet with a zero balance. Calling it again for
// the same user returns the existing wallet with created=false.
func (s *Service) Provision(ctx context.Context, userID, currency string) (w ledger.Wallet, created bool, err error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ledger.Wallet{}, false, ErrInvalidUser
	}
	if currency == "" {
		currency = s.currency
	}
	w, err = s.store.CreateWallet(ctx, userID, strings.ToUpper(currency))
	if errors.Is(err, ledger.ErrWalletExists) {
		return w, false, nil
	}
	if err != nil {
		return ledger.Wallet{}, false, err
	}
	return w, true, nil
}

// Get retrieves a wallet by id.
func (s *Service) Get(ctx context.Context, id string) (ledger.Wallet, error) {
	return s.store.Wallet(ctx, id)
}

// GetByUser retrieves the wallet owned by userID.
func (s *Service) GetByUser(ctx context.Context, userID string) (ledger.Wallet, error) {
	return s.store.WalletByUser(ctx, userID)
}

// Balance returns the current balance of the user's wallet.
func (s *Service) Balance(ctx context.Context, userID string) (Balance, error) {
	w, err := s.store.WalletByUser(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{WalletID: w.ID, Amount: w.Balance, Currency: w.Currency, AsOf: time.Now().UTC()}, nil
}

// Statement returns up to limit entries of the user's wallet, newest first,
// skipping offset entries.
func (s *Service) Statement(ctx context.Context, userID string, limit, offset int) (Statement, error) {
	w, err := s.store.WalletByUser(ctx, userID)
	if err != nil {
		return Statement{}, err
	}
	entries, err := s.store.Entries(ctx, w.ID)
	if err != nil {
		return Statement{}, err
	}

	if limit <= 0 {
		limit = defaultStatementLimit
	}
	if limit > maxStatementLimit {
		limit = maxStatementLimit
	}
	if offset < 0 {
		offset = 0
	}

	page := make([]ledger.Entry, 0, limit)
	for i := len(entries) - 1 - offset; i >= 0 && len(page) < limit; i-- {
		page = append(page, entries[i])
	}
	return Statement{WalletID: w.ID, Balance: w.Balance, Entries: page, Total: len(entries)}, nil
}

// Audit replays the wallet's ledger and compares it with the stored balance. It is
// the out-of-band check for reservations whose compensation failed.
func (s *Service) Audit(ctx context.Context, walletID string) (AuditReport, error) {
	w, err := s.store.Wallet(ctx, walletID)
	if err != nil {
		return AuditReport{}, err
	}
	entries, err := s.store.Entries(ctx, walletID)
	if err != nil {
		return AuditReport{}, err
	}

	report := AuditReport{
		WalletID:  w.ID,
		Balance:   w.Balance,
		Folded:    ledger.Fold(entries),
		Entries:   len(entries),
		CheckedAt: time.Now().UTC(),
	}

	var previous money.Amount
	for i, e := range entries {
		var want money.Amount
		if e.Direction == ledger.Debit {
			want = e.BalanceBefore.Sub(e.Amount)
		} else {
			want = e.BalanceBefore.Add(e.Amount)
		}
		switch {
		case e.BalanceBefore != previous:
			report.Gaps = append(report.Gaps, Gap{Index: i, EntryID: e.ID, Reason: "balance_before does not match previous balance_after"})
		case e.BalanceAfter != want:
			report.Gaps = append(report.Gaps, Gap{Index: i, EntryID: e.ID, Reason: "balance_after does not match amount"})
		case e.BalanceAfter.IsNegative():
			report.Gaps = append(report.Gaps, Gap{Index: i, EntryID: e.ID, Reason: "negative balance"})
		}
		previous = e.BalanceAfter
	}

	report.Consistent = len(report.Gaps) == 0 && report.Folded == report.Balance
	return report, nil
}

// AuditUser runs Audit on the wallet owned by userID.
func (s *Service) AuditUser(ctx context.Context, userID string) (AuditReport, error) {
	w, err := s.store.WalletByUser(ctx, userID)
	if err != nil {
		return AuditReport{}, err
	}
	return s.Audit(ctx, w.ID)
}
