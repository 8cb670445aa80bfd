// Package ledger owns wallets and their append-only ledger entries. Reserve and
// Release are the only operations that move a wallet balance.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/congo-pay/billpay/internal/money"
)

var (
	// ErrInsufficientFunds occurs when the wallet balance cannot cover a reservation.
	// The wallet is left untouched.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrWalletNotFound is returned for unknown wallet or user identifiers.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrDuplicateReference indicates an entry with the same direction and reference
	// already exists for the wallet. The original posting accompanies the error so the
	// caller can treat the operation as already applied.
	ErrDuplicateReference = errors.New("duplicate ledger reference")

	// ErrInvalidAmount rejects zero or negative postings.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrWalletExists is returned by CreateWallet when the user already owns a wallet.
	ErrWalletExists = errors.New("wallet already exists")
)

// Direction tells whether an entry added to or removed from the balance.
type Direction string

const (
	Credit Direction = "credit"
	Debit  Direction = "debit"
)

// Wallet is a user's prepaid balance.
type Wallet struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	Balance   money.Amount `json:"balance"`
	Currency  string       `json:"currency"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Entry is an immutable record of one balance movement.
type Entry struct {
	ID            string       `json:"id"`
	WalletID      string       `json:"wallet_id"`
	UserID        string       `json:"user_id"`
	Direction     Direction    `json:"direction"`
	Amount        money.Amount `json:"amount"`
	BalanceBefore money.Amount `json:"balance_before"`
	BalanceAfter  money.Amount `json:"balance_after"`
	Reference     string       `json:"reference"`
	Description   string       `json:"description"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Posting is the outcome of a Reserve or Release.
type Posting struct {
	BalanceBefore money.Amount
	BalanceAfter  money.Amount
	Entry         Entry
}

// Store is implemented by wallet backends. Reserve and Release are linearizable
// per wallet.
type Store interface {
	CreateWallet(ctx context.Context, userID, currency string) (Wallet, error)
	Wallet(ctx context.Context, walletID string) (Wallet, error)
	WalletByUser(ctx context.Context, userID string) (Wallet, error)
	GetBalance(ctx context.Context, walletID string) (money.Amount, error)
	Reserve(ctx context.Context, walletID string, amount money.Amount, reference, description string) (Posting, error)
	Release(ctx context.Context, walletID string, amount money.Amount, reference, description string) (Posting, error)
	Entries(ctx context.Context, walletID string) ([]Entry, error)
}

// Fold replays entries in order starting from zero. For a consistent wallet the
// result equals the stored balance.
func Fold(entries []Entry) money.Amount {
	var balance money.Amount
	for _, e := range entries {
		switch e.Direction {
		case Credit:
			balance = balance.Add(e.Amount)
		case Debit:
			balance = balance.Sub(e.Amount)
		}
	}
	return balance
}

func apply(direction Direction, before, amount money.Amount) money.Amount {
	if direction == Debit {
		return before.Sub(amount)
	}
	return before.Add(amount)
}
