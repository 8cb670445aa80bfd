package wallet

import (
	"time"

	"github.com/congo-pay/billpay/internal/ledger"
	"github.com/congo-pay/billpay/internal/money"
)

// Balance encapsulates available funds for a wallet.
type Balance struct {
	WalletID string       `json:"wallet_id"`
	Amount   money.Amount `json:"balance"`
	Currency string       `json:"currency"`
	AsOf     time.Time    `json:"timestamp"`
}

// Statement is a page of ledger entries, newest first.
type Statement struct {
	WalletID string         `json:"wallet_id"`
	Balance  money.Amount   `json:"balance"`
	Entries  []ledger.Entry `json:"entries"`
	Total    int            `json:"total"`
}

// Gap points at an entry that does not chain from its predecessor or whose
// amounts do not add up.
type Gap struct {
	Index   int    `json:"index"`
	EntryID string `json:"entry_id"`
	Reason  string `json:"reason"`
}

// AuditReport compares the stored balance with a replay of the ledger.
type AuditReport struct {
	WalletID   string       `json:"wallet_id"`
	Balance    money.Amount `json:"balance"`
	Folded     money.Amount `json:"folded"`
	Entries    int          `json:"entries"`
	Consistent bool         `json:"consistent"`
	Gaps       []Gap        `json:"gaps,omitempty"`
	CheckedAt  time.Time    `json:"checked_at"`
}
