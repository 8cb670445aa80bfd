package ledger

import (
	"context"

	"github.com/oklog/ulid/v2"

	"github.com/congo-pay/billpay/internal/money"
)

// Seed credits a wallet through Release so the ledger fold still matches the
// balance. Works against any Store.
func Seed(ctx context.Context, s Store, walletID string, amount money.Amount) (Posting, error) {
	return s.Release(ctx, walletID, amount, "SEED_"+ulid.Make().String(), "test funding")
}

// OverwriteBalance forces the stored balance of an in-memory wallet without
// writing an entry. Only used to simulate drift in audit tests.
func OverwriteBalance(s Store, walletID string, balance money.Amount) {
	mem, ok := s.(*MemoryStore)
	if !ok {
		return
	}
	st, err := mem.state(walletID)
	if err != nil {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.wallet.Balance = balance
}
