package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/congo-pay/billpay/internal/money"
)

type refKey struct {
	direction Direction
	reference string
}

// walletState serialises every posting against one wallet.
type walletState struct {
	mu      sync.Mutex
	wallet  Wallet
	entries []Entry
	refs    map[refKey]Posting
}

// MemoryStore is a concurrency-safe in-memory wallet store useful for unit tests
// and local development. Each wallet has its own lock so unrelated wallets never
// contend.
type MemoryStore struct {
	mu      sync.RWMutex
	wallets map[string]*walletState
	byUser  map[string]string
	now     func() time.Time
}

// NewInMemory creates an empty MemoryStore.
func NewInMemory() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[string]*walletState),
		byUser:  make(map[string]string),
		now:     time.Now,
	}
}

func (s *MemoryStore) CreateWallet(_ context.Context, userID, currency string) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, exists := s.byUser[userID]; exists {
		st := s.wallets[id]
		st.mu.Lock()
		defer st.mu.Unlock()
		return st.wallet, ErrWalletExists
	}

	now := s.now().UTC()
	w := Wallet{
		ID:        uuid.NewString(),
		UserID:    userID,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.wallets[w.ID] = &walletState{wallet: w, refs: make(map[refKey]Posting)}
	s.byUser[userID] = w.ID
	return w, nil
}

func (s *MemoryStore) state(walletID string) (*walletState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.wallets[walletID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	return st, nil
}

func (s *MemoryStore) Wallet(_ context.Context, walletID string) (Wallet, error) {
	st, err := s.state(walletID)
	if err != nil {
		return Wallet{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.wallet, nil
}

func (s *MemoryStore) WalletByUser(ctx context.Context, userID string) (Wallet, error) {
	s.mu.RLock()
	id, ok := s.byUser[userID]
	s.mu.RUnlock()
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return s.Wallet(ctx, id)
}

func (s *MemoryStore) GetBalance(ctx context.Context, walletID string) (money.Amount, error) {
	w, err := s.Wallet(ctx, walletID)
	if err != nil {
		return 0, err
	}
	return w.Balance, nil
}

func (s *MemoryStore) Reserve(_ context.Context, walletID string, amount money.Amount, reference, description string) (Posting, error) {
	return s.post(walletID, Debit, amount, reference, description)
}

func (s *MemoryStore) Release(_ context.Context, walletID string, amount money.Amount, reference, description string) (Posting, error) {
	return s.post(walletID, Credit, amount, reference, description)
}

func (s *MemoryStore) post(walletID string, direction Direction, amount money.Amount, reference, description string) (Posting, error) {
	if !amount.IsPositive() {
		return Posting{}, ErrInvalidAmount
	}
	st, err := s.state(walletID)
	if err != nil {
		return Posting{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	key := refKey{direction: direction, reference: reference}
	if existing, ok := st.refs[key]; ok {
		return existing, ErrDuplicateReference
	}

	before := st.wallet.Balance
	if direction == Debit && before < amount {
		return Posting{}, ErrInsufficientFunds
	}
	after := apply(direction, before, amount)

	now := s.now().UTC()
	entry := Entry{
		ID:            ulid.Make().String(),
		WalletID:      walletID,
		UserID:        st.wallet.UserID,
		Direction:     direction,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Reference:     reference,
		Description:   description,
		CreatedAt:     now,
	}
	st.wallet.Balance = after
	st.wallet.UpdatedAt = now
	st.entries = append(st.entries, entry)

	posting := Posting{BalanceBefore: before, BalanceAfter: after, Entry: entry}
	st.refs[key] = posting
	return posting, nil
}

func (s *MemoryStore) Entries(_ context.Context, walletID string) ([]Entry, error) {
	st, err := s.state(walletID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]Entry, len(st.entries))
	copy(out, st.entries)
	return out, nil
}
