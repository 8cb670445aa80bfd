package funding

import (
	"context"
	"sync"
)

// ClaimStore binds each collector reference to the single wallet it may credit.
// Claim records walletID as the owner of reference on first use and returns the
// recorded owner on every call.
type ClaimStore interface {
	Claim(ctx context.Context, reference, walletID string) (owner string, err error)
}

// MemoryClaimStore keeps claims in process memory.
type MemoryClaimStore struct {
	mu     sync.Mutex
	owners map[string]string
}

// NewMemoryClaimStore returns an empty in-memory claim store.
func NewMemoryClaimStore() *MemoryClaimStore {
	return &MemoryClaimStore{owners: make(map[string]string)}
}

func (s *MemoryClaimStore) Claim(_ context.Context, reference, walletID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, ok := s.owners[reference]; ok {
		return owner, nil
	}
	s.owners[reference] = walletID
	return walletID, nil
}
