package transaction

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps transactions in maps guarded by a single mutex.
type MemoryStore struct {
	mu       sync.RWMutex
	byID     map[string]Transaction
	byExtRef map[string]string
	byClient map[string]string
	now      func() time.Time
}

// NewMemoryStore returns an empty in-memory transaction store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]Transaction),
		byExtRef: make(map[string]string),
		byClient: make(map[string]string),
		now:      time.Now,
	}
}

func clientKey(userID, ref string) string { return userID + "\x00" + ref }

func (s *MemoryStore) Create(_ context.Context, tx Transaction) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byExtRef[tx.ExternalReference]; exists {
		return Transaction{}, ErrDuplicateReference
	}
	if tx.ClientReference != "" {
		if _, exists := s.byClient[clientKey(tx.UserID, tx.ClientReference)]; exists {
			return Transaction{}, ErrDuplicateReference
		}
	}
	if _, exists := s.byID[tx.ID]; exists {
		return Transaction{}, ErrDuplicateReference
	}

	now := s.now().UTC()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now
	if tx.Reconciliation == "" {
		tx.Reconciliation = ReconciliationNone
	}
	tx.Metadata = copyMetadata(tx.Metadata)

	s.byID[tx.ID] = tx
	s.byExtRef[tx.ExternalReference] = tx.ID
	if tx.ClientReference != "" {
		s.byClient[clientKey(tx.UserID, tx.ClientReference)] = tx.ID
	}
	return tx, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, u Update) (Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.byID[id]
	if !ok {
		return Transaction{}, false, ErrNotFound
	}
	if tx.Status != StatusPending || u.Status == StatusPending {
		return tx, false, nil
	}
	tx.apply(u, s.now().UTC())
	s.byID[id] = tx
	return tx, true, nil
}

func (s *MemoryStore) ConfirmSuccess(_ context.Context, id string, u Update) (Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.byID[id]
	if !ok {
		return Transaction{}, false, ErrNotFound
	}
	if tx.Status != StatusFailed || tx.Reconciliation != ReconciliationRequired {
		return tx, false, nil
	}
	u.Status = StatusSuccess
	tx.apply(u, s.now().UTC())
	tx.Reconciliation = ReconciliationResolved
	s.byID[id] = tx
	return tx, true, nil
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.byID[id]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return tx, nil
}

func (s *MemoryStore) FindByExternalReference(ctx context.Context, ref string) (Transaction, error) {
	s.mu.RLock()
	id, ok := s.byExtRef[ref]
	s.mu.RUnlock()
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return s.FindByID(ctx, id)
}

func (s *MemoryStore) FindByClientReference(ctx context.Context, userID, ref string) (Transaction, error) {
	s.mu.RLock()
	id, ok := s.byClient[clientKey(userID, ref)]
	s.mu.RUnlock()
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return s.FindByID(ctx, id)
}

func (s *MemoryStore) ListPending(_ context.Context, olderThan time.Time, limit int) ([]Transaction, error) {
	return s.list(limit, func(tx Transaction) bool {
		return tx.Status == StatusPending && tx.CreatedAt.Before(olderThan)
	}), nil
}

func (s *MemoryStore) ListReconciliation(_ context.Context, olderThan time.Time, limit int) ([]Transaction, error) {
	return s.list(limit, func(tx Transaction) bool {
		return tx.Status == StatusFailed && tx.Reconciliation == ReconciliationRequired && tx.UpdatedAt.Before(olderThan)
	}), nil
}

func (s *MemoryStore) list(limit int, match func(Transaction) bool) []Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Transaction
	for _, tx := range s.byID {
		if match(tx) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryStore) IncrementSweepAttempts(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.byID[id]
	if !ok {
		return 0, ErrNotFound
	}
	tx.SweepAttempts++
	s.byID[id] = tx
	return tx.SweepAttempts, nil
}

func (s *MemoryStore) MarkReconciliation(_ context.Context, id string, state Reconciliation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	tx.Reconciliation = state
	tx.UpdatedAt = s.now().UTC()
	s.byID[id] = tx
	return nil
}

func copyMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
