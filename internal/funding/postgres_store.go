package funding

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresClaimStore records claims in the wallet_topups table. The primary key
// on reference makes the first claim win across instances.
type PostgresClaimStore struct {
	db *pgxpool.Pool
}

func NewPostgresClaimStore(db *pgxpool.Pool) *PostgresClaimStore {
	return &PostgresClaimStore{db: db}
}

func (s *PostgresClaimStore) Claim(ctx context.Context, reference, walletID string) (string, error) {
	const claim = `
        INSERT INTO wallet_topups (reference, wallet_id, claimed_at)
        VALUES ($1, $2, now())
        ON CONFLICT (reference) DO UPDATE SET reference = EXCLUDED.reference
        RETURNING wallet_id`

	var owner string
	if err := s.db.QueryRow(ctx, claim, reference, walletID).Scan(&owner); err != nil {
		return "", fmt.Errorf("claim top-up %s: %w", reference, err)
	}
	return owner, nil
}
