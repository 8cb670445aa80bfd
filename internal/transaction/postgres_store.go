package transaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congo-pay/billpay/internal/catalog"
	"github.com/congo-pay/billpay/internal/money"
)

const uniqueViolation = "23505"

// PostgresStore persists transactions in PostgreSQL. Status guards are expressed in
// the UPDATE predicates so concurrent resolvers cannot both win.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed transaction store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const columns = `id, user_id, wallet_id, service_type, provider, requested_minor, discount_minor, settled_minor,
        recipient, plan_id, external_reference, COALESCE(client_reference, ''), provider_reference, backend, status,
        purchased_code, description, metadata, sweep_attempts, reconciliation, created_at, updated_at`

func scan(row pgx.Row) (Transaction, error) {
	var (
		tx                           Transaction
		serviceType, status, recon   string
		requested, discount, settled int64
		metadata                     []byte
	)
	err := row.Scan(&tx.ID, &tx.UserID, &tx.WalletID, &serviceType, &tx.Provider, &requested, &discount, &settled,
		&tx.Recipient, &tx.PlanID, &tx.ExternalReference, &tx.ClientReference, &tx.ProviderReference, &tx.Backend, &status,
		&tx.PurchasedCode, &tx.Description, &metadata, &tx.SweepAttempts, &recon, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, err
	}
	tx.ServiceType = catalog.ServiceType(serviceType)
	tx.Status = Status(status)
	tx.Reconciliation = Reconciliation(recon)
	tx.RequestedAmount = money.FromMinor(requested)
	tx.Discount = money.FromMinor(discount)
	tx.SettledAmount = money.FromMinor(settled)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &tx.Metadata); err != nil {
			return Transaction{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return tx, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *PostgresStore) Create(ctx context.Context, tx Transaction) (Transaction, error) {
	if tx.Reconciliation == "" {
		tx.Reconciliation = ReconciliationNone
	}
	metadata, err := json.Marshal(tx.Metadata)
	if err != nil {
		return Transaction{}, fmt.Errorf("encode metadata: %w", err)
	}

	const insert = `
        INSERT INTO transactions (id, user_id, wallet_id, service_type, provider, requested_minor, discount_minor,
            settled_minor, recipient, plan_id, external_reference, client_reference, provider_reference, backend,
            status, purchased_code, description, metadata, sweep_attempts, reconciliation, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, 0, $19, now(), now())
        RETURNING ` + columns

	created, err := scan(s.db.QueryRow(ctx, insert,
		tx.ID, tx.UserID, tx.WalletID, string(tx.ServiceType), tx.Provider, tx.RequestedAmount.Minor(),
		tx.Discount.Minor(), tx.SettledAmount.Minor(), tx.Recipient, tx.PlanID, tx.ExternalReference,
		nullable(tx.ClientReference), tx.ProviderReference, tx.Backend, string(tx.Status), tx.PurchasedCode, tx.Description,
		metadata, string(tx.Reconciliation),
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Transaction{}, ErrDuplicateReference
		}
		return Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, u Update) (Transaction, bool, error) {
	if u.Status == StatusPending {
		tx, err := s.FindByID(ctx, id)
		return tx, false, err
	}

	const update = `
        UPDATE transactions
        SET status = $2,
            provider_reference = COALESCE(NULLIF($3, ''), provider_reference),
            purchased_code = COALESCE(NULLIF($4, ''), purchased_code),
            description = COALESCE(NULLIF($5, ''), description),
            updated_at = now()
        WHERE id = $1 AND status = 'pending'
        RETURNING ` + columns
	return s.guardedUpdate(ctx, id, update, id, string(u.Status), u.ProviderReference, u.PurchasedCode, u.Description)
}

func (s *PostgresStore) ConfirmSuccess(ctx context.Context, id string, u Update) (Transaction, bool, error) {
	const update = `
        UPDATE transactions
        SET status = 'success',
            reconciliation = 'resolved',
            provider_reference = COALESCE(NULLIF($2, ''), provider_reference),
            purchased_code = COALESCE(NULLIF($3, ''), purchased_code),
            description = COALESCE(NULLIF($4, ''), description),
            updated_at = now()
        WHERE id = $1 AND status = 'failed' AND reconciliation = 'required'
        RETURNING ` + columns
	return s.guardedUpdate(ctx, id, update, id, u.ProviderReference, u.PurchasedCode, u.Description)
}

// guardedUpdate runs a conditional UPDATE. When the guard rejects the row the
// current record is returned unchanged.
func (s *PostgresStore) guardedUpdate(ctx context.Context, id, query string, args ...any) (Transaction, bool, error) {
	tx, err := scan(s.db.QueryRow(ctx, query, args...))
	if err == nil {
		return tx, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Transaction{}, false, fmt.Errorf("update transaction: %w", err)
	}
	current, err := s.FindByID(ctx, id)
	if err != nil {
		return Transaction{}, false, err
	}
	return current, false, nil
}

func (s *PostgresStore) findOne(ctx context.Context, where string, args ...any) (Transaction, error) {
	tx, err := scan(s.db.QueryRow(ctx, `SELECT `+columns+` FROM transactions WHERE `+where, args...))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Transaction{}, fmt.Errorf("load transaction: %w", err)
	}
	return tx, err
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (Transaction, error) {
	return s.findOne(ctx, `id = $1`, id)
}

func (s *PostgresStore) FindByExternalReference(ctx context.Context, ref string) (Transaction, error) {
	return s.findOne(ctx, `external_reference = $1`, ref)
}

func (s *PostgresStore) FindByClientReference(ctx context.Context, userID, ref string) (Transaction, error) {
	return s.findOne(ctx, `user_id = $1 AND client_reference = $2`, userID, ref)
}

func (s *PostgresStore) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]Transaction, error) {
	return s.list(ctx, `status = 'pending' AND created_at < $1 ORDER BY created_at LIMIT $2`, olderThan, limit)
}

func (s *PostgresStore) ListReconciliation(ctx context.Context, olderThan time.Time, limit int) ([]Transaction, error) {
	return s.list(ctx, `status = 'failed' AND reconciliation = 'required' AND updated_at < $1 ORDER BY created_at LIMIT $2`, olderThan, limit)
}

func (s *PostgresStore) list(ctx context.Context, where string, olderThan time.Time, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `SELECT `+columns+` FROM transactions WHERE `+where, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		tx, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *PostgresStore) IncrementSweepAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := s.db.QueryRow(ctx, `UPDATE transactions SET sweep_attempts = sweep_attempts + 1 WHERE id = $1 RETURNING sweep_attempts`, id).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("increment sweep attempts: %w", err)
	}
	return attempts, nil
}

func (s *PostgresStore) MarkReconciliation(ctx context.Context, id string, state Reconciliation) error {
	tag, err := s.db.Exec(ctx, `UPDATE transactions SET reconciliation = $2, updated_at = now() WHERE id = $1`, id, string(state))
	if err != nil {
		return fmt.Errorf("mark reconciliation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
