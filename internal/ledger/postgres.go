package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/congo-pay/billpay/internal/money"
)

const uniqueViolation = "23505"

// PostgresStore persists wallets and ledger entries in PostgreSQL. Postings lock
// the wallet row with SELECT ... FOR UPDATE for the duration of the transaction.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed wallet store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const walletColumns = `id, user_id, balance_minor, currency, created_at, updated_at`

func scanWallet(row pgx.Row) (Wallet, error) {
	var (
		w       Wallet
		balance int64
	)
	if err := row.Scan(&w.ID, &w.UserID, &balance, &w.Currency, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, err
	}
	w.Balance = money.FromMinor(balance)
	return w, nil
}

// CreateWallet inserts a zero-balance wallet for userID.
func (s *PostgresStore) CreateWallet(ctx context.Context, userID, currency string) (Wallet, error) {
	const insert = `
        INSERT INTO wallets (id, user_id, balance_minor, currency, created_at, updated_at)
        VALUES ($1, $2, 0, $3, now(), now())
        ON CONFLICT (user_id) DO NOTHING
        RETURNING ` + walletColumns

	w, err := scanWallet(s.db.QueryRow(ctx, insert, uuid.NewString(), userID, currency))
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, ErrWalletNotFound) {
		return Wallet{}, fmt.Errorf("create wallet: %w", err)
	}

	existing, err := s.WalletByUser(ctx, userID)
	if err != nil {
		return Wallet{}, err
	}
	return existing, ErrWalletExists
}

func (s *PostgresStore) Wallet(ctx context.Context, walletID string) (Wallet, error) {
	w, err := scanWallet(s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, walletID))
	if err != nil && !errors.Is(err, ErrWalletNotFound) {
		return Wallet{}, fmt.Errorf("load wallet: %w", err)
	}
	return w, err
}

func (s *PostgresStore) WalletByUser(ctx context.Context, userID string) (Wallet, error) {
	w, err := scanWallet(s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID))
	if err != nil && !errors.Is(err, ErrWalletNotFound) {
		return Wallet{}, fmt.Errorf("load wallet by user: %w", err)
	}
	return w, err
}

func (s *PostgresStore) GetBalance(ctx context.Context, walletID string) (money.Amount, error) {
	var balance int64
	if err := s.db.QueryRow(ctx, `SELECT balance_minor FROM wallets WHERE id = $1`, walletID).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrWalletNotFound
		}
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return money.FromMinor(balance), nil
}

func (s *PostgresStore) Reserve(ctx context.Context, walletID string, amount money.Amount, reference, description string) (Posting, error) {
	return s.post(ctx, walletID, Debit, amount, reference, description)
}

func (s *PostgresStore) Release(ctx context.Context, walletID string, amount money.Amount, reference, description string) (Posting, error) {
	return s.post(ctx, walletID, Credit, amount, reference, description)
}

func (s *PostgresStore) post(ctx context.Context, walletID string, direction Direction, amount money.Amount, reference, description string) (Posting, error) {
	if !amount.IsPositive() {
		return Posting{}, ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Posting{}, fmt.Errorf("begin posting: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	var (
		userID  string
		balance int64
	)
	err = tx.QueryRow(ctx, `SELECT user_id, balance_minor FROM wallets WHERE id = $1 FOR UPDATE`, walletID).Scan(&userID, &balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Posting{}, ErrWalletNotFound
		}
		return Posting{}, fmt.Errorf("lock wallet: %w", err)
	}

	existing, err := entryByReference(ctx, tx, walletID, direction, reference)
	if err == nil {
		return Posting{BalanceBefore: existing.BalanceBefore, BalanceAfter: existing.BalanceAfter, Entry: existing}, ErrDuplicateReference
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Posting{}, fmt.Errorf("check reference: %w", err)
	}

	before := money.FromMinor(balance)
	if direction == Debit && before < amount {
		return Posting{}, ErrInsufficientFunds
	}
	after := apply(direction, before, amount)

	entry := Entry{
		ID:            ulid.Make().String(),
		WalletID:      walletID,
		UserID:        userID,
		Direction:     direction,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Reference:     reference,
		Description:   description,
		CreatedAt:     time.Now().UTC(),
	}

	if _, err := tx.Exec(ctx, `UPDATE wallets SET balance_minor = $2, updated_at = $3 WHERE id = $1`, walletID, after.Minor(), entry.CreatedAt); err != nil {
		return Posting{}, fmt.Errorf("update balance: %w", err)
	}

	const insertEntry = `
        INSERT INTO wallet_ledger_entries
            (id, wallet_id, user_id, direction, amount_minor, balance_before_minor, balance_after_minor, reference, description, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	if _, err := tx.Exec(ctx, insertEntry,
		entry.ID, entry.WalletID, entry.UserID, string(entry.Direction), entry.Amount.Minor(),
		entry.BalanceBefore.Minor(), entry.BalanceAfter.Minor(), entry.Reference, entry.Description, entry.CreatedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Posting{}, ErrDuplicateReference
		}
		return Posting{}, fmt.Errorf("insert ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Posting{}, fmt.Errorf("commit posting: %w", err)
	}
	return Posting{BalanceBefore: before, BalanceAfter: after, Entry: entry}, nil
}

const entryColumns = `id, wallet_id, user_id, direction, amount_minor, balance_before_minor, balance_after_minor, reference, description, created_at`

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e                     Entry
		direction             string
		amount, before, after int64
	)
	if err := row.Scan(&e.ID, &e.WalletID, &e.UserID, &direction, &amount, &before, &after, &e.Reference, &e.Description, &e.CreatedAt); err != nil {
		return Entry{}, err
	}
	e.Direction = Direction(direction)
	e.Amount = money.FromMinor(amount)
	e.BalanceBefore = money.FromMinor(before)
	e.BalanceAfter = money.FromMinor(after)
	return e, nil
}

func entryByReference(ctx context.Context, tx pgx.Tx, walletID string, direction Direction, reference string) (Entry, error) {
	const query = `SELECT ` + entryColumns + ` FROM wallet_ledger_entries
        WHERE wallet_id = $1 AND direction = $2 AND reference = $3`
	return scanEntry(tx.QueryRow(ctx, query, walletID, string(direction), reference))
}

// Entries returns the wallet's ledger in posting order.
func (s *PostgresStore) Entries(ctx context.Context, walletID string) ([]Entry, error) {
	if _, err := s.GetBalance(ctx, walletID); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `SELECT `+entryColumns+` FROM wallet_ledger_entries WHERE wallet_id = $1 ORDER BY seq`, walletID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
