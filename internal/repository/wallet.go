package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quickkart/checkout/internal/domain/wallet"
)

const (
	getWalletSQL = `SELECT user_id, balance, last_transaction_at
		FROM wallets WHERE user_id = $1`

	createWalletSQL = `INSERT INTO wallets (user_id, balance)
		VALUES ($1, 0) ON CONFLICT (user_id) DO NOTHING`

	lockWalletSQL = `SELECT balance FROM wallets WHERE user_id = $1 FOR UPDATE`

	insertWalletTxSQL = `INSERT INTO wallet_transactions
		(id, user_id, type, amount, source, order_number, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)`

	updateWalletBalanceSQL = `UPDATE wallets SET balance = $2, last_transaction_at = $3
		WHERE user_id = $1`

	sumLedgerSQL = `SELECT COALESCE(SUM(CASE WHEN type = 'CREDIT' THEN amount ELSE -amount END), 0)
		FROM wallet_transactions WHERE user_id = $1`

	walletHistorySQL = `SELECT id, user_id, type, amount, source, COALESCE(order_number, ''), created_at
		FROM wallet_transactions
		WHERE user_id = $1
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at <= $3)
		ORDER BY created_at DESC`
)

var _ wallet.Repository = (*WalletRepository)(nil)

// WalletRepository implements wallet.Repository backed by PostgreSQL.
//
// Apply serializes per wallet via a row lock, so concurrent credits and
// debits on the same user never interleave their read-modify-write of the
// balance. The partial unique index on (user_id, type, source, order_number)
// enforces the idempotency key at the storage level.
type WalletRepository struct {
	pool *pgxpool.Pool
}

// NewWalletRepository returns a WalletRepository that uses the given pool.
func NewWalletRepository(pool *pgxpool.Pool) *WalletRepository {
	return &WalletRepository{pool: pool}
}

// Get returns the stored wallet. Returns wallet.ErrWalletNotFound when the
// user was never credited.
func (r *WalletRepository) Get(ctx context.Context, userID int64) (*wallet.Wallet, error) {
	var w wallet.Wallet
	err := r.pool.QueryRow(ctx, getWalletSQL, userID).
		Scan(&w.UserID, &w.Balance, &w.LastTransactionAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, wallet.ErrWalletNotFound
		}
		return nil, fmt.Errorf("getting wallet for user %d: %w", userID, err)
	}
	return &w, nil
}

// Apply performs one ledger movement as a single transaction: lock (or, for
// credits, lazily create) the wallet row, append the ledger entry, advance
// the balance, and verify the ledger still sums to the stored balance. Any
// failure rolls the whole unit back; there are no dangling ledger rows and
// no balance updates without a matching row.
func (r *WalletRepository) Apply(ctx context.Context, t *wallet.Transaction) (decimal.Decimal, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if t.Type == wallet.TxCredit {
		if _, err := tx.Exec(ctx, createWalletSQL, t.UserID); err != nil {
			return decimal.Zero, fmt.Errorf("creating wallet for user %d: %w", t.UserID, err)
		}
	}

	var balance decimal.Decimal
	err = tx.QueryRow(ctx, lockWalletSQL, t.UserID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, wallet.ErrWalletNotFound
		}
		return decimal.Zero, fmt.Errorf("locking wallet for user %d: %w", t.UserID, err)
	}

	var newBalance decimal.Decimal
	switch t.Type {
	case wallet.TxCredit:
		newBalance = balance.Add(t.Amount)
	case wallet.TxDebit:
		if balance.LessThan(t.Amount) {
			return decimal.Zero, wallet.ErrInsufficientBalance
		}
		newBalance = balance.Sub(t.Amount)
	default:
		return decimal.Zero, fmt.Errorf("unknown transaction type %q", t.Type)
	}

	_, err = tx.Exec(ctx, insertWalletTxSQL,
		t.ID, t.UserID, string(t.Type), t.Amount, t.Source, t.OrderNumber, t.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return decimal.Zero, wallet.ErrDuplicateTransaction
		}
		return decimal.Zero, fmt.Errorf("appending ledger row: %w", err)
	}

	if _, err := tx.Exec(ctx, updateWalletBalanceSQL, t.UserID, newBalance, t.CreatedAt); err != nil {
		return decimal.Zero, fmt.Errorf("updating balance for user %d: %w", t.UserID, err)
	}

	// The balance and its ledger must never diverge. A mismatch here means
	// a writer bypassed this path; fail loudly and roll back.
	var ledgerSum decimal.Decimal
	if err := tx.QueryRow(ctx, sumLedgerSQL, t.UserID).Scan(&ledgerSum); err != nil {
		return decimal.Zero, fmt.Errorf("summing ledger for user %d: %w", t.UserID, err)
	}
	if !ledgerSum.Equal(newBalance) {
		return decimal.Zero, wallet.ErrLedgerDrift
	}

	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("commit tx: %w", err)
	}
	return newBalance, nil
}

// History returns the user's ledger rows newest first, optionally bounded by
// the creation-time range.
func (r *WalletRepository) History(ctx context.Context, userID int64, from, to *time.Time) ([]wallet.Transaction, error) {
	rows, err := r.pool.Query(ctx, walletHistorySQL, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing wallet transactions for user %d: %w", userID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (wallet.Transaction, error) {
		var (
			t   wallet.Transaction
			typ string
		)
		err := row.Scan(&t.ID, &t.UserID, &typ, &t.Amount, &t.Source, &t.OrderNumber, &t.CreatedAt)
		t.Type = wallet.TxType(typ)
		return t, err
	})
}
