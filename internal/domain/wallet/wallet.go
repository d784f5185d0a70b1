// Package wallet owns the per-user balance and its append-only transaction
// ledger. All money enters or leaves a user's account through this package.
// The core invariant: a wallet's balance always equals the sum of its CREDIT
// transactions minus the sum of its DEBIT transactions.
package wallet

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// TxType enumerates ledger entry directions.
type TxType string

const (
	TxCredit TxType = "CREDIT"
	TxDebit  TxType = "DEBIT"
)

var (
	// ErrInvalidAmount rejects non-positive credit/debit amounts.
	ErrInvalidAmount = errors.New("amount must be greater than 0")
	// ErrWalletNotFound is returned on debit when the user has no wallet.
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrInsufficientBalance rejects debits exceeding the current balance.
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
	// ErrDuplicateTransaction rejects a retried operation whose
	// (user, type, source, order) key was already applied.
	ErrDuplicateTransaction = errors.New("transaction already applied")
	// ErrLedgerDrift signals that the stored balance no longer matches the
	// ledger. It is fatal for the wallet's operations and never
	// auto-corrected.
	ErrLedgerDrift = errors.New("wallet balance diverged from ledger")
)

// Wallet holds one user's current balance. A wallet is created lazily on the
// first credit; reads before then see a virtual zero-balance wallet.
type Wallet struct {
	UserID            int64
	Balance           decimal.Decimal
	LastTransactionAt *time.Time
}

// Transaction is one append-only ledger row. OrderNumber is empty for
// movements not tied to an order (e.g. top-ups).
type Transaction struct {
	ID          string
	UserID      int64
	Type        TxType
	Amount      decimal.Decimal
	Source      string
	OrderNumber string
	CreatedAt   time.Time
}

// Repository persists wallets and their ledgers. Apply must perform the
// balance update and the ledger append as one atomic unit, serialized
// per wallet, and must reject a transaction whose idempotency key
// (user, type, source, order) was seen before with ErrDuplicateTransaction.
type Repository interface {
	Get(ctx context.Context, userID int64) (*Wallet, error)
	Apply(ctx context.Context, tx *Transaction) (decimal.Decimal, error)
	History(ctx context.Context, userID int64, from, to *time.Time) ([]Transaction, error)
}
