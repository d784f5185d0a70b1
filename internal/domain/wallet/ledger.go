package wallet

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger is the single entry point for wallet money movement.
type Ledger struct {
	repo Repository
	now  func() time.Time
}

// NewLedger creates a Ledger backed by the given repository.
func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo, now: time.Now}
}

// GetBalance returns the user's balance. Unknown users get a zero balance,
// never an error; the wallet row itself is only created on first credit.
func (l *Ledger) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	w, err := l.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, errors.Wrap(err, "get wallet")
	}
	return w.Balance, nil
}

// GetWallet returns the stored wallet, or a virtual zero-balance wallet for
// users that were never credited.
func (l *Ledger) GetWallet(ctx context.Context, userID int64) (*Wallet, error) {
	w, err := l.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			return &Wallet{UserID: userID, Balance: decimal.Zero}, nil
		}
		return nil, errors.Wrap(err, "get wallet")
	}
	return w, nil
}

// Credit adds amount to the user's wallet, creating it if absent, and
// appends the matching CREDIT ledger row in the same atomic unit. Retried
// credits carrying an already-seen (source, orderNumber) key fail with
// ErrDuplicateTransaction instead of double-applying.
func (l *Ledger) Credit(ctx context.Context, userID int64, amount decimal.Decimal, source, orderNumber string) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return l.repo.Apply(ctx, &Transaction{
		ID:          uuid.New().String(),
		UserID:      userID,
		Type:        TxCredit,
		Amount:      amount,
		Source:      source,
		OrderNumber: orderNumber,
		CreatedAt:   l.now().UTC(),
	})
}

// Debit removes amount from the user's wallet under the same atomic
// append+update discipline. It fails with ErrWalletNotFound when no wallet
// exists and ErrInsufficientBalance when balance < amount; a failed debit
// leaves the balance untouched.
func (l *Ledger) Debit(ctx context.Context, userID int64, amount decimal.Decimal, source, orderNumber string) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return l.repo.Apply(ctx, &Transaction{
		ID:          uuid.New().String(),
		UserID:      userID,
		Type:        TxDebit,
		Amount:      amount,
		Source:      source,
		OrderNumber: orderNumber,
		CreatedAt:   l.now().UTC(),
	})
}

// History returns the user's ledger rows, newest first, optionally bounded
// by the [from, to] creation-time range.
func (l *Ledger) History(ctx context.Context, userID int64, from, to *time.Time) ([]Transaction, error) {
	return l.repo.History(ctx, userID, from, to)
}
