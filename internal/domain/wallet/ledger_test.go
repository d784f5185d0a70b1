package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockWallets is an in-memory wallet.Repository that mirrors the database
// semantics: atomic apply, per-key idempotency, and balance floor at zero.
type mockWallets struct {
	balances map[int64]decimal.Decimal
	ledger   []Transaction
	seen     map[[4]string]bool
}

func newMockWallets() *mockWallets {
	return &mockWallets{
		balances: make(map[int64]decimal.Decimal),
		seen:     make(map[[4]string]bool),
	}
}

func (m *mockWallets) Get(_ context.Context, userID int64) (*Wallet, error) {
	b, ok := m.balances[userID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	return &Wallet{UserID: userID, Balance: b}, nil
}

func (m *mockWallets) Apply(_ context.Context, tx *Transaction) (decimal.Decimal, error) {
	if tx.OrderNumber != "" {
		key := [4]string{decimal.NewFromInt(tx.UserID).String(), string(tx.Type), tx.Source, tx.OrderNumber}
		if m.seen[key] {
			return decimal.Zero, ErrDuplicateTransaction
		}
		m.seen[key] = true
	}

	balance, ok := m.balances[tx.UserID]
	switch tx.Type {
	case TxCredit:
		balance = balance.Add(tx.Amount)
	case TxDebit:
		if !ok {
			return decimal.Zero, ErrWalletNotFound
		}
		if balance.LessThan(tx.Amount) {
			return balance, ErrInsufficientBalance
		}
		balance = balance.Sub(tx.Amount)
	}

	m.balances[tx.UserID] = balance
	m.ledger = append(m.ledger, *tx)
	return balance, nil
}

func (m *mockWallets) History(_ context.Context, userID int64, _, _ *time.Time) ([]Transaction, error) {
	var out []Transaction
	for i := len(m.ledger) - 1; i >= 0; i-- {
		if m.ledger[i].UserID == userID {
			out = append(out, m.ledger[i])
		}
	}
	return out, nil
}

// ledgerSum recomputes balance from the ledger rows to check the invariant.
func (m *mockWallets) ledgerSum(userID int64) decimal.Decimal {
	sum := decimal.Zero
	for _, tx := range m.ledger {
		if tx.UserID != userID {
			continue
		}
		if tx.Type == TxCredit {
			sum = sum.Add(tx.Amount)
		} else {
			sum = sum.Sub(tx.Amount)
		}
	}
	return sum
}

func TestGetBalance_UnknownUserIsZero(t *testing.T) {
	l := NewLedger(newMockWallets())

	balance, err := l.GetBalance(context.Background(), 404)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestGetWallet_VirtualForUnknownUser(t *testing.T) {
	l := NewLedger(newMockWallets())

	w, err := l.GetWallet(context.Background(), 404)
	require.NoError(t, err)
	assert.Equal(t, int64(404), w.UserID)
	assert.True(t, w.Balance.IsZero())
}

func TestCreditDebit_BalanceMatchesLedger(t *testing.T) {
	repo := newMockWallets()
	l := NewLedger(repo)
	ctx := context.Background()

	_, err := l.Credit(ctx, 1, decimal.NewFromInt(500), "TOPUP", "")
	require.NoError(t, err)
	_, err = l.Credit(ctx, 1, decimal.NewFromInt(200), "ORDER_REFUNDED", "ord-1")
	require.NoError(t, err)
	balance, err := l.Debit(ctx, 1, decimal.NewFromInt(300), "WALLET_PAYMENT", "ord-2")
	require.NoError(t, err)

	assert.True(t, balance.Equal(decimal.NewFromInt(400)), "got %s", balance)
	assert.True(t, balance.Equal(repo.ledgerSum(1)), "balance must equal credits minus debits")
}

func TestCredit_InvalidAmount(t *testing.T) {
	l := NewLedger(newMockWallets())

	_, err := l.Credit(context.Background(), 1, decimal.Zero, "TOPUP", "")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = l.Credit(context.Background(), 1, decimal.NewFromInt(-5), "TOPUP", "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestDebit_NoWallet(t *testing.T) {
	l := NewLedger(newMockWallets())

	_, err := l.Debit(context.Background(), 1, decimal.NewFromInt(10), "WALLET_PAYMENT", "ord-1")
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestDebit_InsufficientLeavesBalance(t *testing.T) {
	repo := newMockWallets()
	l := NewLedger(repo)
	ctx := context.Background()

	_, err := l.Credit(ctx, 1, decimal.NewFromInt(100), "TOPUP", "")
	require.NoError(t, err)

	_, err = l.Debit(ctx, 1, decimal.NewFromInt(150), "WALLET_PAYMENT", "ord-1")
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	balance, err := l.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(100)), "failed debit must not move money")
	assert.True(t, balance.Equal(repo.ledgerSum(1)))
}

func TestCredit_RetryIsIdempotent(t *testing.T) {
	repo := newMockWallets()
	l := NewLedger(repo)
	ctx := context.Background()

	balance, err := l.Credit(ctx, 1, decimal.NewFromInt(200), "ORDER_REFUNDED", "ord-1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(200)))

	// A retried refund for the same order must not double-credit.
	_, err = l.Credit(ctx, 1, decimal.NewFromInt(200), "ORDER_REFUNDED", "ord-1")
	assert.ErrorIs(t, err, ErrDuplicateTransaction)

	balance, err = l.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(200)), "retry must credit 200 exactly once, got %s", balance)
}

func TestCredit_TopUpsAreNotDeduplicated(t *testing.T) {
	repo := newMockWallets()
	l := NewLedger(repo)
	ctx := context.Background()

	// Top-ups carry no order number, so two identical ones both apply.
	_, err := l.Credit(ctx, 1, decimal.NewFromInt(50), "TOPUP", "")
	require.NoError(t, err)
	balance, err := l.Credit(ctx, 1, decimal.NewFromInt(50), "TOPUP", "")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(100)))
}

func TestHistory_NewestFirst(t *testing.T) {
	repo := newMockWallets()
	l := NewLedger(repo)
	ctx := context.Background()

	_, err := l.Credit(ctx, 1, decimal.NewFromInt(100), "TOPUP", "")
	require.NoError(t, err)
	_, err = l.Debit(ctx, 1, decimal.NewFromInt(30), "WALLET_PAYMENT", "ord-1")
	require.NoError(t, err)

	txs, err := l.History(ctx, 1, nil, nil)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, TxDebit, txs[0].Type)
	assert.Equal(t, TxCredit, txs[1].Type)
}
