package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quickkart/checkout/internal/domain/payment"
)

const (
	createPaymentSQL = `INSERT INTO payments
		(id, order_number, provider_order_id, provider_payment_id, status, amount, currency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	findPaymentByProviderOrderSQL = `SELECT id, order_number, provider_order_id,
			provider_payment_id, status, amount, currency, created_at
		FROM payments WHERE provider_order_id = $1`

	markPaymentPaidSQL = `UPDATE payments SET status = $2, provider_payment_id = $3
		WHERE id = $1`

	markPaymentFailedSQL = `UPDATE payments SET status = $2 WHERE id = $1`

	listPendingPaymentsSQL = `SELECT id, order_number, provider_order_id,
			provider_payment_id, status, amount, currency, created_at
		FROM payments WHERE status = $1 ORDER BY created_at LIMIT $2`
)

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository implements payment.Repository backed by PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// Create persists a new payment attempt.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	_, err := r.pool.Exec(ctx, createPaymentSQL,
		p.ID, p.OrderNumber, p.ProviderOrderID, p.ProviderPaymentID,
		string(p.Status), p.Amount, p.Currency, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating payment %q: %w", p.ID, err)
	}
	return nil
}

// FindByProviderOrderID returns the attempt matching the provider order id.
// Returns payment.ErrPaymentNotFound when no attempt matches.
func (r *PaymentRepository) FindByProviderOrderID(ctx context.Context, providerOrderID string) (*payment.Payment, error) {
	rows, err := r.pool.Query(ctx, findPaymentByProviderOrderSQL, providerOrderID)
	if err != nil {
		return nil, fmt.Errorf("finding payment for provider order %q: %w", providerOrderID, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("finding payment for provider order %q: %w", providerOrderID, err)
	}
	return &p, nil
}

// MarkPaid records the provider payment id and moves the attempt to PAID.
func (r *PaymentRepository) MarkPaid(ctx context.Context, id, providerPaymentID string) error {
	_, err := r.pool.Exec(ctx, markPaymentPaidSQL, id, string(payment.StatusPaid), providerPaymentID)
	if err != nil {
		return fmt.Errorf("marking payment %q paid: %w", id, err)
	}
	return nil
}

// MarkFailed moves the attempt to FAILED.
func (r *PaymentRepository) MarkFailed(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, markPaymentFailedSQL, id, string(payment.StatusFailed))
	if err != nil {
		return fmt.Errorf("marking payment %q failed: %w", id, err)
	}
	return nil
}

// ListPending returns up to limit attempts still in CREATED, oldest first.
func (r *PaymentRepository) ListPending(ctx context.Context, limit int) ([]payment.Payment, error) {
	rows, err := r.pool.Query(ctx, listPendingPaymentsSQL, string(payment.StatusCreated), limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending payments: %w", err)
	}
	return pgx.CollectRows(rows, scanPayment)
}

func scanPayment(row pgx.CollectableRow) (payment.Payment, error) {
	var (
		p      payment.Payment
		status string
	)
	err := row.Scan(
		&p.ID, &p.OrderNumber, &p.ProviderOrderID, &p.ProviderPaymentID,
		&status, &p.Amount, &p.Currency, &p.CreatedAt,
	)
	p.Status = payment.Status(status)
	return p, err
}
