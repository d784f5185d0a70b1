// Package payment tracks payment attempts against an external provider and
// reconciles provider callbacks and poll results into order events. One order
// may accumulate multiple attempts; at most one ends PAID.
package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status enumerates the lifecycle of a single payment attempt.
type Status string

const (
	StatusCreated Status = "CREATED"
	StatusPaid    Status = "PAID"
	StatusFailed  Status = "FAILED"
)

// ErrPaymentNotFound is returned when no attempt matches the given
// identifiers.
var ErrPaymentNotFound = errors.New("payment not found")

// Payment is one attempt to collect an order's grand total.
type Payment struct {
	ID                string
	OrderNumber       string
	ProviderOrderID   string
	ProviderPaymentID string
	Status            Status
	Amount            decimal.Decimal
	Currency          string
	CreatedAt         time.Time
}

// Repository defines persistence operations for payment attempts.
type Repository interface {
	Create(ctx context.Context, p *Payment) error
	FindByProviderOrderID(ctx context.Context, providerOrderID string) (*Payment, error)
	MarkPaid(ctx context.Context, id, providerPaymentID string) error
	MarkFailed(ctx context.Context, id string) error
	ListPending(ctx context.Context, limit int) ([]Payment, error)
}

// StatusResult is a provider-side view of one payment attempt.
type StatusResult struct {
	Status            string
	ProviderPaymentID string
}

// Provider abstracts the external payment gateway. Both calls block on
// network I/O and must be bounded by the client's timeout.
type Provider interface {
	CreateOrder(ctx context.Context, amount decimal.Decimal, currency string) (providerOrderID string, err error)
	GetOrderStatus(ctx context.Context, providerOrderID string) (StatusResult, error)
}

// RateLimitedError signals that the provider asked us to back off.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return "payment provider rate limited"
}
