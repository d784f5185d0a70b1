// Package order builds priced orders from cart snapshots and drives each
// order through its payment state machine.
package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/quickkart/checkout/internal/domain/coupon"
)

// Status enumerates order states. Forward progress only; the explicit
// cancel/refund transitions are the sole paths that undo a paid order.
type Status string

const (
	StatusCreated         Status = "CREATED"
	StatusAwaitingPayment Status = "AWAITING_PAYMENT"
	StatusPaid            Status = "PAID"
	StatusShipped         Status = "SHIPPED"
	StatusCancelled       Status = "CANCELLED"
	StatusRefunded        Status = "REFUNDED"
	StatusFailed          Status = "FAILED"
)

// transitions is the authoritative adjacency table of the state machine.
var transitions = map[Status][]Status{
	StatusCreated:         {StatusAwaitingPayment, StatusPaid, StatusCancelled},
	StatusAwaitingPayment: {StatusPaid, StatusFailed, StatusCancelled},
	StatusPaid:            {StatusShipped, StatusCancelled, StatusRefunded},
	StatusShipped:         {StatusRefunded},
	StatusFailed:          {StatusAwaitingPayment},
}

// CanTransitionTo reports whether moving from s to target is legal.
func (s Status) CanTransitionTo(target Status) bool {
	for _, t := range transitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Terminal reports whether s admits no further forward progress. FAILED is
// terminal for this table's purposes except for the explicit payment retry
// path (FAILED → AWAITING_PAYMENT).
func (s Status) Terminal() bool {
	switch s {
	case StatusShipped, StatusCancelled, StatusRefunded, StatusFailed:
		return true
	}
	return false
}

// Sentinel errors for order placement and lookup.
var (
	ErrEmptyCart            = errors.New("cart has no items")
	ErrPricingInconsistency = errors.New("cart item has no valid price snapshot")
	ErrOrderNotFound        = errors.New("order not found")
	// ErrTransitionConflict is returned by repositories when a conditional
	// status update matched no row because the current status changed.
	ErrTransitionConflict = errors.New("order status changed concurrently")
)

// IllegalTransitionError identifies a rejected state-machine transition.
type IllegalTransitionError struct {
	OrderNumber string
	From        Status
	To          Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("order %s: illegal transition %s -> %s", e.OrderNumber, e.From, e.To)
}

// Item is an immutable snapshot of one cart line at checkout time.
type Item struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// Order is a priced, coupon-validated, delivery-charged checkout result.
// Number is generated once and never changes.
type Order struct {
	Number         string
	UserID         int64
	Items          []Item
	DeliveryCharge decimal.Decimal
	CouponCode     string
	DiscountAmount decimal.Decimal
	GrandTotal     decimal.Decimal
	Status         Status
	CreatedAt      time.Time
}

// ComputeGrandTotal re-derives the grand total from the stored items, charge,
// and discount. For a consistent order it always equals GrandTotal.
func (o *Order) ComputeGrandTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range o.Items {
		sum = sum.Add(item.LineTotal)
	}
	total := sum.Add(o.DeliveryCharge).Sub(o.DiscountAmount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	return total.Round(2)
}

// Repository defines persistence operations for orders.
//
// CreateWithUsage persists the order and, when usage is non-nil, the coupon
// usage row in a single transaction. The implementation must re-check the
// coupon's usage limits under a lock on the coupon row before inserting, and
// must surface the (coupon, order) unique constraint as
// coupon.ErrCouponAlreadyApplied.
//
// UpdateStatus conditionally moves the order to a new status when its current
// status is one of from. On a conflict it returns the order's current status
// together with ErrTransitionConflict.
type Repository interface {
	CreateWithUsage(ctx context.Context, o *Order, usage *coupon.Usage) error
	GetByNumber(ctx context.Context, number string) (*Order, error)
	ListByUser(ctx context.Context, userID int64) ([]Order, error)
	UpdateStatus(ctx context.Context, number string, from []Status, to Status) (Status, error)
}
