// Package coupon validates coupon codes and computes discounts. Redemption
// limits are enforced in two stages: the engine pre-checks counts for fast
// rejection, and the order repository re-checks them under a row lock when it
// inserts the usage record inside the order-creation transaction.
package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates the supported coupon discount strategies.
type Type string

const (
	// TypeFixed applies a fixed monetary discount capped at the cart total.
	TypeFixed Type = "fixed"
	// TypePercentage applies a percentage discount, optionally capped by
	// the coupon's MaxDiscount.
	TypePercentage Type = "percentage"
)

// Sentinel errors for coupon validation. Each maps to a distinct rejection
// reason; none of them leaves partial state behind.
var (
	ErrCouponNotFound            = errors.New("coupon not found")
	ErrCouponExpired             = errors.New("coupon is outside its validity window")
	ErrCouponExhausted           = errors.New("coupon global usage limit reached")
	ErrCouponLimitReachedForUser = errors.New("coupon per-user usage limit reached")
	ErrCouponAlreadyApplied      = errors.New("order already has a coupon applied")
)

// Coupon defines a discount rule with its validity window and usage limits.
// A zero GlobalLimit or PerUserLimit means unlimited.
type Coupon struct {
	Code         string
	Type         Type
	Value        decimal.Decimal
	MaxDiscount  decimal.Decimal
	ValidFrom    *time.Time
	ValidUntil   *time.Time
	PerUserLimit int
	GlobalLimit  int
	Active       bool
}

// Usage records one redemption of a coupon by an order. At most one usage
// row may exist per order, enforced by a unique constraint on
// (coupon code, order number).
type Usage struct {
	CouponCode  string
	UserID      int64
	OrderNumber string
	UsedAt      time.Time
}

// Quote is the result of a successful coupon validation.
type Quote struct {
	Coupon   Coupon
	Discount decimal.Decimal
}

// Repository provides coupon lookup and usage counting.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	CountByCode(ctx context.Context, code string) (int, error)
	CountByCodeAndUser(ctx context.Context, code string, userID int64) (int, error)
	ExistsUsageForOrder(ctx context.Context, orderNumber string) (bool, error)
}
