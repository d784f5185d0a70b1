package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Engine validates coupon codes against their validity window and usage
// limits and computes the resulting discount.
type Engine struct {
	repo Repository
	now  func() time.Time
}

// NewEngine creates an Engine backed by the given repository.
func NewEngine(repo Repository) *Engine {
	return &Engine{repo: repo, now: time.Now}
}

// Quote validates the coupon for the given user and cart total and returns
// the computed discount. Each check is a hard precondition; the first failure
// wins and nothing is recorded. When orderNumber is non-empty the engine also
// rejects orders that already carry a usage row.
//
// The counts checked here are advisory: the authoritative re-check happens
// under a coupon row lock when the usage row is inserted together with the
// order.
func (e *Engine) Quote(ctx context.Context, code string, userID int64, orderNumber string, cartTotal decimal.Decimal) (*Quote, error) {
	c, err := e.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return nil, ErrCouponNotFound
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}
	if !c.Active {
		return nil, ErrCouponNotFound
	}

	now := e.now()
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return nil, ErrCouponExpired
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return nil, ErrCouponExpired
	}

	if c.GlobalLimit > 0 {
		used, err := e.repo.CountByCode(ctx, c.Code)
		if err != nil {
			return nil, errors.Wrap(err, "count global uses")
		}
		if used >= c.GlobalLimit {
			return nil, ErrCouponExhausted
		}
	}

	if c.PerUserLimit > 0 {
		used, err := e.repo.CountByCodeAndUser(ctx, c.Code, userID)
		if err != nil {
			return nil, errors.Wrap(err, "count user uses")
		}
		if used >= c.PerUserLimit {
			return nil, ErrCouponLimitReachedForUser
		}
	}

	if orderNumber != "" {
		exists, err := e.repo.ExistsUsageForOrder(ctx, orderNumber)
		if err != nil {
			return nil, errors.Wrap(err, "check order usage")
		}
		if exists {
			return nil, ErrCouponAlreadyApplied
		}
	}

	return &Quote{
		Coupon:   *c,
		Discount: Discount(c, cartTotal),
	}, nil
}

// Discount computes the discount the coupon yields on the given cart total.
// The result is always in [0, cartTotal], rounded to 2 decimal places.
func Discount(c *Coupon, cartTotal decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal

	switch c.Type {
	case TypePercentage:
		amount = cartTotal.Mul(c.Value).Div(hundred)
		if c.MaxDiscount.IsPositive() {
			amount = decimal.Min(amount, c.MaxDiscount)
		}
	case TypeFixed:
		amount = c.Value
	default:
		return decimal.Zero
	}

	amount = decimal.Min(amount, cartTotal)
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return amount.Round(2)
}
