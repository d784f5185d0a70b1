package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quickkart/checkout/internal/domain/coupon"
)

const (
	getCouponByCodeSQL = `SELECT code, discount_type, value, max_discount,
			valid_from, valid_until, per_user_limit, global_limit, active
		FROM coupons WHERE UPPER(code) = UPPER($1)`

	countUsagesByCodeSQL = `SELECT COUNT(*) FROM coupon_usages WHERE coupon_code = $1`

	countUsagesByCodeAndUserSQL = `SELECT COUNT(*) FROM coupon_usages
		WHERE coupon_code = $1 AND user_id = $2`

	existsUsageForOrderSQL = `SELECT EXISTS (
		SELECT 1 FROM coupon_usages WHERE order_number = $1)`

	upsertCouponSQL = `INSERT INTO coupons
			(code, discount_type, value, max_discount, valid_from, valid_until,
			 per_user_limit, global_limit, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (code) DO UPDATE SET
			discount_type = EXCLUDED.discount_type,
			value = EXCLUDED.value,
			max_discount = EXCLUDED.max_discount,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			per_user_limit = EXCLUDED.per_user_limit,
			global_limit = EXCLUDED.global_limit,
			active = EXCLUDED.active`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code (case-insensitive).
// Returns coupon.ErrCouponNotFound when no coupon matches.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrCouponNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

// CountByCode returns the global redemption count for the coupon.
func (r *CouponRepository) CountByCode(ctx context.Context, code string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countUsagesByCodeSQL, code).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting uses for coupon %q: %w", code, err)
	}
	return n, nil
}

// CountByCodeAndUser returns how many times the user redeemed the coupon.
func (r *CouponRepository) CountByCodeAndUser(ctx context.Context, code string, userID int64) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countUsagesByCodeAndUserSQL, code, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting uses for coupon %q by user %d: %w", code, userID, err)
	}
	return n, nil
}

// ExistsUsageForOrder reports whether the order already carries a usage row.
func (r *CouponRepository) ExistsUsageForOrder(ctx context.Context, orderNumber string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, existsUsageForOrderSQL, orderNumber).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking usage for order %q: %w", orderNumber, err)
	}
	return exists, nil
}

// UpsertCoupon inserts or replaces a coupon definition. Used by the seed
// tool, not the request path.
func (r *CouponRepository) UpsertCoupon(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, upsertCouponSQL,
		c.Code, string(c.Type), c.Value, c.MaxDiscount,
		c.ValidFrom, c.ValidUntil, c.PerUserLimit, c.GlobalLimit, c.Active,
	)
	if err != nil {
		return errors.Wrapf(err, "upsert coupon %s", c.Code)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
		value        decimal.Decimal
		maxDiscount  decimal.Decimal
		validFrom    *time.Time
		validUntil   *time.Time
	)
	err := row.Scan(
		&c.Code, &discountType, &value, &maxDiscount,
		&validFrom, &validUntil, &c.PerUserLimit, &c.GlobalLimit, &c.Active,
	)
	c.Type = coupon.Type(discountType)
	c.Value = value
	c.MaxDiscount = maxDiscount
	c.ValidFrom = validFrom
	c.ValidUntil = validUntil
	return c, err
}
