package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quickkart/checkout/internal/domain/coupon"
	"github.com/quickkart/checkout/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders
		(number, user_id, items, delivery_charge, coupon_code, discount_amount, grand_total, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	lockCouponSQL = `SELECT per_user_limit, global_limit FROM coupons
		WHERE code = $1 FOR UPDATE`

	insertUsageSQL = `INSERT INTO coupon_usages (coupon_code, user_id, order_number, used_at)
		VALUES ($1, $2, $3, $4)`

	getOrderSQL = `SELECT number, user_id, items, delivery_charge, coupon_code,
			discount_amount, grand_total, status, created_at
		FROM orders WHERE number = $1`

	listOrdersByUserSQL = `SELECT number, user_id, items, delivery_charge, coupon_code,
			discount_amount, grand_total, status, created_at
		FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

	updateStatusSQL = `UPDATE orders SET status = $2
		WHERE number = $1 AND status = ANY($3) RETURNING status`

	getStatusSQL = `SELECT status FROM orders WHERE number = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// CreateWithUsage persists the order and its coupon usage row in one
// transaction. The coupon row is locked before the usage counts are
// re-checked, so two concurrent checkouts for the same coupon serialize
// here; the (coupon, order) unique constraint backs the at-most-one-usage-
// per-order invariant.
func (r *OrderRepository) CreateWithUsage(ctx context.Context, o *order.Order, usage *coupon.Usage) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, createOrderSQL,
		o.Number, o.UserID, itemsJSON, o.DeliveryCharge, o.CouponCode,
		o.DiscountAmount, o.GrandTotal, string(o.Status), o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.Number, err)
	}

	if usage != nil {
		if err := r.insertUsageLocked(ctx, tx, usage); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *OrderRepository) insertUsageLocked(ctx context.Context, tx pgx.Tx, usage *coupon.Usage) error {
	var perUserLimit, globalLimit int
	err := tx.QueryRow(ctx, lockCouponSQL, usage.CouponCode).Scan(&perUserLimit, &globalLimit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return coupon.ErrCouponNotFound
		}
		return fmt.Errorf("locking coupon %q: %w", usage.CouponCode, err)
	}

	// Counts are re-read under the coupon row lock: the engine's earlier
	// checks were advisory and may have raced another checkout. A concurrent
	// winner's usage row is visible here, so the loser is rejected.
	var globalUsed, userUsed int
	if globalLimit > 0 {
		if err := tx.QueryRow(ctx, countUsagesByCodeSQL, usage.CouponCode).Scan(&globalUsed); err != nil {
			return fmt.Errorf("recounting global uses: %w", err)
		}
	}
	if perUserLimit > 0 {
		if err := tx.QueryRow(ctx, countUsagesByCodeAndUserSQL, usage.CouponCode, usage.UserID).Scan(&userUsed); err != nil {
			return fmt.Errorf("recounting user uses: %w", err)
		}
	}
	if err := checkUsageLimits(perUserLimit, globalLimit, userUsed, globalUsed); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, insertUsageSQL,
		usage.CouponCode, usage.UserID, usage.OrderNumber, usage.UsedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return coupon.ErrCouponAlreadyApplied
		}
		return fmt.Errorf("inserting coupon usage: %w", err)
	}
	return nil
}

// checkUsageLimits decides admission of one more usage given the counts read
// while the coupon row lock is held. A zero limit means unlimited.
func checkUsageLimits(perUserLimit, globalLimit, userUsed, globalUsed int) error {
	if globalLimit > 0 && globalUsed >= globalLimit {
		return coupon.ErrCouponExhausted
	}
	if perUserLimit > 0 && userUsed >= perUserLimit {
		return coupon.ErrCouponLimitReachedForUser
	}
	return nil
}

// GetByNumber returns the order identified by number.
// Returns order.ErrOrderNotFound when it does not exist.
func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, number)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", number, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", number, err)
	}
	return &o, nil
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID int64) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders for user %d: %w", userID, err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// UpdateStatus conditionally moves the order to a new status. The WHERE
// clause makes the current-state check and the write one atomic statement;
// on conflict the caller receives the authoritative current status together
// with order.ErrTransitionConflict.
func (r *OrderRepository) UpdateStatus(ctx context.Context, number string, from []order.Status, to order.Status) (order.Status, error) {
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}

	var updated string
	err := r.pool.QueryRow(ctx, updateStatusSQL, number, string(to), fromStrs).Scan(&updated)
	if err == nil {
		return order.Status(updated), nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("updating status of order %q: %w", number, err)
	}

	var current string
	err = r.pool.QueryRow(ctx, getStatusSQL, number).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", order.ErrOrderNotFound
		}
		return "", fmt.Errorf("reading status of order %q: %w", number, err)
	}
	return order.Status(current), order.ErrTransitionConflict
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o         order.Order
		itemsJSON []byte
		status    string
	)
	err := row.Scan(
		&o.Number, &o.UserID, &itemsJSON, &o.DeliveryCharge, &o.CouponCode,
		&o.DiscountAmount, &o.GrandTotal, &status, &o.CreatedAt,
	)
	if err != nil {
		return o, err
	}
	o.Status = order.Status(status)
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return o, fmt.Errorf("decoding items of order %q: %w", o.Number, err)
	}
	return o, nil
}
