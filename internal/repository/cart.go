package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quickkart/checkout/internal/domain/cart"
)

const (
	getCartSQL = `SELECT items, updated_at FROM carts WHERE user_id = $1`

	upsertCartSQL = `INSERT INTO carts (user_id, items, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET items = $2, updated_at = $3`

	clearCartSQL = `DELETE FROM carts WHERE user_id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL. Cart items
// are stored as a JSONB document owned by the cart row.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// Get returns the user's cart, or an empty cart when none is stored.
func (r *CartRepository) Get(ctx context.Context, userID int64) (*cart.Cart, error) {
	c := &cart.Cart{UserID: userID}

	var itemsJSON []byte
	err := r.pool.QueryRow(ctx, getCartSQL, userID).Scan(&itemsJSON, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c, nil
		}
		return nil, fmt.Errorf("getting cart for user %d: %w", userID, err)
	}

	if err := json.Unmarshal(itemsJSON, &c.Items); err != nil {
		return nil, fmt.Errorf("decoding cart items for user %d: %w", userID, err)
	}
	return c, nil
}

// Upsert stores the cart, replacing any existing one for the user.
func (r *CartRepository) Upsert(ctx context.Context, c *cart.Cart) error {
	itemsJSON, err := json.Marshal(c.Items)
	if err != nil {
		return fmt.Errorf("marshaling cart items: %w", err)
	}

	_, err = r.pool.Exec(ctx, upsertCartSQL, c.UserID, itemsJSON, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting cart for user %d: %w", c.UserID, err)
	}
	return nil
}

// Clear deletes the user's cart row.
func (r *CartRepository) Clear(ctx context.Context, userID int64) error {
	_, err := r.pool.Exec(ctx, clearCartSQL, userID)
	if err != nil {
		return fmt.Errorf("clearing cart for user %d: %w", userID, err)
	}
	return nil
}
