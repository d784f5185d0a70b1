// Package cart manages per-user shopping carts. A cart is identified by its
// owner's user ID and owns its items outright: items carry no back-reference
// to the cart, only the data needed to snapshot them into an order.
package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Sentinel errors for cart mutations.
var (
	ErrItemNotFound    = errors.New("item not in cart")
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
	ErrInvalidPrice    = errors.New("unit price must be greater than 0")
)

// Item is a single cart line. UnitPrice is the product price captured when
// the item was first added; it is honored at checkout regardless of later
// catalog changes.
type Item struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Cart holds the ordered items of one user.
type Cart struct {
	UserID    int64
	Items     []Item
	UpdatedAt time.Time
}

// Subtotal returns the sum of quantity * unit price across all items.
func (c *Cart) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range c.Items {
		line := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		sum = sum.Add(line)
	}
	return sum
}

// Repository defines persistence operations for carts. Get returns an empty
// cart (not an error) for users without one.
type Repository interface {
	Get(ctx context.Context, userID int64) (*Cart, error)
	Upsert(ctx context.Context, c *Cart) error
	Clear(ctx context.Context, userID int64) error
}
