package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Service implements the cart mutations exposed at the API boundary.
type Service struct {
	carts Repository
	now   func() time.Time
}

// NewService creates a cart Service backed by the given repository.
func NewService(carts Repository) *Service {
	return &Service{carts: carts, now: time.Now}
}

// Get returns the user's cart, empty if none exists yet.
func (s *Service) Get(ctx context.Context, userID int64) (*Cart, error) {
	return s.carts.Get(ctx, userID)
}

// AddItem adds a product to the cart. Adding a product already present merges
// the quantities and keeps the unit price captured on first add.
func (s *Service) AddItem(ctx context.Context, userID int64, productID string, quantity int, unitPrice decimal.Decimal) (*Cart, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if !unitPrice.IsPositive() {
		return nil, ErrInvalidPrice
	}

	c, err := s.carts.Get(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}

	merged := false
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity += quantity
			merged = true
			break
		}
	}
	if !merged {
		c.Items = append(c.Items, Item{
			ProductID: productID,
			Quantity:  quantity,
			UnitPrice: unitPrice,
		})
	}

	return s.save(ctx, c)
}

// UpdateQuantity replaces the quantity of an existing cart item.
func (s *Service) UpdateQuantity(ctx context.Context, userID int64, productID string, quantity int) (*Cart, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	c, err := s.carts.Get(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}

	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity = quantity
			return s.save(ctx, c)
		}
	}
	return nil, ErrItemNotFound
}

// RemoveItem removes a product from the cart.
func (s *Service) RemoveItem(ctx context.Context, userID int64, productID string) (*Cart, error) {
	c, err := s.carts.Get(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}

	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return s.save(ctx, c)
		}
	}
	return nil, ErrItemNotFound
}

// Clear removes all items from the user's cart.
func (s *Service) Clear(ctx context.Context, userID int64) error {
	return s.carts.Clear(ctx, userID)
}

func (s *Service) save(ctx context.Context, c *Cart) (*Cart, error) {
	c.UpdatedAt = s.now()
	if err := s.carts.Upsert(ctx, c); err != nil {
		return nil, errors.Wrap(err, "save cart")
	}
	return c, nil
}
