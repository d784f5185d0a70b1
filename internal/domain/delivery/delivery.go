// Package delivery computes the shipping charge for an order destination
// from tiered reference data: exact pin-code zones, (state, district) rules,
// and pin-code prefix rules, falling back to a configured base charge.
package delivery

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrInvalidDestination is returned when the destination pin code is empty.
var ErrInvalidDestination = errors.New("destination pin code is required")

// ErrNoRule is returned by repositories when no rule matches a lookup.
var ErrNoRule = errors.New("no matching delivery rule")

// Destination identifies where an order ships to.
type Destination struct {
	PinCode  string
	State    string
	District string
}

// Zone maps an exact pin code to a delivery charge.
type Zone struct {
	PinCode string
	Charge  decimal.Decimal
}

// DistrictRule maps a (state, district) pair to a delivery charge.
// Matching is case-insensitive on both fields.
type DistrictRule struct {
	State    string
	District string
	Charge   decimal.Decimal
}

// PinPrefixRule maps a numeric pin-code prefix to a delivery charge.
// Longer prefixes are more specific and win over shorter ones.
type PinPrefixRule struct {
	Prefix string
	Charge decimal.Decimal
}

// Repository provides read access to the delivery rule tables.
// ListPinPrefixRules must return rules ordered by prefix length descending
// so that the first prefix match is the most specific one.
type Repository interface {
	FindZoneByPin(ctx context.Context, pinCode string) (*Zone, error)
	FindDistrictRule(ctx context.Context, state, district string) (*DistrictRule, error)
	ListPinPrefixRules(ctx context.Context) ([]PinPrefixRule, error)
}
