package delivery

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Resolver resolves delivery charges through the zone, district, and
// pin-prefix tiers. When no tier matches it returns the configured default
// charge rather than an error, so checkout never blocks on missing
// shipping reference data.
type Resolver struct {
	rules         Repository
	defaultCharge decimal.Decimal
}

// NewResolver creates a Resolver backed by the given rule repository.
func NewResolver(rules Repository, defaultCharge decimal.Decimal) *Resolver {
	return &Resolver{
		rules:         rules,
		defaultCharge: defaultCharge,
	}
}

// Resolve returns the delivery charge for the destination. Resolution order:
// exact pin-code zone, case-insensitive (state, district) rule, longest
// matching pin prefix, configured default. First match wins.
func (r *Resolver) Resolve(ctx context.Context, dest Destination) (decimal.Decimal, error) {
	pin := strings.TrimSpace(dest.PinCode)
	if pin == "" {
		return decimal.Zero, ErrInvalidDestination
	}

	zone, err := r.rules.FindZoneByPin(ctx, pin)
	switch {
	case err == nil:
		return zone.Charge, nil
	case !errors.Is(err, ErrNoRule):
		return decimal.Zero, errors.Wrap(err, "find zone")
	}

	state := strings.TrimSpace(dest.State)
	district := strings.TrimSpace(dest.District)
	if state != "" && district != "" {
		rule, err := r.rules.FindDistrictRule(ctx, state, district)
		switch {
		case err == nil:
			return rule.Charge, nil
		case !errors.Is(err, ErrNoRule):
			return decimal.Zero, errors.Wrap(err, "find district rule")
		}
	}

	prefixes, err := r.rules.ListPinPrefixRules(ctx)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "list pin prefix rules")
	}
	// Rules arrive ordered by prefix length descending, so the first hit is
	// the longest (most specific) match.
	for _, rule := range prefixes {
		if strings.HasPrefix(pin, rule.Prefix) {
			return rule.Charge, nil
		}
	}

	return r.defaultCharge, nil
}
