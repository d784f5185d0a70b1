package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quickkart/checkout/internal/domain/delivery"
)

const (
	findZoneSQL = `SELECT pin_code, charge FROM delivery_zones WHERE pin_code = $1`

	findDistrictRuleSQL = `SELECT state, district, charge FROM delivery_district_rules
		WHERE LOWER(state) = LOWER($1) AND LOWER(district) = LOWER($2)`

	listPinPrefixRulesSQL = `SELECT prefix, charge FROM delivery_pin_prefix_rules
		ORDER BY LENGTH(prefix) DESC, prefix DESC`

	upsertZoneSQL = `INSERT INTO delivery_zones (pin_code, charge) VALUES ($1, $2)
		ON CONFLICT (pin_code) DO UPDATE SET charge = EXCLUDED.charge`

	upsertDistrictRuleSQL = `INSERT INTO delivery_district_rules (state, district, charge)
		VALUES ($1, $2, $3)
		ON CONFLICT (state, district) DO UPDATE SET charge = EXCLUDED.charge`

	upsertPinPrefixRuleSQL = `INSERT INTO delivery_pin_prefix_rules (prefix, charge)
		VALUES ($1, $2)
		ON CONFLICT (prefix) DO UPDATE SET charge = EXCLUDED.charge`
)

var _ delivery.Repository = (*DeliveryRepository)(nil)

// DeliveryRepository implements delivery.Repository backed by PostgreSQL.
// The rule tables are immutable reference data; all queries are reads.
type DeliveryRepository struct {
	pool *pgxpool.Pool
}

// NewDeliveryRepository returns a DeliveryRepository that uses the given pool.
func NewDeliveryRepository(pool *pgxpool.Pool) *DeliveryRepository {
	return &DeliveryRepository{pool: pool}
}

// FindZoneByPin looks up the exact pin-code zone.
// Returns delivery.ErrNoRule when no zone matches.
func (r *DeliveryRepository) FindZoneByPin(ctx context.Context, pinCode string) (*delivery.Zone, error) {
	var z delivery.Zone
	err := r.pool.QueryRow(ctx, findZoneSQL, pinCode).Scan(&z.PinCode, &z.Charge)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, delivery.ErrNoRule
		}
		return nil, fmt.Errorf("finding zone for pin %q: %w", pinCode, err)
	}
	return &z, nil
}

// FindDistrictRule looks up the case-insensitive (state, district) rule.
// Returns delivery.ErrNoRule when no rule matches.
func (r *DeliveryRepository) FindDistrictRule(ctx context.Context, state, district string) (*delivery.DistrictRule, error) {
	var rule delivery.DistrictRule
	err := r.pool.QueryRow(ctx, findDistrictRuleSQL, state, district).
		Scan(&rule.State, &rule.District, &rule.Charge)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, delivery.ErrNoRule
		}
		return nil, fmt.Errorf("finding district rule for %q/%q: %w", state, district, err)
	}
	return &rule, nil
}

// ListPinPrefixRules returns all prefix rules ordered by prefix length
// descending, so callers can take the first match as the most specific one.
func (r *DeliveryRepository) ListPinPrefixRules(ctx context.Context) ([]delivery.PinPrefixRule, error) {
	rows, err := r.pool.Query(ctx, listPinPrefixRulesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing pin prefix rules: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (delivery.PinPrefixRule, error) {
		var rule delivery.PinPrefixRule
		err := row.Scan(&rule.Prefix, &rule.Charge)
		return rule, err
	})
}

// UpsertZones writes pin-code zones in one batch round trip. Used by the
// ingest and seed tools, not the request path.
func (r *DeliveryRepository) UpsertZones(ctx context.Context, zones []delivery.Zone) error {
	batch := &pgx.Batch{}
	for _, z := range zones {
		batch.Queue(upsertZoneSQL, z.PinCode, z.Charge)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer func() { _ = br.Close() }()

	for range zones {
		if _, err := br.Exec(); err != nil {
			return errors.Wrap(err, "upsert delivery zone")
		}
	}
	return nil
}

// UpsertDistrictRule writes one (state, district) charge rule.
func (r *DeliveryRepository) UpsertDistrictRule(ctx context.Context, rule delivery.DistrictRule) error {
	if _, err := r.pool.Exec(ctx, upsertDistrictRuleSQL, rule.State, rule.District, rule.Charge); err != nil {
		return errors.Wrapf(err, "upsert district rule %s/%s", rule.State, rule.District)
	}
	return nil
}

// UpsertPinPrefixRule writes one pin-prefix charge rule.
func (r *DeliveryRepository) UpsertPinPrefixRule(ctx context.Context, rule delivery.PinPrefixRule) error {
	if _, err := r.pool.Exec(ctx, upsertPinPrefixRuleSQL, rule.Prefix, rule.Charge); err != nil {
		return errors.Wrapf(err, "upsert pin prefix rule %s", rule.Prefix)
	}
	return nil
}
