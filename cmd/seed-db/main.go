// Command seed-db runs migrations and loads a working set of coupons and
// delivery charge rules for local development and demos.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/quickkart/checkout/internal/domain/coupon"
	"github.com/quickkart/checkout/internal/domain/delivery"
	"github.com/quickkart/checkout/internal/repository"
)

func main() {
	var databaseURL string

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedCoupons(ctx, repository.NewCouponRepository(pool)); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	if err := seedDeliveryRules(ctx, repository.NewDeliveryRepository(pool)); err != nil {
		return errors.Wrap(err, "seed delivery rules")
	}

	return nil
}

func seedCoupons(ctx context.Context, repo *repository.CouponRepository) error {
	slog.Info("seeding coupons")

	yearEnd := time.Date(2026, time.December, 31, 23, 59, 59, 0, time.UTC)

	coupons := []coupon.Coupon{
		{
			Code:        "HAPPYHRS",
			Type:        coupon.TypePercentage,
			Value:       decimal.NewFromInt(18),
			MaxDiscount: decimal.NewFromInt(120),
			Active:      true,
		},
		{
			Code:         "WELCOME50",
			Type:         coupon.TypeFixed,
			Value:        decimal.NewFromInt(50),
			PerUserLimit: 1,
			Active:       true,
		},
		{
			Code:        "FESTIVE10",
			Type:        coupon.TypePercentage,
			Value:       decimal.NewFromInt(10),
			MaxDiscount: decimal.NewFromInt(40),
			ValidUntil:  &yearEnd,
			GlobalLimit: 10000,
			Active:      true,
		},
	}

	for i := range coupons {
		c := &coupons[i]
		if err := repo.UpsertCoupon(ctx, c); err != nil {
			return err
		}
		slog.Info("upserted coupon", slog.String("code", c.Code))
	}

	return nil
}

func seedDeliveryRules(ctx context.Context, repo *repository.DeliveryRepository) error {
	slog.Info("seeding delivery rules")

	zones := []delivery.Zone{
		{PinCode: "560001", Charge: decimal.NewFromInt(30)},
		{PinCode: "560103", Charge: decimal.NewFromInt(35)},
		{PinCode: "110001", Charge: decimal.NewFromInt(40)},
		{PinCode: "400001", Charge: decimal.NewFromInt(35)},
	}
	if err := repo.UpsertZones(ctx, zones); err != nil {
		return err
	}
	slog.Info("upserted zones", slog.Int("count", len(zones)))

	districts := []delivery.DistrictRule{
		{State: "Karnataka", District: "Bengaluru Urban", Charge: decimal.NewFromInt(40)},
		{State: "Maharashtra", District: "Mumbai", Charge: decimal.NewFromInt(45)},
		{State: "Delhi", District: "New Delhi", Charge: decimal.NewFromInt(45)},
	}
	for _, d := range districts {
		if err := repo.UpsertDistrictRule(ctx, d); err != nil {
			return err
		}
		slog.Info("upserted district rule", slog.String("state", d.State), slog.String("district", d.District))
	}

	prefixes := []delivery.PinPrefixRule{
		{Prefix: "56", Charge: decimal.NewFromInt(45)},
		{Prefix: "5601", Charge: decimal.NewFromInt(42)},
		{Prefix: "11", Charge: decimal.NewFromInt(50)},
		{Prefix: "40", Charge: decimal.NewFromInt(48)},
	}
	for _, p := range prefixes {
		if err := repo.UpsertPinPrefixRule(ctx, p); err != nil {
			return err
		}
		slog.Info("upserted pin prefix rule", slog.String("prefix", p.Prefix))
	}

	return nil
}
