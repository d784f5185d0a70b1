// Command delivery-ingest loads serviceable pin codes from courier coverage
// dumps into the delivery_zones table.
//
// Each courier publishes a gzipped list of pin codes it covers, one per line.
// A pin is considered serviceable only when at least two couriers cover it.
// The dumps run to tens of millions of lines each, so coverage is checked
// with per-file bloom filters instead of holding every pin in memory.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/quickkart/checkout/internal/domain/delivery"
	"github.com/quickkart/checkout/internal/repository"
)

const (
	bloomCapacity = 50_000_000
	bloomFPR      = 0.001
	numFiles      = 3
	progressEvery = 5_000_000
	pinLen        = 6
	writeBatch    = 1000
)

// zoneCharges maps the leading pin digit (postal circle) to the delivery
// charge for exact-pin zones ingested from coverage dumps.
var zoneCharges = map[byte]decimal.Decimal{
	'1': decimal.NewFromInt(40),
	'2': decimal.NewFromInt(45),
	'3': decimal.NewFromInt(45),
	'4': decimal.NewFromInt(35),
	'5': decimal.NewFromInt(30),
	'6': decimal.NewFromInt(40),
	'7': decimal.NewFromInt(55),
	'8': decimal.NewFromInt(60),
}

var defaultZoneCharge = decimal.NewFromInt(50)

// fileResult holds candidate pins found in a single file during pass 2.
type fileResult struct {
	candidates map[string]uint
}

func main() {
	var (
		dataDir     string
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing couriercoverN.gz files")
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

	if err := run(ctx, dataDir, databaseURL); err != nil {
		slog.Error("delivery ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("delivery ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string) error {
	files := make([]string, numFiles)
	for i := range numFiles {
		files[i] = filepath.Join(dataDir, fmt.Sprintf("couriercover%d.gz", i+1))
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	// Pass 1: build bloom filters concurrently.
	slog.Info("pass 1: building bloom filters", slog.Int("files", numFiles))

	filters, err := buildBloomFilters(ctx, files)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	// Pass 2: find pins covered by 2+ couriers.
	slog.Info("pass 2: finding serviceable pins")

	pins, err := findServiceablePins(ctx, files, filters)
	if err != nil {
		return errors.Wrap(err, "find serviceable pins")
	}

	slog.Info("serviceable pins found", slog.Int("count", len(pins)))

	if len(pins) == 0 {
		slog.Info("no serviceable pins to insert")
		return nil
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := writeZones(ctx, repository.NewDeliveryRepository(pool), pins); err != nil {
		return errors.Wrap(err, "write delivery zones")
	}

	return nil
}

// buildBloomFilters creates one bloom filter per coverage file, concurrently.
func buildBloomFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(buildFilterForFile(ctx, i, f, filters))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return filters, nil
}

func buildFilterForFile(ctx context.Context, idx int, path string, filters []*bloom.BloomFilter) func() error {
	return func() error {
		filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
		var count uint64

		if err := streamGzFile(ctx, path, func(pin string) {
			if !isPin(pin) {
				return
			}
			filter.AddString(pin)
			count++
			if count%progressEvery == 0 {
				slog.Info("pass 1 progress",
					slog.Int("file", idx+1),
					slog.Uint64("pins", count),
				)
			}
		}); err != nil {
			return errors.Wrapf(err, "build filter for file %d", idx+1)
		}

		slog.Info("pass 1 complete",
			slog.Int("file", idx+1),
			slog.Uint64("total_pins", count),
		)

		filters[idx] = filter
		return nil
	}
}

// findServiceablePins re-streams each file and checks pins against OTHER
// files' bloom filters. A pin is serviceable if it appears in 2 or more files.
func findServiceablePins(ctx context.Context, files []string, filters []*bloom.BloomFilter) ([]string, error) {
	results := make([]fileResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(findCandidatesInFile(ctx, i, f, filters, results))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Merge bitmasks from all files.
	merged := make(map[string]uint)
	for _, r := range results {
		for pin, mask := range r.candidates {
			merged[pin] |= mask
		}
	}

	// Keep pins appearing in 2+ files.
	var serviceable []string
	for pin, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			serviceable = append(serviceable, pin)
		}
	}

	return serviceable, nil
}

func findCandidatesInFile(
	ctx context.Context,
	idx int,
	path string,
	filters []*bloom.BloomFilter,
	results []fileResult,
) func() error {
	return func() error {
		candidates := make(map[string]uint)
		fileBit := uint(1) << uint(idx)
		var count uint64

		if err := streamGzFile(ctx, path, func(pin string) {
			if !isPin(pin) {
				return
			}

			count++
			if count%progressEvery == 0 {
				slog.Info("pass 2 progress",
					slog.Int("file", idx+1),
					slog.Uint64("pins", count),
				)
			}

			// Check if this pin appears in any OTHER courier's filter.
			for j, f := range filters {
				if j == idx {
					continue
				}
				if f.TestString(pin) {
					candidates[pin] |= fileBit
					break
				}
			}
		}); err != nil {
			return errors.Wrapf(err, "scan file %d for candidates", idx+1)
		}

		slog.Info("pass 2 complete",
			slog.Int("file", idx+1),
			slog.Uint64("total_pins", count),
			slog.Int("candidates", len(candidates)),
		)

		results[idx] = fileResult{candidates: candidates}
		return nil
	}
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(pin string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}

func isPin(s string) bool {
	if len(s) != pinLen {
		return false
	}
	for i := range len(s) {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s[0] != '0'
}

// writeZones upserts all serviceable pins into delivery_zones in batches.
func writeZones(ctx context.Context, repo *repository.DeliveryRepository, pins []string) error {
	slog.Info("writing delivery zones", slog.Int("count", len(pins)))

	zones := make([]delivery.Zone, 0, writeBatch)
	written := 0
	flush := func() error {
		if len(zones) == 0 {
			return nil
		}
		if err := repo.UpsertZones(ctx, zones); err != nil {
			return err
		}
		written += len(zones)
		zones = zones[:0]
		slog.Info("write progress", slog.Int("written", written), slog.Int("total", len(pins)))
		return nil
	}

	for _, pin := range pins {
		charge, ok := zoneCharges[pin[0]]
		if !ok {
			charge = defaultZoneCharge
		}
		zones = append(zones, delivery.Zone{PinCode: pin, Charge: charge})
		if len(zones) == writeBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}
