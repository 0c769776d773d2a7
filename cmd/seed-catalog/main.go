// Command seed-catalog loads a catalog export into the catalog database.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"

	"github.com/xenking/birdfarm-cart/internal/catalogclient"
	"github.com/xenking/birdfarm-cart/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		catalogFile string
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to the catalog export, optionally gzipped (.gz)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}

	app.Run(func(ctx context.Context, lg *zap.Logger, _ *app.Telemetry) error {
		if databaseURL == "" {
			return errors.New("database URL is required: set --database-url or DATABASE_URL")
		}
		if err := run(ctx, lg, databaseURL, catalogFile); err != nil {
			return errors.Wrap(err, "seed")
		}
		lg.Info("Seed completed")
		return nil
	})
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, catalogFile string) error {
	lg.Info("Reading catalog export", zap.String("path", catalogFile))
	data, err := readExport(catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}
	dump, err := catalogclient.DecodeDump(data)
	if err != nil {
		return errors.Wrap(err, "parse catalog file")
	}

	lg.Info("Connecting to catalog database")
	pool, err := postgres.Connect(ctx, databaseURL, postgres.PoolConfig{Migrate: true})
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	repo := postgres.NewCatalogRepository(pool)
	products := append(dump.Birds, dump.Nests...)
	if err := repo.UpsertProducts(ctx, products); err != nil {
		return errors.Wrap(err, "upsert products")
	}
	lg.Info("Upserted products",
		zap.Int("birds", len(dump.Birds)),
		zap.Int("nests", len(dump.Nests)),
	)

	if err := repo.UpsertVouchers(ctx, dump.Vouchers); err != nil {
		return errors.Wrap(err, "upsert vouchers")
	}
	lg.Info("Upserted vouchers", zap.Int("count", len(dump.Vouchers)))
	return nil
}

// readExport reads path, decompressing it when it ends in .gz.
func readExport(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	if !strings.HasSuffix(path, ".gz") {
		return io.ReadAll(f)
	}
	zr, err := pgzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrap(err, "open gzip")
	}
	defer func() { _ = zr.Close() }()
	return io.ReadAll(zr)
}
