package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/birdfarm-cart/internal/domain/catalog"
	"github.com/xenking/birdfarm-cart/internal/domain/money"
	"github.com/xenking/birdfarm-cart/internal/domain/voucher"
)

const (
	birdsByIDsSQL = `SELECT id, name, sell_price, sold, image_urls
		FROM birds WHERE id = ANY($1)`

	nestsByIDsSQL = `SELECT id, name, price, sold, image_urls
		FROM nests WHERE id = ANY($1)`

	listVouchersSQL = `SELECT id, discount_percent, max_discount_value, condition_price, quantity, expired_at
		FROM vouchers ORDER BY created_at, id`
)

var _ catalog.Catalog = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Catalog backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// BirdsByIDs returns the birds matching any of the given ids.
func (r *CatalogRepository) BirdsByIDs(ctx context.Context, ids []string) ([]catalog.Product, error) {
	return r.products(ctx, birdsByIDsSQL, catalog.KindBird, ids)
}

// NestsByIDs returns the nests matching any of the given ids.
func (r *CatalogRepository) NestsByIDs(ctx context.Context, ids []string) ([]catalog.Product, error) {
	return r.products(ctx, nestsByIDsSQL, catalog.KindNest, ids)
}

func (r *CatalogRepository) products(ctx context.Context, query string, kind catalog.Kind, ids []string) ([]catalog.Product, error) {
	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("getting %ss by ids: %w", kind, err)
	}
	products, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Product, error) {
		var (
			p     catalog.Product
			price decimal.Decimal
		)
		if err := row.Scan(&p.ID, &p.Name, &price, &p.Sold, &p.ImageURLs); err != nil {
			return p, err
		}
		p.Kind = kind
		p.Price = money.FromDecimal(price)
		return p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %ss: %w", kind, err)
	}
	return products, nil
}

// ListVouchers returns every voucher in creation order, including spent and
// expired ones. Eligibility is decided by the voucher rules.
func (r *CatalogRepository) ListVouchers(ctx context.Context) ([]voucher.Voucher, error) {
	rows, err := r.pool.Query(ctx, listVouchersSQL)
	if err != nil {
		return nil, fmt.Errorf("listing vouchers: %w", err)
	}
	vouchers, err := pgx.CollectRows(rows, scanVoucher)
	if err != nil {
		return nil, fmt.Errorf("scanning vouchers: %w", err)
	}
	return vouchers, nil
}

func scanVoucher(row pgx.CollectableRow) (voucher.Voucher, error) {
	var (
		v                   voucher.Voucher
		maxDiscount, minSub decimal.Decimal
		expiredAt           *time.Time
	)
	err := row.Scan(&v.ID, &v.DiscountPercent, &maxDiscount, &minSub, &v.Quantity, &expiredAt)
	if err != nil {
		return v, err
	}
	v.MaxDiscountValue = money.FromDecimal(maxDiscount)
	v.ConditionPrice = money.FromDecimal(minSub)
	if expiredAt != nil {
		v.ExpiredAt = *expiredAt
	}
	return v.Normalize(), nil
}

const (
	upsertBirdSQL = `INSERT INTO birds (id, name, sell_price, sold, image_urls)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, sell_price = EXCLUDED.sell_price,
			sold = EXCLUDED.sold, image_urls = EXCLUDED.image_urls`

	upsertNestSQL = `INSERT INTO nests (id, name, price, sold, image_urls)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, price = EXCLUDED.price,
			sold = EXCLUDED.sold, image_urls = EXCLUDED.image_urls`

	upsertVoucherSQL = `INSERT INTO vouchers (id, discount_percent, max_discount_value, condition_price, quantity, expired_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET discount_percent = EXCLUDED.discount_percent,
			max_discount_value = EXCLUDED.max_discount_value,
			condition_price = EXCLUDED.condition_price,
			quantity = EXCLUDED.quantity,
			expired_at = EXCLUDED.expired_at`
)

// UpsertProducts inserts or replaces products in a single batch.
func (r *CatalogRepository) UpsertProducts(ctx context.Context, products []catalog.Product) error {
	batch := &pgx.Batch{}
	for _, p := range products {
		query := upsertBirdSQL
		if p.Kind == catalog.KindNest {
			query = upsertNestSQL
		}
		images := p.ImageURLs
		if images == nil {
			images = []string{}
		}
		batch.Queue(query, p.ID, p.Name, p.Price.Decimal(), p.Sold, images)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting products: %w", err)
	}
	return nil
}

// UpsertVouchers inserts or replaces vouchers in a single batch. A zero
// expiry is stored as NULL.
func (r *CatalogRepository) UpsertVouchers(ctx context.Context, vouchers []voucher.Voucher) error {
	batch := &pgx.Batch{}
	for _, v := range vouchers {
		var expiredAt *time.Time
		if !v.ExpiredAt.IsZero() {
			t := v.ExpiredAt
			expiredAt = &t
		}
		batch.Queue(upsertVoucherSQL,
			v.ID, v.DiscountPercent, v.MaxDiscountValue.Decimal(), v.ConditionPrice.Decimal(), v.Quantity, expiredAt,
		)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting vouchers: %w", err)
	}
	return nil
}
