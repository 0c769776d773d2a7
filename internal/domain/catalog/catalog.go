// Package catalog describes the authoritative product and voucher records
// the cart is priced against.
package catalog

import (
	"context"

	"github.com/xenking/birdfarm-cart/internal/domain/money"
	"github.com/xenking/birdfarm-cart/internal/domain/voucher"
)

// Kind discriminates the two product families a cart can hold.
type Kind string

const (
	KindBird Kind = "bird"
	KindNest Kind = "nest"
)

// Reference points at a product by kind and id.
type Reference struct {
	Kind Kind
	ID   string
}

// Product is the current catalog record for a bird or a nest.
type Product struct {
	ID        string
	Kind      Kind
	Name      string
	Price     money.Amount
	ImageURLs []string
	// Sold marks products that can no longer be bought.
	Sold bool
}

// Ref returns the reference identifying p.
func (p Product) Ref() Reference {
	return Reference{Kind: p.Kind, ID: p.ID}
}

// Thumbnail returns the first image URL, or "" when there is none.
func (p Product) Thumbnail() string {
	if len(p.ImageURLs) == 0 {
		return ""
	}
	return p.ImageURLs[0]
}

// Products looks up products in batches. Ids without a record are simply
// absent from the result.
type Products interface {
	BirdsByIDs(ctx context.Context, ids []string) ([]Product, error)
	NestsByIDs(ctx context.Context, ids []string) ([]Product, error)
}

// Vouchers lists the vouchers currently offered.
type Vouchers interface {
	ListVouchers(ctx context.Context) ([]voucher.Voucher, error)
}

// Catalog is the full read surface of the catalog service.
type Catalog interface {
	Products
	Vouchers
}
