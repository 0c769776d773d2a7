package voucher

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/birdfarm-cart/internal/domain/money"
)

var (
	// ErrNotFound is returned when a voucher id is not in the fetched list.
	ErrNotFound = errors.New("voucher not found")
	// ErrNotSelectable is returned when a voucher yields no discount for the
	// current subtotal and so cannot be chosen.
	ErrNotSelectable = errors.New("voucher not selectable")
)

// Voucher is an immutable snapshot of a discount rule fetched from the catalog.
type Voucher struct {
	ID string
	// DiscountPercent is kept in [0, 100].
	DiscountPercent  decimal.Decimal
	MaxDiscountValue money.Amount
	ConditionPrice   money.Amount
	// Quantity is the number of redemptions left, never negative.
	Quantity int
	// ExpiredAt is the instant after which the voucher is void. The zero
	// value means the voucher does not expire.
	ExpiredAt time.Time
}

var hundred = decimal.NewFromInt(100)

// Normalize clamps out-of-range fields into their valid ranges.
func (v Voucher) Normalize() Voucher {
	switch {
	case v.DiscountPercent.IsNegative():
		v.DiscountPercent = decimal.Zero
	case v.DiscountPercent.GreaterThan(hundred):
		v.DiscountPercent = hundred
	}
	if v.Quantity < 0 {
		v.Quantity = 0
	}
	if v.MaxDiscountValue < 0 {
		v.MaxDiscountValue = money.Zero
	}
	if v.ConditionPrice < 0 {
		v.ConditionPrice = money.Zero
	}
	return v
}

// Expired reports whether v is past its expiry at now.
func (v Voucher) Expired(now time.Time) bool {
	return !v.ExpiredAt.IsZero() && now.After(v.ExpiredAt)
}

// Find returns the voucher with the given id.
func Find(vouchers []Voucher, id string) (Voucher, error) {
	for _, v := range vouchers {
		if v.ID == id {
			return v, nil
		}
	}
	return Voucher{}, ErrNotFound
}
