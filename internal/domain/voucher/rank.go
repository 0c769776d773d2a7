package voucher

import (
	"slices"

	"github.com/xenking/birdfarm-cart/internal/domain/money"
)

// Label is the presentation hint shown next to a voucher in the picker.
type Label string

const (
	// LabelBestChoice marks the eligible voucher with the highest discount.
	LabelBestChoice Label = "best_choice"
	// LabelLimitedQuantity marks the remaining eligible vouchers.
	LabelLimitedQuantity Label = "limited_quantity"
	// LabelIneligible marks vouchers that grant nothing on the subtotal.
	LabelIneligible Label = "ineligible"
)

// Ranked is a voucher annotated for display.
type Ranked struct {
	Voucher    Voucher
	Discount   money.Amount
	Label      Label
	Selectable bool
}

// Rank orders vouchers by the discount they grant on subtotal, highest
// first. Ties keep fetch order. Ranking is for display only and never
// selects a voucher.
func (r *Rules) Rank(subtotal money.Amount, vouchers []Voucher, userID string) []Ranked {
	ranked := make([]Ranked, len(vouchers))
	for i, v := range vouchers {
		d := r.CalculateDiscount(subtotal, v, userID)
		ranked[i] = Ranked{
			Voucher:    v,
			Discount:   d,
			Selectable: d > 0,
		}
	}

	slices.SortStableFunc(ranked, func(a, b Ranked) int {
		switch {
		case a.Discount > b.Discount:
			return -1
		case a.Discount < b.Discount:
			return 1
		}
		return 0
	})

	best := false
	for i := range ranked {
		switch {
		case !ranked[i].Selectable:
			ranked[i].Label = LabelIneligible
		case !best:
			ranked[i].Label = LabelBestChoice
			best = true
		default:
			ranked[i].Label = LabelLimitedQuantity
		}
	}
	return ranked
}

// Select returns the voucher with id if it currently grants a discount on
// subtotal.
func (r *Rules) Select(subtotal money.Amount, vouchers []Voucher, id, userID string) (Voucher, error) {
	v, err := Find(vouchers, id)
	if err != nil {
		return Voucher{}, err
	}
	if r.CalculateDiscount(subtotal, v, userID) <= 0 {
		return Voucher{}, ErrNotSelectable
	}
	return v, nil
}
