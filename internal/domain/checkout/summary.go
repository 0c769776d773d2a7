// Package checkout prices resolved carts and drives the checkout flow of a
// client session.
package checkout

import (
	"github.com/xenking/birdfarm-cart/internal/domain/catalog"
	"github.com/xenking/birdfarm-cart/internal/domain/money"
	"github.com/xenking/birdfarm-cart/internal/domain/resolver"
	"github.com/xenking/birdfarm-cart/internal/domain/voucher"
)

// Summary is the priced view of a resolved cart.
type Summary struct {
	Subtotal money.Amount
	Discount money.Amount
	Total    money.Amount
	// Voucher is the selected voucher, nil when none is selected.
	Voucher *voucher.Voucher
	// Unavailable lists sold products. They are not priced.
	Unavailable []catalog.Reference
}

// Calculator computes summaries with a fixed set of voucher rules.
type Calculator struct {
	rules *voucher.Rules
}

// NewCalculator creates a Calculator. A nil rules uses wall-clock time.
func NewCalculator(rules *voucher.Rules) *Calculator {
	if rules == nil {
		rules = voucher.NewRules(nil)
	}
	return &Calculator{rules: rules}
}

// ComputeSummary prices res with the optional selected voucher. It never
// fails: dangling and sold entries are left out of the subtotal, and an
// ineligible voucher grants nothing.
func (c *Calculator) ComputeSummary(res *resolver.Result, selected *voucher.Voucher, userID string) Summary {
	var s Summary
	if res != nil {
		prices := make([]money.Amount, 0, len(res.Birds)+len(res.Nests))
		for _, p := range res.Products() {
			if p.Sold {
				s.Unavailable = append(s.Unavailable, p.Ref())
				continue
			}
			prices = append(prices, p.Price)
		}
		s.Subtotal = money.Sum(prices...)
	}

	if selected != nil {
		v := *selected
		s.Voucher = &v
		s.Discount = c.rules.CalculateDiscount(s.Subtotal, v, userID)
	}
	s.Total = money.Sub(s.Subtotal, s.Discount)
	return s
}

// RemovalCandidates lists the entries of res a client should offer to drop:
// dangling references first, then sold products.
func RemovalCandidates(res *resolver.Result) []catalog.Reference {
	if res == nil {
		return nil
	}
	out := append([]catalog.Reference(nil), res.Dangling...)
	for _, p := range res.Products() {
		if p.Sold {
			out = append(out, p.Ref())
		}
	}
	return out
}
