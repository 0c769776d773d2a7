package voucher

import (
	"time"

	"github.com/xenking/birdfarm-cart/internal/domain/money"
)

// Rules evaluates voucher eligibility and discounts against a clock.
type Rules struct {
	now func() time.Time
}

// NewRules returns Rules using now as the clock. A nil now uses time.Now.
func NewRules(now func() time.Time) *Rules {
	if now == nil {
		now = time.Now
	}
	return &Rules{now: now}
}

var defaultRules = NewRules(nil)

// CalculateDiscount is Rules.CalculateDiscount evaluated at wall-clock time.
func CalculateDiscount(subtotal money.Amount, v Voucher, userID string) money.Amount {
	return defaultRules.CalculateDiscount(subtotal, v, userID)
}

// Eligible reports whether v applies to subtotal at all.
//
// userID is reserved for per-user redemption limits and does not affect the
// outcome yet.
func (r *Rules) Eligible(subtotal money.Amount, v Voucher, userID string) bool {
	v = v.Normalize()
	switch {
	case subtotal < v.ConditionPrice:
		return false
	case v.Quantity <= 0:
		return false
	case v.Expired(r.now()):
		return false
	}
	return true
}

// CalculateDiscount returns the discount v grants on subtotal.
// Ineligibility yields zero rather than an error. The result is capped by
// the voucher's maximum and never exceeds subtotal.
func (r *Rules) CalculateDiscount(subtotal money.Amount, v Voucher, userID string) money.Amount {
	if subtotal <= 0 || !r.Eligible(subtotal, v, userID) {
		return money.Zero
	}
	v = v.Normalize()

	raw := money.PercentOf(subtotal, v.DiscountPercent)
	discount := money.Min(raw, v.MaxDiscountValue)
	return money.Min(discount, subtotal)
}
