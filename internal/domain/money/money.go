// Package money implements whole-unit VND amounts.
//
// Amounts are never negative: subtraction clamps at zero and conversions
// from decimals floor and clamp. Percent math is carried out exactly and
// only truncated to whole units at the end.
package money

import (
	"math"

	"github.com/shopspring/decimal"
)

// Amount is a non-negative number of whole currency units.
type Amount int64

const (
	// Zero is the empty amount.
	Zero Amount = 0
	// Max is the largest amount; sums saturate at it.
	Max Amount = math.MaxInt64
)

var (
	hundred    = decimal.NewFromInt(100)
	maxDecimal = decimal.NewFromInt(int64(Max))
)

// Add returns a + b, saturating at Max.
func Add(a, b Amount) Amount {
	a, b = clamp(a), clamp(b)
	if a > Max-b {
		return Max
	}
	return a + b
}

// Sub returns a - b, clamped at zero.
func Sub(a, b Amount) Amount {
	if b >= a {
		return Zero
	}
	return clamp(a - b)
}

// Min returns the smaller of a and b.
func Min(a, b Amount) Amount {
	if a < b {
		return a
	}
	return b
}

// Sum adds up all amounts.
func Sum(amounts ...Amount) Amount {
	total := Zero
	for _, a := range amounts {
		total = Add(total, a)
	}
	return total
}

// PercentOf returns percent% of amount rounded down to a whole unit.
// Non-positive percents yield zero.
func PercentOf(amount Amount, percent decimal.Decimal) Amount {
	if amount <= 0 || !percent.IsPositive() {
		return Zero
	}
	v := decimal.NewFromInt(int64(amount)).Mul(percent).Div(hundred)
	return FromDecimal(v)
}

// FromDecimal floors d to a whole unit, clamping into [Zero, Max].
func FromDecimal(d decimal.Decimal) Amount {
	if !d.IsPositive() {
		return Zero
	}
	if d.GreaterThanOrEqual(maxDecimal) {
		return Max
	}
	return Amount(d.Floor().IntPart())
}

// Decimal returns a as a decimal value.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.NewFromInt(int64(a))
}

// Int64 returns a as a plain integer.
func (a Amount) Int64() int64 {
	return int64(a)
}

func clamp(a Amount) Amount {
	if a < 0 {
		return Zero
	}
	return a
}
