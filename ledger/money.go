package ledger

import "github.com/shopspring/decimal"

// Cents converts an amount to integer minor units, rounding half away from
// zero. Stores keep money as cents so they can increment it atomically.
func Cents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

// FromCents converts integer minor units back to an amount.
func FromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

// MaxAmount is the largest amount a single payment, adjustment or policy
// may carry.
var MaxAmount = decimal.NewFromInt(10_000_000)

// ValidateAmount requires a positive amount in whole cents, no larger than
// MaxAmount. Stores round to cents, so finer amounts would be written as a
// different value than the ledger applied.
func ValidateAmount(field string, d decimal.Decimal) error {
	switch {
	case !d.IsPositive():
		return invalid(field, "must be greater than 0")
	case !d.Equal(d.Round(2)):
		return invalid(field, "must not have more than 2 decimal places")
	case d.GreaterThan(MaxAmount):
		return invalid(field, "must not exceed %s", MaxAmount)
	}
	return nil
}
