package ledger

import "github.com/shopspring/decimal"

// =============================================================================
// LEDGER ARITHMETIC - Pure functions, no I/O
// =============================================================================

// Assessment is the outcome of opening a new month for a member.
type Assessment struct {
	Monthly decimal.Decimal
	// ContributionAmount is the existing credit applied to the new month,
	// always within [0, Monthly].
	ContributionAmount decimal.Decimal
	// BalanceDue is what remains owed on the new contribution.
	BalanceDue decimal.Decimal
	// NewMemberBalance is the member balance after the month is opened.
	// It is always currentBalance - Monthly, not currentBalance -
	// ContributionAmount: the unpaid part of the month becomes debt.
	NewMemberBalance decimal.Decimal
	Status           PaymentStatus
}

// NeedsBroughtForward reports whether existing credit covers part of the
// month, which is recorded as a "BALANCE B/F" payment.
func (a Assessment) NeedsBroughtForward() bool { return a.ContributionAmount.IsPositive() }

// Assess applies a member's current balance to a new month's due.
//
// A member holding credit has it applied automatically, up to the monthly
// amount. A member at zero or in debt starts the month fully unpaid.
func Assess(currentBalance, monthly decimal.Decimal) Assessment {
	var applied decimal.Decimal
	switch {
	case currentBalance.GreaterThan(monthly):
		applied = monthly
	case !currentBalance.IsPositive():
		applied = decimal.Zero
	default:
		applied = currentBalance
	}
	due := monthly.Sub(applied)
	return Assessment{
		Monthly:            monthly,
		ContributionAmount: applied,
		BalanceDue:         due,
		NewMemberBalance:   currentBalance.Sub(monthly),
		Status:             StatusFor(due, monthly),
	}
}

// StatusFor derives a contribution status from its remaining balance.
func StatusFor(balance, amount decimal.Decimal) PaymentStatus {
	switch {
	case balance.IsZero():
		return StatusPaid
	case balance.Equal(amount):
		return StatusUnpaid
	default:
		return StatusPartial
	}
}

// AppliedAmount is the part of a tendered payment that reduces a
// contribution balance: min(tendered, balance), never negative.
func AppliedAmount(tendered, contributionBalance decimal.Decimal) decimal.Decimal {
	if !contributionBalance.IsPositive() || !tendered.IsPositive() {
		return decimal.Zero
	}
	return decimal.Min(tendered, contributionBalance)
}
