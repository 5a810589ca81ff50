package ledger_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/welfare/contribution-ledger/ledger"
)

// =============================================================================
// ASSESSMENT PROPERTIES
// =============================================================================

func TestAssess_AppliedAmountWithinBounds(t *testing.T) {
	// GIVEN: balances from deep debt to large credit
	// WHEN: assessing against several monthly amounts
	// THEN: 0 <= applied <= monthly and due == monthly - applied

	for _, monthly := range []int64{200, 500, 1000} {
		for balance := int64(-2000); balance <= 2000; balance += 50 {
			a := ledger.Assess(dec(balance), dec(monthly))

			assert.False(t, a.ContributionAmount.IsNegative(), "balance %d", balance)
			assert.True(t, a.ContributionAmount.LessThanOrEqual(dec(monthly)), "balance %d", balance)
			assert.True(t, a.BalanceDue.Equal(dec(monthly).Sub(a.ContributionAmount)), "balance %d", balance)
			assert.True(t, a.NewMemberBalance.Equal(dec(balance-monthly)), "balance %d", balance)
			assert.Equal(t, ledger.StatusFor(a.BalanceDue, dec(monthly)), a.Status)
		}
	}
}

func TestAssess_CreditCoversWholeMonth(t *testing.T) {
	// GIVEN: monthly 500, member holds 700 credit
	a := ledger.Assess(dec(700), dec(500))

	// THEN: the whole month is paid from credit, 200 credit remains
	assert.True(t, a.ContributionAmount.Equal(dec(500)))
	assert.True(t, a.BalanceDue.IsZero())
	assert.True(t, a.NewMemberBalance.Equal(dec(200)))
	assert.Equal(t, ledger.StatusPaid, a.Status)
	assert.True(t, a.NeedsBroughtForward())
}

func TestAssess_DebtStartsMonthUnpaid(t *testing.T) {
	// GIVEN: monthly 500, member owes 100
	a := ledger.Assess(dec(-100), dec(500))

	// THEN: nothing applied, debt grows by the monthly amount
	assert.True(t, a.ContributionAmount.IsZero())
	assert.True(t, a.BalanceDue.Equal(dec(500)))
	assert.True(t, a.NewMemberBalance.Equal(dec(-600)))
	assert.Equal(t, ledger.StatusUnpaid, a.Status)
	assert.False(t, a.NeedsBroughtForward())
}

func TestAssess_PartialCredit(t *testing.T) {
	// GIVEN: monthly 500, member holds 300 credit
	a := ledger.Assess(dec(300), dec(500))

	// THEN: 300 applied, 200 still due, balance goes to -200
	assert.True(t, a.ContributionAmount.Equal(dec(300)))
	assert.True(t, a.BalanceDue.Equal(dec(200)))
	assert.True(t, a.NewMemberBalance.Equal(dec(-200)))
	assert.Equal(t, ledger.StatusPartial, a.Status)
	assert.True(t, a.NeedsBroughtForward())
}

func TestAssess_ZeroBalance(t *testing.T) {
	a := ledger.Assess(decimal.Zero, dec(500))

	assert.True(t, a.ContributionAmount.IsZero())
	assert.Equal(t, ledger.StatusUnpaid, a.Status)
	assert.False(t, a.NeedsBroughtForward())
}

func TestAssess_ExactCredit(t *testing.T) {
	a := ledger.Assess(dec(500), dec(500))

	assert.True(t, a.ContributionAmount.Equal(dec(500)))
	assert.True(t, a.NewMemberBalance.IsZero())
	assert.Equal(t, ledger.StatusPaid, a.Status)
}

// =============================================================================
// STATUS & APPLIED AMOUNT
// =============================================================================

func TestStatusFor_AllReachableBalances(t *testing.T) {
	amount := dec(500)
	for b := int64(0); b <= 500; b++ {
		got := ledger.StatusFor(dec(b), amount)
		switch b {
		case 0:
			assert.Equal(t, ledger.StatusPaid, got)
		case 500:
			assert.Equal(t, ledger.StatusUnpaid, got)
		default:
			assert.Equal(t, ledger.StatusPartial, got, "balance %d", b)
		}
	}
}

func TestStatusFor_FractionalAmounts(t *testing.T) {
	amount := decimal.RequireFromString("250.50")

	assert.Equal(t, ledger.StatusPartial, ledger.StatusFor(decimal.RequireFromString("0.01"), amount))
	assert.Equal(t, ledger.StatusUnpaid, ledger.StatusFor(decimal.RequireFromString("250.5"), amount))
}

func TestAppliedAmount(t *testing.T) {
	tests := []struct {
		name        string
		tendered    int64
		outstanding int64
		want        int64
	}{
		{"overpayment capped at balance", 350, 200, 200},
		{"underpayment applied in full", 100, 200, 100},
		{"exact payment", 200, 200, 200},
		{"settled contribution takes nothing", 100, 0, 0},
		{"non-positive tender", 0, 200, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ledger.AppliedAmount(dec(tc.tendered), dec(tc.outstanding))
			assert.True(t, got.Equal(dec(tc.want)), "got %s", got)
		})
	}
}
