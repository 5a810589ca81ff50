/*
Package ledger provides the monthly contribution ledger of the welfare
association.

PURPOSE:
  Members owe a fixed contribution every calendar month. This package keeps
  four kinds of documents consistent with each other as money moves:
  the member record (rolling balance), the member's contribution for a
  month, the payments recorded against it, and the aggregate statistics.

KEY CONCEPTS IN THIS FILE (types.go):
  - Member:        identity plus financial state (balance, contributionBalance)
  - Contribution:  one per member per month, keyed by member id + Month
  - Payment:       append-only money event, scoped to a member
  - MonthlyStats:  aggregate counters per month, Stats: lifetime counters

BALANCE SIGN CONVENTION:
  Member.Balance > 0  the member holds pre-paid credit
  Member.Balance < 0  the member owes money beyond the current month

DESIGN PRINCIPLES:
  1. Precision: all money is decimal.Decimal, never float64
  2. Atomicity: every mutation is staged in a Batch and committed at once
  3. Injected storage: components receive a Store, there is no global handle
  4. Auditability: every payment carries the actor who recorded it

SEE ALSO:
  - arithmetic.go: contribution amount, balance and status rules
  - store.go: Store interface and Batch writes
  - generator.go, payments.go, members.go, stats.go: ledger operations
*/
package ledger

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS & ENUMS
// =============================================================================

type MemberID string
type PaymentID string

type Role string

const (
	RoleMember        Role = "member"
	RoleAdministrator Role = "administrator"
)

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

type MemberStatus string

const (
	MemberActive    MemberStatus = "active"
	MemberInactive  MemberStatus = "inactive"
	MemberSuspended MemberStatus = "suspended"
)

// PaymentStatus is the derived state of a contribution.
type PaymentStatus string

const (
	StatusPaid    PaymentStatus = "paid"
	StatusUnpaid  PaymentStatus = "unpaid"
	StatusPartial PaymentStatus = "partial"
)

// PaymentType separates dues payments from direct account adjustments.
type PaymentType string

const (
	PaymentContribution PaymentType = "contribution"
	PaymentAccount      PaymentType = "account"
)

// AdjustmentType is the direction of a manual balance adjustment.
type AdjustmentType string

const (
	AdjustTopUp     AdjustmentType = "top_up"
	AdjustDeduction AdjustmentType = "deduction"
)

// Fixed reference numbers written by the ledger itself.
const (
	ReferenceBalanceBroughtForward = "BALANCE B/F"
	ReferenceBackfill              = "B/F"
	ReferenceAccountTopUp          = "ACCOUNT BALANCE TOP UP"
	ReferenceAccountDeduction      = "ACCOUNT BALANCE DEDUCTION"
)

func validRole(r Role) bool { return r == RoleMember || r == RoleAdministrator }
func validGender(g Gender) bool { return g == GenderMale || g == GenderFemale }
func validMemberStatus(s MemberStatus) bool {
	return s == MemberActive || s == MemberInactive || s == MemberSuspended
}

// =============================================================================
// MEMBER
// =============================================================================

// MemberProfile holds the non-financial member fields. Profile edits never
// touch money.
type MemberProfile struct {
	FirstName    string
	LastName     string
	Email        string
	PhoneNumber  string
	MemberNumber string
	WIN          string // welfare identification number
	Role         Role
	Gender       Gender
	Status       MemberStatus
	IsFeesPaid   bool
}

type Member struct {
	ID MemberID
	MemberProfile

	// Balance is mutated only inside ledger batches.
	Balance decimal.Decimal
	// ContributionBalance accumulates dues collected to date.
	ContributionBalance decimal.Decimal

	CreatedAt time.Time
}

func (m Member) FullName() string {
	return strings.TrimSpace(m.FirstName + " " + m.LastName)
}

// =============================================================================
// CONTRIBUTION
// =============================================================================

// Contribution is a member's obligation for one month.
//
// INVARIANTS:
//   - 0 <= Balance <= Amount
//   - Status == StatusFor(Balance, Amount)
//   - Payments is keyed by payment id, removal never matches by value
type Contribution struct {
	MemberID  MemberID
	Month     Month
	FirstName string
	LastName  string

	Amount        decimal.Decimal
	Balance       decimal.Decimal
	Status        PaymentStatus
	PolicyVersion int
	Payments      map[PaymentID]Payment

	ActionBy  string
	CreatedAt time.Time
}

// Paid returns the amount applied to this contribution so far.
func (c Contribution) Paid() decimal.Decimal { return c.Amount.Sub(c.Balance) }

// PaymentList returns the attached payments ordered by payment date.
func (c Contribution) PaymentList() []Payment {
	out := make([]Payment, 0, len(c.Payments))
	for _, p := range c.Payments {
		out = append(out, p)
	}
	SortPayments(out, false)
	return out
}

// Clone returns a copy that shares no maps with c.
func (c Contribution) Clone() Contribution {
	payments := make(map[PaymentID]Payment, len(c.Payments))
	for id, p := range c.Payments {
		payments[id] = p
	}
	c.Payments = payments
	return c
}

// =============================================================================
// PAYMENT
// =============================================================================

type Payment struct {
	ID       PaymentID
	MemberID MemberID
	// ContributionID is the month the payment belongs to. Empty for
	// account payments.
	ContributionID Month
	FirstName      string
	LastName       string

	// Amount is the gross amount tendered.
	Amount decimal.Decimal
	// ContributionAmount is the part of Amount that reduced the
	// contribution balance. The excess is credit on the member balance.
	ContributionAmount decimal.Decimal

	ReferenceNumber string
	PaymentDate     time.Time
	Type            PaymentType
	ActionBy        string
	CreatedAt       time.Time
}

// SortPayments orders payments by payment date, newest first when desc is
// set. Ties break on id so the order is stable across stores.
func SortPayments(ps []Payment, desc bool) {
	sort.SliceStable(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if !a.PaymentDate.Equal(b.PaymentDate) {
			if desc {
				return a.PaymentDate.After(b.PaymentDate)
			}
			return a.PaymentDate.Before(b.PaymentDate)
		}
		if desc {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})
}

// =============================================================================
// STATISTICS
// =============================================================================

// MonthlyStats aggregates one calendar month.
type MonthlyStats struct {
	Month Month
	// Amount is what should have been collected this month.
	Amount decimal.Decimal
	// Contribution is what was actually collected this month.
	Contribution  decimal.Decimal
	PaymentsCount int64
	NewMembers    int64
	TotalMembers  int64
}

func (s MonthlyStats) Outstanding() decimal.Decimal { return s.Amount.Sub(s.Contribution) }

// Stats is the lifetime singleton.
type Stats struct {
	TotalMembers int64
}

// ScheduledRun records that the monthly run completed for a month.
type ScheduledRun struct {
	Month       Month
	Members     int
	Generated   int
	Skipped     int
	CompletedAt time.Time
}
