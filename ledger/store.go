/*
store.go - Persistence interface for the contribution ledger

PURPOSE:
  Defines the boundary between ledger logic and the document store.
  The store exposes point reads, ordered queries, and ONE write operation:
  Commit, which applies a Batch of typed writes atomically.

LOGICAL LAYOUT:
  members/{member_id}
  members/{member_id}/contributions/{YYYY-MM-01}
  members/{member_id}/payments/{payment_id}
  monthly_stats/{YYYY-MM-01}
  stats/singleton
  runs/{YYYY-MM-01}

ATOMIC BATCHES:
  Commit() is all-or-nothing. Recording a payment touches four documents
  (payment, contribution, member, monthly stats); either all four change
  or none do.

INCREMENTS:
  Money and counters are changed with signed deltas (IncrementMember,
  IncrementMonthlyStats, IncrementStats). Stores apply them with an atomic
  increment primitive, never read-modify-write outside the commit, so
  concurrent writers cannot lose updates.

PRECONDITIONS:
  Some writes carry a precondition checked inside the commit:
    CreateMember / CreateContribution  document must be absent  -> ErrAlreadyExists
    Update* / Delete* / IncrementMember document must exist     -> ErrNotFound
    UpdateContribution.ExpectBalance   balance unchanged        -> ErrConcurrentModification
  A failed precondition rejects the whole batch.

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory, for tests and dev
  - store/sqlite/sqlite.go: SQLite, integer-cent columns
  - store/mongostore/mongo.go: MongoDB, multi-document transactions

SEE ALSO:
  - batch.go: Coordinator (size limit, chunked sequences)
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - Reads plus one atomic write
// =============================================================================

// Reader is the read side of the store.
type Reader interface {
	GetMember(ctx context.Context, id MemberID) (Member, error)
	ListMembers(ctx context.Context, filter MemberFilter) ([]Member, error)

	GetContribution(ctx context.Context, memberID MemberID, month Month) (Contribution, error)
	// ListMemberContributions returns a member's contributions, newest month first.
	ListMemberContributions(ctx context.Context, memberID MemberID) ([]Contribution, error)
	// ListContributionsByMonth returns every member's contribution for month,
	// ordered by first name.
	ListContributionsByMonth(ctx context.Context, month Month) ([]Contribution, error)

	GetPayment(ctx context.Context, memberID MemberID, id PaymentID) (Payment, error)
	// ListMemberPayments returns a member's payments, newest payment date first.
	ListMemberPayments(ctx context.Context, memberID MemberID) ([]Payment, error)
	// RecentPayments returns the latest payments across all members.
	RecentPayments(ctx context.Context, limit int) ([]Payment, error)

	GetMonthlyStats(ctx context.Context, month Month) (MonthlyStats, error)
	ListMonthlyStats(ctx context.Context, query StatsQuery) ([]MonthlyStats, error)
	// GetStats returns the lifetime singleton, zero valued if never written.
	GetStats(ctx context.Context) (Stats, error)

	GetRun(ctx context.Context, month Month) (ScheduledRun, error)
}

// Store is a Reader that can commit batches.
type Store interface {
	Reader

	// Commit applies every write in b atomically, in order.
	Commit(ctx context.Context, b *Batch) error
}

// MemberFilter narrows ListMembers. Zero fields match everything.
type MemberFilter struct {
	Role       Role
	Status     MemberStatus
	NamePrefix string // case-insensitive prefix of the first name
}

// StatsQuery orders and limits ListMonthlyStats.
type StatsQuery struct {
	Descending bool
	Limit      int // 0 = no limit
}

// =============================================================================
// WRITES
// =============================================================================

type WriteKind string

const (
	WriteCreateMember          WriteKind = "create_member"
	WriteUpdateMember          WriteKind = "update_member"
	WriteDeleteMember          WriteKind = "delete_member"
	WriteIncrementMember       WriteKind = "increment_member"
	WriteCreateContribution    WriteKind = "create_contribution"
	WriteUpdateContribution    WriteKind = "update_contribution"
	WriteDeleteContribution    WriteKind = "delete_contribution"
	WritePutPayment            WriteKind = "put_payment"
	WriteDeletePayment         WriteKind = "delete_payment"
	WriteIncrementMonthlyStats WriteKind = "increment_monthly_stats"
	WriteSetMonthlyStats       WriteKind = "set_monthly_stats"
	WriteIncrementStats        WriteKind = "increment_stats"
	WriteRecordRun             WriteKind = "record_run"
)

// Write is one staged document mutation. Only the fields relevant to Kind
// are set.
type Write struct {
	Kind      WriteKind
	MemberID  MemberID
	Month     Month
	PaymentID PaymentID

	Member             *Member
	Profile            *MemberProfile
	MemberDelta        *MemberDelta
	Contribution       *Contribution
	ContributionUpdate *ContributionUpdate
	Payment            *Payment
	StatsDelta         *StatsDelta
	StatsOverwrite     *StatsOverwrite
	Run                *ScheduledRun
}

// MemberDelta is a signed increment of a member's money fields.
type MemberDelta struct {
	Balance             decimal.Decimal
	ContributionBalance decimal.Decimal
}

// ContributionUpdate changes an existing contribution.
type ContributionUpdate struct {
	// ExpectBalance, when set, makes the update conditional on the stored
	// balance still being this value.
	ExpectBalance  *decimal.Decimal
	BalanceDelta   decimal.Decimal
	Status         PaymentStatus
	AddPayments    []Payment
	RemovePayments []PaymentID
}

// StatsDelta is a signed increment of MonthlyStats counters. Only
// TotalMembers applies to the lifetime singleton.
type StatsDelta struct {
	Amount        decimal.Decimal
	Contribution  decimal.Decimal
	PaymentsCount int64
	NewMembers    int64
	TotalMembers  int64
}

func (d StatsDelta) IsZero() bool {
	return d.Amount.IsZero() && d.Contribution.IsZero() &&
		d.PaymentsCount == 0 && d.NewMembers == 0 && d.TotalMembers == 0
}

// Add sums two deltas.
func (d StatsDelta) Add(o StatsDelta) StatsDelta {
	return StatsDelta{
		Amount:        d.Amount.Add(o.Amount),
		Contribution:  d.Contribution.Add(o.Contribution),
		PaymentsCount: d.PaymentsCount + o.PaymentsCount,
		NewMembers:    d.NewMembers + o.NewMembers,
		TotalMembers:  d.TotalMembers + o.TotalMembers,
	}
}

// StatsOverwrite sets MonthlyStats fields to absolute values. Nil fields
// are left untouched.
type StatsOverwrite struct {
	Amount        *decimal.Decimal
	Contribution  *decimal.Decimal
	PaymentsCount *int64
	TotalMembers  *int64
}

// =============================================================================
// BATCH - Ordered set of writes committed atomically
// =============================================================================

type Batch struct {
	writes []Write
}

func NewBatch() *Batch { return &Batch{} }

func (b *Batch) Len() int        { return len(b.writes) }
func (b *Batch) Writes() []Write { return append([]Write(nil), b.writes...) }

// Append adds every write of other to b.
func (b *Batch) Append(other *Batch) {
	if other != nil {
		b.writes = append(b.writes, other.writes...)
	}
}

func (b *Batch) add(w Write) *Batch {
	b.writes = append(b.writes, w)
	return b
}

func (b *Batch) CreateMember(m Member) *Batch {
	return b.add(Write{Kind: WriteCreateMember, MemberID: m.ID, Member: &m})
}

func (b *Batch) UpdateMember(id MemberID, p MemberProfile) *Batch {
	return b.add(Write{Kind: WriteUpdateMember, MemberID: id, Profile: &p})
}

func (b *Batch) DeleteMember(id MemberID) *Batch {
	return b.add(Write{Kind: WriteDeleteMember, MemberID: id})
}

func (b *Batch) IncrementMember(id MemberID, d MemberDelta) *Batch {
	return b.add(Write{Kind: WriteIncrementMember, MemberID: id, MemberDelta: &d})
}

func (b *Batch) CreateContribution(c Contribution) *Batch {
	c = c.Clone()
	return b.add(Write{Kind: WriteCreateContribution, MemberID: c.MemberID, Month: c.Month, Contribution: &c})
}

func (b *Batch) UpdateContribution(memberID MemberID, month Month, u ContributionUpdate) *Batch {
	return b.add(Write{Kind: WriteUpdateContribution, MemberID: memberID, Month: month, ContributionUpdate: &u})
}

func (b *Batch) DeleteContribution(memberID MemberID, month Month) *Batch {
	return b.add(Write{Kind: WriteDeleteContribution, MemberID: memberID, Month: month})
}

func (b *Batch) PutPayment(p Payment) *Batch {
	return b.add(Write{Kind: WritePutPayment, MemberID: p.MemberID, PaymentID: p.ID, Payment: &p})
}

func (b *Batch) DeletePayment(memberID MemberID, id PaymentID) *Batch {
	return b.add(Write{Kind: WriteDeletePayment, MemberID: memberID, PaymentID: id})
}

func (b *Batch) IncrementMonthlyStats(month Month, d StatsDelta) *Batch {
	return b.add(Write{Kind: WriteIncrementMonthlyStats, Month: month, StatsDelta: &d})
}

func (b *Batch) SetMonthlyStats(month Month, o StatsOverwrite) *Batch {
	return b.add(Write{Kind: WriteSetMonthlyStats, Month: month, StatsOverwrite: &o})
}

func (b *Batch) IncrementStats(totalMembers int64) *Batch {
	return b.add(Write{Kind: WriteIncrementStats, StatsDelta: &StatsDelta{TotalMembers: totalMembers}})
}

func (b *Batch) RecordRun(r ScheduledRun) *Batch {
	return b.add(Write{Kind: WriteRecordRun, Month: r.Month, Run: &r})
}
