package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CONTRIBUTION GENERATOR - Opens a month for one member or for everyone
// =============================================================================

// Generator creates the one Contribution per member per month.
//
// Opening a month for a member stages, in one atomic group:
//   - the Contribution (create, rejected if it already exists)
//   - a "BALANCE B/F" payment when existing credit covers part of the month
//   - the member increment: balance -= monthly, contributionBalance += applied
//
// plus a MonthlyStats increment (amount, contribution, paymentsCount).
type Generator struct {
	*deps
}

func NewGenerator(store Store, cfg Config) *Generator {
	return &Generator{deps: newDeps(store, cfg, "generator")}
}

type AddContributionRequest struct {
	MemberID MemberID
	Month    Month // defaults to the current month
	ActionBy string
}

// opening is one member's staged month opening.
type opening struct {
	group        *Batch
	contribution Contribution
	delta        StatsDelta
}

func (g *Generator) open(member Member, month Month, policy ContributionPolicy, actionBy string) opening {
	now := g.now()
	a := Assess(member.Balance, policy.Amount)

	c := Contribution{
		MemberID:      member.ID,
		Month:         month,
		FirstName:     member.FirstName,
		LastName:      member.LastName,
		Amount:        a.Monthly,
		Balance:       a.BalanceDue,
		Status:        a.Status,
		PolicyVersion: policy.Version,
		Payments:      map[PaymentID]Payment{},
		ActionBy:      actionBy,
		CreatedAt:     now,
	}

	group := NewBatch()
	delta := StatsDelta{Contribution: a.ContributionAmount}
	if !g.joinedIn(member, month) {
		delta.Amount = a.Monthly
	}

	var carried *Payment
	if a.NeedsBroughtForward() {
		carried = &Payment{
			ID:                 PaymentID(g.newID()),
			MemberID:           member.ID,
			ContributionID:     month,
			FirstName:          member.FirstName,
			LastName:           member.LastName,
			Amount:             a.ContributionAmount,
			ContributionAmount: a.ContributionAmount,
			ReferenceNumber:    ReferenceBalanceBroughtForward,
			PaymentDate:        now,
			Type:               PaymentContribution,
			ActionBy:           actionBy,
			CreatedAt:          now,
		}
		c.Payments[carried.ID] = *carried
		delta.PaymentsCount = 1
	}

	group.CreateContribution(c)
	if carried != nil {
		group.PutPayment(*carried)
	}
	group.IncrementMember(member.ID, MemberDelta{
		Balance:             a.Monthly.Neg(),
		ContributionBalance: a.ContributionAmount,
	})

	return opening{group: group, contribution: c, delta: delta}
}

// AddContribution opens month for a single member. It fails with
// ErrAlreadyExists if the member already has a contribution for the month;
// the check is part of the commit, so of two concurrent calls exactly one
// succeeds.
func (g *Generator) AddContribution(ctx context.Context, req AddContributionRequest) (Contribution, error) {
	if req.MemberID == "" {
		return Contribution{}, invalid("member_id", "is required")
	}
	month := req.Month
	if month.IsZero() {
		month = g.currentMonth()
	}
	if err := month.Validate(); err != nil {
		return Contribution{}, err
	}
	policy, err := g.policy.For(month)
	if err != nil {
		return Contribution{}, err
	}

	member, err := g.store.GetMember(ctx, req.MemberID)
	if err != nil {
		return Contribution{}, err
	}

	o := g.open(member, month, policy, req.ActionBy)
	batch := NewBatch()
	batch.Append(o.group)
	batch.IncrementMonthlyStats(month, o.delta)

	if err := g.coord.Commit(ctx, batch); err != nil {
		return Contribution{}, err
	}

	g.log.Info().
		Str("member_id", string(member.ID)).
		Str("month", month.String()).
		Str("balance", o.contribution.Balance.String()).
		Str("status", string(o.contribution.Status)).
		Msg("contribution added")
	g.notify(ctx, Event{
		Type:     EventContributionCreated,
		MemberID: member.ID,
		Month:    month,
		Amount:   o.contribution.Amount,
		ActionBy: req.ActionBy,
	})
	return o.contribution, nil
}

// GenerateMonth opens month for every member. Members that already hold a
// contribution for the month are skipped, so the run can be repeated.
//
// Each member's writes are one atomic group. Groups are packed into chunks
// within the store's write limit; every chunk carries the stats increment
// for its own members, the first chunk sets the month's totalMembers from
// the member snapshot, and the last chunk records the ScheduledRun. A
// failure after the first chunk is a PartialCommitError and earlier chunks
// stay committed; running again completes the month.
func (g *Generator) GenerateMonth(ctx context.Context, month Month, actionBy string) (ScheduledRun, error) {
	if err := month.Validate(); err != nil {
		return ScheduledRun{}, err
	}
	policy, err := g.policy.For(month)
	if err != nil {
		return ScheduledRun{}, err
	}

	members, err := g.store.ListMembers(ctx, MemberFilter{})
	if err != nil {
		return ScheduledRun{}, err
	}

	run := ScheduledRun{Month: month, Members: len(members)}
	var (
		groups []*Batch
		deltas = make(map[*Batch]StatsDelta)
	)
	for _, m := range members {
		_, err := g.store.GetContribution(ctx, m.ID, month)
		switch {
		case err == nil:
			run.Skipped++
			continue
		case !IsNotFound(err):
			return ScheduledRun{}, err
		}
		o := g.open(m, month, policy, actionBy)
		groups = append(groups, o.group)
		deltas[o.group] = o.delta
		run.Generated++
	}

	// Per-chunk extras: stats increment, totalMembers level, run record.
	const reserve = 3
	chunks, err := g.coord.Pack(groups, reserve)
	if err != nil {
		return ScheduledRun{}, err
	}
	if len(chunks) == 0 {
		chunks = [][]*Batch{nil}
	}

	total := int64(len(members))
	run.CompletedAt = g.now()
	batches := make([]*Batch, len(chunks))
	for i, chunk := range chunks {
		b := Merge(chunk)
		var delta StatsDelta
		for _, group := range chunk {
			delta = delta.Add(deltas[group])
		}
		if !delta.IsZero() {
			b.IncrementMonthlyStats(month, delta)
		}
		if i == 0 {
			b.SetMonthlyStats(month, StatsOverwrite{TotalMembers: &total})
		}
		if i == len(chunks)-1 {
			b.RecordRun(run)
		}
		batches[i] = b
	}

	if _, err := g.coord.CommitSequence(ctx, batches); err != nil {
		return ScheduledRun{}, err
	}

	g.log.Info().
		Str("month", month.String()).
		Int("members", run.Members).
		Int("generated", run.Generated).
		Int("skipped", run.Skipped).
		Int("chunks", len(batches)).
		Msg("monthly contributions generated")
	g.notify(ctx, Event{
		Type:     EventMonthGenerated,
		Month:    month,
		Amount:   policy.Amount.Mul(decimal.NewFromInt(int64(run.Generated))),
		ActionBy: actionBy,
	})
	return run, nil
}

// GenerateCurrentMonth opens the current month in the ledger timezone.
func (g *Generator) GenerateCurrentMonth(ctx context.Context, actionBy string) (ScheduledRun, error) {
	return g.GenerateMonth(ctx, g.currentMonth(), actionBy)
}

// CurrentMonth is the month the ledger considers current.
func (g *Generator) CurrentMonth() Month { return g.currentMonth() }
