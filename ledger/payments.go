package ledger

import (
	"context"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PAYMENT LEDGER - Applies and reverses money against contributions
// =============================================================================

var referencePattern = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

// PaymentLedger records payments, reverses them, deletes whole
// contributions and applies manual balance adjustments. Every operation is
// one atomic batch.
type PaymentLedger struct {
	*deps
}

func NewPaymentLedger(store Store, cfg Config) *PaymentLedger {
	return &PaymentLedger{deps: newDeps(store, cfg, "payments")}
}

type AddPaymentRequest struct {
	MemberID        MemberID
	Month           Month
	Amount          decimal.Decimal
	ReferenceNumber string
	PaymentDate     time.Time // defaults to now
	ActionBy        string
}

func (r AddPaymentRequest) Validate() error {
	if r.MemberID == "" {
		return invalid("member_id", "is required")
	}
	if err := r.Month.Validate(); err != nil {
		return err
	}
	if err := ValidateAmount("amount", r.Amount); err != nil {
		return err
	}
	if !referencePattern.MatchString(r.ReferenceNumber) {
		return invalid("referencenumber", "must be a non-empty alphanumeric reference")
	}
	return nil
}

// AddPayment applies a tendered amount to a contribution.
//
// The applied part is min(amount, contribution balance). The member balance
// grows by the full amount, so any excess becomes credit that the next
// month's contribution picks up as "BALANCE B/F". The contribution update
// is conditional on its balance being unchanged since it was read; a
// concurrent payment makes this fail with ErrConcurrentModification.
func (l *PaymentLedger) AddPayment(ctx context.Context, req AddPaymentRequest) (Payment, error) {
	if err := req.Validate(); err != nil {
		return Payment{}, err
	}

	c, err := l.store.GetContribution(ctx, req.MemberID, req.Month)
	if err != nil {
		return Payment{}, err
	}

	now := l.now()
	paidOn := req.PaymentDate
	if paidOn.IsZero() {
		paidOn = now
	}

	applied := AppliedAmount(req.Amount, c.Balance)
	p := Payment{
		ID:                 PaymentID(l.newID()),
		MemberID:           req.MemberID,
		ContributionID:     c.Month,
		FirstName:          c.FirstName,
		LastName:           c.LastName,
		Amount:             req.Amount,
		ContributionAmount: applied,
		ReferenceNumber:    req.ReferenceNumber,
		PaymentDate:        paidOn.UTC(),
		Type:               PaymentContribution,
		ActionBy:           req.ActionBy,
		CreatedAt:          now,
	}

	expect := c.Balance
	batch := NewBatch().
		PutPayment(p).
		UpdateContribution(c.MemberID, c.Month, ContributionUpdate{
			ExpectBalance: &expect,
			BalanceDelta:  applied.Neg(),
			Status:        StatusFor(c.Balance.Sub(applied), c.Amount),
			AddPayments:   []Payment{p},
		}).
		IncrementMember(c.MemberID, MemberDelta{
			Balance:             req.Amount,
			ContributionBalance: applied,
		}).
		IncrementMonthlyStats(c.Month, StatsDelta{Contribution: applied, PaymentsCount: 1})

	if err := l.coord.Commit(ctx, batch); err != nil {
		return Payment{}, err
	}

	l.log.Info().
		Str("member_id", string(p.MemberID)).
		Str("month", c.Month.String()).
		Str("payment_id", string(p.ID)).
		Str("amount", p.Amount.String()).
		Str("applied", applied.String()).
		Msg("payment recorded")
	l.notify(ctx, Event{
		Type:      EventPaymentRecorded,
		MemberID:  p.MemberID,
		Month:     c.Month,
		PaymentID: p.ID,
		Amount:    p.Amount,
		ActionBy:  req.ActionBy,
	})
	return p, nil
}

// DeletePayment is the exact inverse of AddPayment. The payment is matched
// by id; an id that is not attached to the contribution fails with
// ErrPaymentNotFound.
func (l *PaymentLedger) DeletePayment(ctx context.Context, memberID MemberID, month Month, id PaymentID, actionBy string) error {
	if err := month.Validate(); err != nil {
		return err
	}
	c, err := l.store.GetContribution(ctx, memberID, month)
	if err != nil {
		return err
	}
	p, ok := c.Payments[id]
	if !ok {
		return ErrPaymentNotFound
	}
	if p.Type == PaymentAccount {
		return invalid("payment_id", "account payments cannot be removed from a contribution")
	}

	expect := c.Balance
	batch := NewBatch().
		DeletePayment(memberID, id).
		UpdateContribution(memberID, month, ContributionUpdate{
			ExpectBalance:  &expect,
			BalanceDelta:   p.ContributionAmount,
			Status:         StatusFor(c.Balance.Add(p.ContributionAmount), c.Amount),
			RemovePayments: []PaymentID{id},
		}).
		IncrementMember(memberID, MemberDelta{
			Balance:             p.Amount.Neg(),
			ContributionBalance: p.ContributionAmount.Neg(),
		}).
		IncrementMonthlyStats(month, StatsDelta{
			Contribution:  p.ContributionAmount.Neg(),
			PaymentsCount: -1,
		})

	if err := l.coord.Commit(ctx, batch); err != nil {
		return err
	}

	l.log.Info().
		Str("member_id", string(memberID)).
		Str("month", month.String()).
		Str("payment_id", string(id)).
		Msg("payment deleted")
	l.notify(ctx, Event{
		Type:      EventPaymentDeleted,
		MemberID:  memberID,
		Month:     month,
		PaymentID: id,
		Amount:    p.Amount,
		ActionBy:  actionBy,
	})
	return nil
}

// DeleteContribution removes a contribution and every payment attached to
// it. The member's contributionBalance and the month's statistics lose what
// the contribution had collected. The member balance is not restored.
//
// Like AddPayment, the delete is conditional on the contribution balance
// being unchanged since it was read, so a payment recorded in between fails
// the whole batch with ErrConcurrentModification.
func (l *PaymentLedger) DeleteContribution(ctx context.Context, memberID MemberID, month Month, actionBy string) error {
	if err := month.Validate(); err != nil {
		return err
	}
	c, err := l.store.GetContribution(ctx, memberID, month)
	if err != nil {
		return err
	}

	// The amount of a member who joined this month belongs to the month
	// whether or not the contribution exists.
	member, err := l.store.GetMember(ctx, memberID)
	if err != nil {
		return err
	}
	amount := c.Amount.Neg()
	if l.joinedIn(member, month) {
		amount = decimal.Zero
	}

	paid := c.Paid()
	expect := c.Balance
	batch := NewBatch().
		UpdateContribution(memberID, month, ContributionUpdate{ExpectBalance: &expect})
	for _, p := range c.PaymentList() {
		batch.DeletePayment(memberID, p.ID)
	}
	batch.DeleteContribution(memberID, month).
		IncrementMember(memberID, MemberDelta{ContributionBalance: paid.Neg()}).
		IncrementMonthlyStats(month, StatsDelta{
			Amount:        amount,
			Contribution:  paid.Neg(),
			PaymentsCount: -int64(len(c.Payments)),
		})

	if err := l.coord.Commit(ctx, batch); err != nil {
		return err
	}

	l.log.Info().
		Str("member_id", string(memberID)).
		Str("month", month.String()).
		Int("payments", len(c.Payments)).
		Msg("contribution deleted")
	l.notify(ctx, Event{
		Type:     EventContributionDeleted,
		MemberID: memberID,
		Month:    month,
		Amount:   c.Amount,
		ActionBy: actionBy,
	})
	return nil
}

type BalanceAdjustment struct {
	MemberID MemberID
	Type     AdjustmentType
	Amount   decimal.Decimal
	ActionBy string
}

func (a BalanceAdjustment) Validate() error {
	if a.MemberID == "" {
		return invalid("member_id", "is required")
	}
	if a.Type != AdjustTopUp && a.Type != AdjustDeduction {
		return invalid("type", "must be %q or %q", AdjustTopUp, AdjustDeduction)
	}
	return ValidateAmount("amount", a.Amount)
}

// UpdateMemberBalance tops up or deducts a member's balance outside any
// month. It writes an account payment for the audit trail and the member
// increment, two writes in one batch.
func (l *PaymentLedger) UpdateMemberBalance(ctx context.Context, adj BalanceAdjustment) (Payment, error) {
	if err := adj.Validate(); err != nil {
		return Payment{}, err
	}
	member, err := l.store.GetMember(ctx, adj.MemberID)
	if err != nil {
		return Payment{}, err
	}

	delta, ref := adj.Amount, ReferenceAccountTopUp
	if adj.Type == AdjustDeduction {
		delta, ref = adj.Amount.Neg(), ReferenceAccountDeduction
	}

	now := l.now()
	p := Payment{
		ID:                 PaymentID(l.newID()),
		MemberID:           member.ID,
		FirstName:          member.FirstName,
		LastName:           member.LastName,
		Amount:             adj.Amount,
		ContributionAmount: decimal.Zero,
		ReferenceNumber:    ref,
		PaymentDate:        now,
		Type:               PaymentAccount,
		ActionBy:           adj.ActionBy,
		CreatedAt:          now,
	}

	batch := NewBatch().
		PutPayment(p).
		IncrementMember(member.ID, MemberDelta{Balance: delta})
	if err := l.coord.Commit(ctx, batch); err != nil {
		return Payment{}, err
	}

	l.log.Info().
		Str("member_id", string(member.ID)).
		Str("type", string(adj.Type)).
		Str("amount", adj.Amount.String()).
		Msg("member balance adjusted")
	l.notify(ctx, Event{
		Type:      EventBalanceAdjusted,
		MemberID:  member.ID,
		PaymentID: p.ID,
		Amount:    delta,
		ActionBy:  adj.ActionBy,
	})
	return p, nil
}
