package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BACKFILL - Chunked import of months settled before the ledger existed
// =============================================================================

// Backfiller writes paid contributions, each with a matching "B/F"
// payment, for every member and every requested month. Member balances are
// not touched: the money was settled outside the ledger.
//
// The import is a chunked sequence and is NOT atomic across chunks.
// Member-months that already have a contribution are skipped, so a failed
// import can be run again.
type Backfiller struct {
	*deps
	stats *StatsAccumulator
}

func NewBackfiller(store Store, cfg Config) *Backfiller {
	return &Backfiller{
		deps:  newDeps(store, cfg, "backfill"),
		stats: NewStatsAccumulator(store, cfg),
	}
}

type BackfillRequest struct {
	Months []Month
	// Amount overrides the policy amount of each month.
	Amount    decimal.Decimal
	Reference string // defaults to "B/F"
	ActionBy  string
}

type BackfillResult struct {
	Contributions int
	Payments      int
	Skipped       int
	Chunks        int
}

// Run stages one group per member-month (the contribution and its payment,
// kept atomic together) and commits the groups in chunks of at most the
// write limit. The statistics of each month are recomputed once every chunk
// is in.
func (b *Backfiller) Run(ctx context.Context, req BackfillRequest) (BackfillResult, error) {
	if len(req.Months) == 0 {
		return BackfillResult{}, invalid("months", "at least one month is required")
	}
	if !req.Amount.IsZero() {
		if err := ValidateAmount("amount", req.Amount); err != nil {
			return BackfillResult{}, err
		}
	}
	req.Months = uniqueMonths(req.Months)
	ref := req.Reference
	if ref == "" {
		ref = ReferenceBackfill
	}

	amounts := make(map[Month]ContributionPolicy, len(req.Months))
	for _, month := range req.Months {
		if err := month.Validate(); err != nil {
			return BackfillResult{}, err
		}
		policy, err := b.policy.For(month)
		if err != nil && req.Amount.IsZero() {
			return BackfillResult{}, err
		}
		if !req.Amount.IsZero() {
			policy.Amount = req.Amount
		}
		amounts[month] = policy
	}

	members, err := b.store.ListMembers(ctx, MemberFilter{})
	if err != nil {
		return BackfillResult{}, err
	}

	var (
		result BackfillResult
		groups []*Batch
	)
	now := b.now()
	for _, m := range members {
		for _, month := range req.Months {
			_, err := b.store.GetContribution(ctx, m.ID, month)
			switch {
			case err == nil:
				result.Skipped++
				continue
			case !IsNotFound(err):
				return BackfillResult{}, err
			}

			policy := amounts[month]
			p := Payment{
				ID:                 PaymentID(b.newID()),
				MemberID:           m.ID,
				ContributionID:     month,
				FirstName:          m.FirstName,
				LastName:           m.LastName,
				Amount:             policy.Amount,
				ContributionAmount: policy.Amount,
				ReferenceNumber:    ref,
				PaymentDate:        month.Time(),
				Type:               PaymentContribution,
				ActionBy:           req.ActionBy,
				CreatedAt:          now,
			}
			c := Contribution{
				MemberID:      m.ID,
				Month:         month,
				FirstName:     m.FirstName,
				LastName:      m.LastName,
				Amount:        policy.Amount,
				Balance:       decimal.Zero,
				Status:        StatusPaid,
				PolicyVersion: policy.Version,
				Payments:      map[PaymentID]Payment{p.ID: p},
				ActionBy:      req.ActionBy,
				CreatedAt:     month.Time(),
			}
			groups = append(groups, NewBatch().CreateContribution(c).PutPayment(p))
		}
	}

	chunks, err := b.coord.Pack(groups, 0)
	if err != nil {
		return BackfillResult{}, err
	}
	batches := make([]*Batch, len(chunks))
	for i, chunk := range chunks {
		batches[i] = Merge(chunk)
	}

	result.Chunks = len(batches)
	committed, err := b.coord.CommitSequence(ctx, batches)
	if err != nil {
		b.log.Error().Err(err).Int("committed", committed).Int("chunks", len(batches)).Msg("backfill stopped")
		return result, err
	}
	result.Contributions = len(groups)
	result.Payments = len(groups)

	for _, month := range req.Months {
		if _, err := b.stats.Recompute(ctx, month); err != nil {
			return result, err
		}
	}

	b.log.Info().
		Int("contributions", result.Contributions).
		Int("skipped", result.Skipped).
		Int("chunks", result.Chunks).
		Msg("backfill complete")
	return result, nil
}

// uniqueMonths drops repeated months, keeping the first occurrence.
func uniqueMonths(months []Month) []Month {
	seen := make(map[Month]bool, len(months))
	out := make([]Month, 0, len(months))
	for _, m := range months {
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}
