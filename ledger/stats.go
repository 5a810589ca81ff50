package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AGGREGATE STATISTICS - Reads and recompute
// =============================================================================

// StatsAccumulator serves the statistics documents.
//
// Money counters (amount, contribution, paymentsCount) are flows: every
// ledger operation increments them in its own batch. totalMembers is a
// level: member hooks increment it and the monthly run sets it from the
// member snapshot. Recompute rebuilds the flows of a month from its
// contribution documents, which is how months written by the old overwrite
// strategy are migrated.
type StatsAccumulator struct {
	*deps
}

func NewStatsAccumulator(store Store, cfg Config) *StatsAccumulator {
	return &StatsAccumulator{deps: newDeps(store, cfg, "stats")}
}

func (s *StatsAccumulator) Month(ctx context.Context, month Month) (MonthlyStats, error) {
	if err := month.Validate(); err != nil {
		return MonthlyStats{}, err
	}
	return s.store.GetMonthlyStats(ctx, month)
}

func (s *StatsAccumulator) List(ctx context.Context, q StatsQuery) ([]MonthlyStats, error) {
	return s.store.ListMonthlyStats(ctx, q)
}

func (s *StatsAccumulator) Lifetime(ctx context.Context) (Stats, error) {
	return s.store.GetStats(ctx)
}

// Derive sums contribution documents into the money counters of a month.
func Derive(month Month, contributions []Contribution) MonthlyStats {
	out := MonthlyStats{Month: month, Amount: decimal.Zero, Contribution: decimal.Zero}
	for _, c := range contributions {
		out.Amount = out.Amount.Add(c.Amount)
		out.Contribution = out.Contribution.Add(c.Paid())
		out.PaymentsCount += int64(len(c.Payments))
	}
	return out
}

// Recompute sets amount, contribution and paymentsCount of month from its
// contributions. newMembers and totalMembers are left as they are.
//
// The set is not atomic with concurrent payments; run it while the month
// is quiet.
func (s *StatsAccumulator) Recompute(ctx context.Context, month Month) (MonthlyStats, error) {
	if err := month.Validate(); err != nil {
		return MonthlyStats{}, err
	}
	contributions, err := s.store.ListContributionsByMonth(ctx, month)
	if err != nil {
		return MonthlyStats{}, err
	}
	derived := Derive(month, contributions)

	batch := NewBatch().SetMonthlyStats(month, StatsOverwrite{
		Amount:        &derived.Amount,
		Contribution:  &derived.Contribution,
		PaymentsCount: &derived.PaymentsCount,
	})
	if err := s.coord.Commit(ctx, batch); err != nil {
		return MonthlyStats{}, err
	}

	s.log.Info().
		Str("month", month.String()).
		Int("contributions", len(contributions)).
		Str("amount", derived.Amount.String()).
		Str("contribution", derived.Contribution.String()).
		Msg("monthly stats recomputed")
	return s.store.GetMonthlyStats(ctx, month)
}
