package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/welfare/contribution-ledger/ledger"
)

func TestRecompute_MigratesOverwrittenMonth(t *testing.T) {
	// GIVEN: a month whose stats were overwritten with stale totals
	engine, mem := newTestEngine(t)
	openJuly(t, engine, mem, "a", 300)
	openJuly(t, engine, mem, "b", 0)
	ctx := context.Background()
	_, err := engine.Payments.AddPayment(ctx, payment("b", 100))
	require.NoError(t, err)

	bogus := dec(99999)
	count := int64(42)
	require.NoError(t, mem.Commit(ctx, ledger.NewBatch().SetMonthlyStats(july2024, ledger.StatsOverwrite{
		Amount: &bogus, Contribution: &bogus, PaymentsCount: &count,
	})))

	// WHEN
	st, err := engine.Stats.Recompute(ctx, july2024)

	// THEN: flows are rebuilt from the contribution documents
	require.NoError(t, err)
	requireDecimal(t, 1000, st.Amount)
	requireDecimal(t, 400, st.Contribution)
	assert.Equal(t, int64(2), st.PaymentsCount)
}

func TestIncrementalStats_MatchDerived(t *testing.T) {
	// GIVEN: a sequence of ledger operations
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	openJuly(t, engine, mem, "a", 700)
	openJuly(t, engine, mem, "b", 300)
	openJuly(t, engine, mem, "c", -50)
	p, err := engine.Payments.AddPayment(ctx, payment("b", 50))
	require.NoError(t, err)
	_, err = engine.Payments.AddPayment(ctx, payment("c", 800))
	require.NoError(t, err)
	require.NoError(t, engine.Payments.DeletePayment(ctx, "b", july2024, p.ID, "admin-1"))
	require.NoError(t, engine.Payments.DeleteContribution(ctx, "a", july2024, "admin-1"))

	// THEN: the incremented counters equal what the documents say
	contributions, err := mem.ListContributionsByMonth(ctx, july2024)
	require.NoError(t, err)
	derived := ledger.Derive(july2024, contributions)
	st := getMonthly(t, mem, july2024)

	assert.True(t, derived.Amount.Equal(st.Amount), "amount %s vs %s", derived.Amount, st.Amount)
	assert.True(t, derived.Contribution.Equal(st.Contribution), "contribution %s vs %s", derived.Contribution, st.Contribution)
	assert.Equal(t, derived.PaymentsCount, st.PaymentsCount)
}

func TestStatsList_Ordering(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	for _, m := range []ledger.Month{"2024-05-01", "2024-07-01", "2024-06-01"} {
		require.NoError(t, mem.Commit(ctx, ledger.NewBatch().IncrementMonthlyStats(m, ledger.StatsDelta{NewMembers: 1})))
	}

	asc, err := engine.Stats.List(ctx, ledger.StatsQuery{})
	require.NoError(t, err)
	desc, err := engine.Stats.List(ctx, ledger.StatsQuery{Descending: true, Limit: 2})
	require.NoError(t, err)

	require.Len(t, asc, 3)
	assert.Equal(t, ledger.Month("2024-05-01"), asc[0].Month)
	require.Len(t, desc, 2)
	assert.Equal(t, ledger.Month("2024-07-01"), desc[0].Month)
	assert.Equal(t, ledger.Month("2024-06-01"), desc[1].Month)
}

func TestStatsMonth_Missing(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Stats.Month(context.Background(), july2024)

	assert.ErrorIs(t, err, ledger.ErrStatsNotFound)
}
