package sqlite_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/welfare/contribution-ledger/ledger"
	"github.com/welfare/contribution-ledger/store/sqlite"
)

var (
	july = ledger.NewMonth(2024, time.July)
	now  = time.Date(2024, time.July, 5, 9, 0, 0, 0, time.UTC)
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func member(id, firstName string, balance int64) ledger.Member {
	return ledger.Member{
		ID: ledger.MemberID(id),
		MemberProfile: ledger.MemberProfile{
			FirstName: firstName,
			LastName:  "Otieno",
			Role:      ledger.RoleMember,
			Gender:    ledger.GenderMale,
			Status:    ledger.MemberActive,
		},
		Balance:   decimal.NewFromInt(balance),
		CreatedAt: now.AddDate(0, -6, 0),
	}
}

func contribution(id string, month ledger.Month, balance int64) ledger.Contribution {
	return ledger.Contribution{
		MemberID:  ledger.MemberID(id),
		Month:     month,
		FirstName: "Jane",
		Amount:    decimal.NewFromInt(500),
		Balance:   decimal.NewFromInt(balance),
		Status:    ledger.StatusFor(decimal.NewFromInt(balance), decimal.NewFromInt(500)),
		CreatedAt: now,
	}
}

// =============================================================================
// COMMIT SEMANTICS
// =============================================================================

func TestCommit_FailedWriteRollsBackWholeBatch(t *testing.T) {
	// GIVEN: a stored member
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Commit(ctx, ledger.NewBatch().CreateMember(member("m-1", "Jane", 0))))

	// WHEN: a batch increments the member, then fails on a missing contribution
	b := ledger.NewBatch().
		IncrementMember("m-1", ledger.MemberDelta{Balance: decimal.NewFromInt(100)}).
		IncrementMonthlyStats(july, ledger.StatsDelta{PaymentsCount: 1}).
		UpdateContribution("m-1", july, ledger.ContributionUpdate{BalanceDelta: decimal.NewFromInt(-1)})
	err := s.Commit(ctx, b)

	// THEN: nothing from the batch is visible
	assert.ErrorIs(t, err, ledger.ErrContributionNotFound)
	m, err := s.GetMember(ctx, "m-1")
	require.NoError(t, err)
	assert.True(t, m.Balance.IsZero())
	_, err = s.GetMonthlyStats(ctx, july)
	assert.ErrorIs(t, err, ledger.ErrStatsNotFound)
}

func TestCommit_CreateExisting(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Commit(ctx, ledger.NewBatch().
		CreateMember(member("m-1", "Jane", 0)).
		CreateContribution(contribution("m-1", july, 500))))

	err := s.Commit(ctx, ledger.NewBatch().CreateContribution(contribution("m-1", july, 500)))
	assert.ErrorIs(t, err, ledger.ErrAlreadyExists)

	err = s.Commit(ctx, ledger.NewBatch().CreateMember(member("m-1", "Jane", 0)))
	var exists *ledger.AlreadyExistsError
	require.ErrorAs(t, err, &exists)
	assert.Equal(t, "member", exists.Kind)
}

func TestCommit_ExpectBalance(t *testing.T) {
	// GIVEN: a contribution with balance 500
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Commit(ctx, ledger.NewBatch().CreateContribution(contribution("m-1", july, 500))))

	stale := decimal.NewFromInt(300)
	fresh := decimal.NewFromInt(500)

	// WHEN / THEN: a stale expectation is rejected
	err := s.Commit(ctx, ledger.NewBatch().UpdateContribution("m-1", july, ledger.ContributionUpdate{
		ExpectBalance: &stale, BalanceDelta: decimal.NewFromInt(-100), Status: ledger.StatusPartial,
	}))
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)

	// WHEN / THEN: the current value passes
	err = s.Commit(ctx, ledger.NewBatch().UpdateContribution("m-1", july, ledger.ContributionUpdate{
		ExpectBalance: &fresh, BalanceDelta: decimal.NewFromInt(-100), Status: ledger.StatusPartial,
	}))
	require.NoError(t, err)
	c, err := s.GetContribution(ctx, "m-1", july)
	require.NoError(t, err)
	assert.True(t, c.Balance.Equal(decimal.NewFromInt(400)))
	assert.Equal(t, ledger.StatusPartial, c.Status)
}

func TestCommit_MissingDocuments(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		batch *ledger.Batch
		want  error
	}{
		{"increment member", ledger.NewBatch().IncrementMember("x", ledger.MemberDelta{}), ledger.ErrMemberNotFound},
		{"delete member", ledger.NewBatch().DeleteMember("x"), ledger.ErrMemberNotFound},
		{"delete contribution", ledger.NewBatch().DeleteContribution("x", july), ledger.ErrContributionNotFound},
		{"delete payment", ledger.NewBatch().DeletePayment("x", "p"), ledger.ErrPaymentNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, s.Commit(ctx, tt.batch), tt.want)
		})
	}
}

func TestCommit_StatsIncrementAndOverwrite(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Commit(ctx, ledger.NewBatch().
			IncrementMonthlyStats(july, ledger.StatsDelta{Amount: decimal.RequireFromString("500.25"), PaymentsCount: 1}).
			IncrementStats(1)))
	}
	total := int64(40)
	require.NoError(t, s.Commit(ctx, ledger.NewBatch().SetMonthlyStats(july, ledger.StatsOverwrite{TotalMembers: &total})))

	st, err := s.GetMonthlyStats(ctx, july)
	require.NoError(t, err)
	assert.True(t, st.Amount.Equal(decimal.RequireFromString("1500.75")), st.Amount.String())
	assert.Equal(t, int64(3), st.PaymentsCount)
	assert.Equal(t, int64(40), st.TotalMembers)

	lifetime, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), lifetime.TotalMembers)
}

// =============================================================================
// READS
// =============================================================================

func TestReads_Ordering(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	b := ledger.NewBatch().
		CreateMember(member("m-2", "Zawadi", 0)).
		CreateMember(member("m-1", "Amina", 0))
	for _, m := range []ledger.Month{"2024-05-01", "2024-07-01", "2024-06-01"} {
		b.CreateContribution(contribution("m-1", m, 500))
	}
	require.NoError(t, s.Commit(ctx, b))

	members, err := s.ListMembers(ctx, ledger.MemberFilter{})
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "Amina", members[0].FirstName)

	filtered, err := s.ListMembers(ctx, ledger.MemberFilter{NamePrefix: "za"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, ledger.MemberID("m-2"), filtered[0].ID)

	contributions, err := s.ListMemberContributions(ctx, "m-1")
	require.NoError(t, err)
	require.Len(t, contributions, 3)
	assert.Equal(t, ledger.Month("2024-07-01"), contributions[0].Month)
	assert.Equal(t, ledger.Month("2024-05-01"), contributions[2].Month)
}

func TestReads_PaymentsNewestFirst(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	b := ledger.NewBatch()
	for i := 1; i <= 3; i++ {
		b.PutPayment(ledger.Payment{
			ID:          ledger.PaymentID(fmt.Sprintf("p-%d", i)),
			MemberID:    "m-1",
			Amount:      decimal.NewFromInt(int64(i * 100)),
			PaymentDate: time.Date(2024, time.July, i, 0, 0, 0, 0, time.UTC),
			Type:        ledger.PaymentContribution,
		})
	}
	require.NoError(t, s.Commit(ctx, b))

	recent, err := s.RecentPayments(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, ledger.PaymentID("p-3"), recent[0].ID)
	assert.Equal(t, ledger.PaymentID("p-2"), recent[1].ID)

	all, err := s.ListMemberPayments(ctx, "m-1")
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.True(t, all[2].PaymentDate.Equal(time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC)))
}

func TestReads_MissingRun(t *testing.T) {
	s := newStore(t)

	_, err := s.GetRun(context.Background(), july)

	assert.ErrorIs(t, err, ledger.ErrRunNotFound)
}

// =============================================================================
// ENGINE OVER SQLITE
// =============================================================================

func TestEngine_PaymentRoundTrip(t *testing.T) {
	// GIVEN: an engine over SQLite with one member and an open July
	s := newStore(t)
	ctx := context.Background()
	engine := ledger.NewEngine(s, ledger.Config{
		Policy: ledger.FixedPolicy(decimal.NewFromInt(500)),
		Clock:  func() time.Time { return now },
		Logger: zerolog.Nop(),
	})
	require.NoError(t, s.Commit(ctx, ledger.NewBatch().CreateMember(member("m-1", "Jane", 0))))
	_, err := engine.Generator.AddContribution(ctx, ledger.AddContributionRequest{MemberID: "m-1", Month: july, ActionBy: "admin-1"})
	require.NoError(t, err)

	// WHEN: a partial payment is recorded
	p, err := engine.Payments.AddPayment(ctx, ledger.AddPaymentRequest{
		MemberID:        "m-1",
		Month:           july,
		Amount:          decimal.NewFromInt(200),
		ReferenceNumber: "QK12ABC",
		PaymentDate:     time.Date(2024, time.July, 3, 0, 0, 0, 0, time.UTC),
		ActionBy:        "admin-1",
	})
	require.NoError(t, err)

	// THEN: the contribution carries the payment and the stats agree with it
	c, err := s.GetContribution(ctx, "m-1", july)
	require.NoError(t, err)
	assert.True(t, c.Balance.Equal(decimal.NewFromInt(300)), c.Balance.String())
	assert.Equal(t, ledger.StatusPartial, c.Status)
	require.Contains(t, c.Payments, p.ID)
	assert.True(t, c.Payments[p.ID].Amount.Equal(decimal.NewFromInt(200)))

	contributions, err := s.ListContributionsByMonth(ctx, july)
	require.NoError(t, err)
	derived := ledger.Derive(july, contributions)
	st, err := s.GetMonthlyStats(ctx, july)
	require.NoError(t, err)
	assert.True(t, derived.Contribution.Equal(st.Contribution))
	assert.Equal(t, derived.PaymentsCount, st.PaymentsCount)

	// WHEN: the payment is deleted
	require.NoError(t, engine.Payments.DeletePayment(ctx, "m-1", july, p.ID, "admin-1"))

	// THEN: the contribution is back to unpaid
	c, err = s.GetContribution(ctx, "m-1", july)
	require.NoError(t, err)
	assert.True(t, c.Balance.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, ledger.StatusUnpaid, c.Status)
	assert.Empty(t, c.Payments)
}

func TestEngine_SubCentPaymentRejected(t *testing.T) {
	// GIVEN: an open July over SQLite
	s := newStore(t)
	ctx := context.Background()
	engine := ledger.NewEngine(s, ledger.Config{
		Policy: ledger.FixedPolicy(decimal.NewFromInt(500)),
		Clock:  func() time.Time { return now },
		Logger: zerolog.Nop(),
	})
	require.NoError(t, s.Commit(ctx, ledger.NewBatch().CreateMember(member("m-1", "Jane", 0))))
	_, err := engine.Generator.AddContribution(ctx, ledger.AddContributionRequest{MemberID: "m-1", Month: july})
	require.NoError(t, err)

	// WHEN: an amount that would round to zero cents
	_, err = engine.Payments.AddPayment(ctx, ledger.AddPaymentRequest{
		MemberID: "m-1", Month: july, Amount: decimal.RequireFromString("0.004"), ReferenceNumber: "QK12ABC",
	})

	// THEN: nothing is written and the status still matches the balance
	assert.ErrorIs(t, err, ledger.ErrValidation)
	c, err := s.GetContribution(ctx, "m-1", july)
	require.NoError(t, err)
	assert.True(t, c.Balance.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, ledger.StatusUnpaid, c.Status)
	assert.Empty(t, c.Payments)
	st, err := s.GetMonthlyStats(ctx, july)
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.PaymentsCount)
}

func TestEngine_GenerateMonthRecordsRun(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	engine := ledger.NewEngine(s, ledger.Config{
		Policy: ledger.FixedPolicy(decimal.NewFromInt(500)),
		Clock:  func() time.Time { return now },
		Logger: zerolog.Nop(),
	})
	b := ledger.NewBatch()
	for i := 0; i < 5; i++ {
		b.CreateMember(member(fmt.Sprintf("m-%d", i), "Jane", 0))
	}
	require.NoError(t, s.Commit(ctx, b))

	run, err := engine.Generator.GenerateMonth(ctx, july, "scheduler")
	require.NoError(t, err)
	assert.Equal(t, 5, run.Generated)

	stored, err := s.GetRun(ctx, july)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.Members)

	contributions, err := s.ListContributionsByMonth(ctx, july)
	require.NoError(t, err)
	assert.Len(t, contributions, 5)
}

func TestReset_ClearsEverything(t *testing.T) {
	// GIVEN: a member, a contribution and lifetime stats
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Commit(ctx, ledger.NewBatch().
		CreateMember(member("m-1", "Jane", 0)).
		CreateContribution(contribution("m-1", july, 500)).
		IncrementStats(1)))

	// WHEN
	require.NoError(t, s.Reset(ctx))

	// THEN
	_, err := s.GetMember(ctx, "m-1")
	assert.ErrorIs(t, err, ledger.ErrMemberNotFound)
	_, err = s.GetContribution(ctx, "m-1", july)
	assert.ErrorIs(t, err, ledger.ErrContributionNotFound)
	st, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.TotalMembers)
}
