package mongostore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/welfare/contribution-ledger/ledger"
)

var july = ledger.NewMonth(2024, time.July)

func TestContributionDoc_KeepsPaymentsAndCents(t *testing.T) {
	// GIVEN: a partially paid contribution with one payment
	paidOn := time.Date(2024, time.July, 3, 0, 0, 0, 0, time.UTC)
	c := ledger.Contribution{
		MemberID: "m-1",
		Month:    july,
		Amount:   decimal.RequireFromString("500.00"),
		Balance:  decimal.RequireFromString("299.95"),
		Status:   ledger.StatusPartial,
		Payments: map[ledger.PaymentID]ledger.Payment{
			"p-1": {
				ID:                 "p-1",
				MemberID:           "m-1",
				ContributionID:     july,
				Amount:             decimal.RequireFromString("200.05"),
				ContributionAmount: decimal.RequireFromString("200.05"),
				PaymentDate:        paidOn,
				Type:               ledger.PaymentContribution,
			},
		},
	}

	// WHEN
	doc := toContributionDoc(c)
	back := doc.toContribution()

	// THEN
	assert.Equal(t, "m-1/2024-07-01", doc.ID)
	assert.Equal(t, int64(29995), doc.BalanceCents)
	assert.Equal(t, "m-1/p-1", doc.Payments["p-1"].ID)
	assert.True(t, back.Balance.Equal(c.Balance))
	require.Contains(t, back.Payments, ledger.PaymentID("p-1"))
	assert.True(t, back.Payments["p-1"].Amount.Equal(decimal.RequireFromString("200.05")))
	assert.True(t, back.Payments["p-1"].PaymentDate.Equal(paidOn))
}

func TestMemberDoc_RoundTrip(t *testing.T) {
	m := ledger.Member{
		ID: "m-1",
		MemberProfile: ledger.MemberProfile{
			FirstName: "Jane", Role: ledger.RoleAdministrator, Gender: ledger.GenderFemale, Status: ledger.MemberActive,
		},
		Balance: decimal.NewFromInt(-150),
	}

	back := toMemberDoc(m).toMember()

	assert.Equal(t, m.MemberProfile, back.MemberProfile)
	assert.True(t, back.Balance.Equal(m.Balance))
}

// =============================================================================
// INTEGRATION - needs a replica set, e.g. MONGO_TEST_URI=mongodb://localhost:27017/?replicaSet=rs0
// =============================================================================

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	ctx := context.Background()
	s, err := Connect(ctx, uri, "ledger_test_"+uuid.NewString()[:8])
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Drop(ctx)
		s.Close(ctx)
	})
	return s
}

func TestIntegration_CommitIsAtomic(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	require.NoError(t, s.Commit(ctx, ledger.NewBatch().CreateMember(ledger.Member{
		ID: "m-1", MemberProfile: ledger.MemberProfile{FirstName: "Jane"},
	})))

	err := s.Commit(ctx, ledger.NewBatch().
		IncrementMember("m-1", ledger.MemberDelta{Balance: decimal.NewFromInt(100)}).
		UpdateContribution("m-1", july, ledger.ContributionUpdate{}))

	assert.ErrorIs(t, err, ledger.ErrContributionNotFound)
	m, err := s.GetMember(ctx, "m-1")
	require.NoError(t, err)
	assert.True(t, m.Balance.IsZero())
}

func TestIntegration_Preconditions(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	c := ledger.Contribution{MemberID: "m-1", Month: july, Amount: decimal.NewFromInt(500), Balance: decimal.NewFromInt(500)}
	require.NoError(t, s.Commit(ctx, ledger.NewBatch().CreateContribution(c)))

	err := s.Commit(ctx, ledger.NewBatch().CreateContribution(c))
	assert.ErrorIs(t, err, ledger.ErrAlreadyExists)

	stale := decimal.NewFromInt(100)
	err = s.Commit(ctx, ledger.NewBatch().UpdateContribution("m-1", july, ledger.ContributionUpdate{ExpectBalance: &stale}))
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)

	err = s.Commit(ctx, ledger.NewBatch().UpdateContribution("m-1", july, ledger.ContributionUpdate{RemovePayments: []ledger.PaymentID{"nope"}}))
	assert.ErrorIs(t, err, ledger.ErrPaymentNotFound)
}

func TestIntegration_StatsIncrement(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, s.Commit(ctx, ledger.NewBatch().
			IncrementMonthlyStats(july, ledger.StatsDelta{Contribution: decimal.NewFromInt(250), PaymentsCount: 1})))
	}

	st, err := s.GetMonthlyStats(ctx, july)
	require.NoError(t, err)
	assert.True(t, st.Contribution.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, int64(2), st.PaymentsCount)
}
