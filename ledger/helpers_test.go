package ledger_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/welfare/contribution-ledger/ledger"
	"github.com/welfare/contribution-ledger/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	july2024 = ledger.NewMonth(2024, time.July)
	fixedNow = time.Date(2024, time.July, 5, 9, 0, 0, 0, time.UTC)

	// memberSince predates every month the tests open.
	memberSince = time.Date(2024, time.January, 10, 9, 0, 0, 0, time.UTC)
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// sequentialIDs returns predictable ids: "<prefix>-1", "<prefix>-2", ...
func sequentialIDs(prefix string) func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("%s-%d", prefix, n.Add(1)) }
}

func testConfig() ledger.Config {
	return ledger.Config{
		Policy: ledger.FixedPolicy(dec(500)),
		Clock:  func() time.Time { return fixedNow },
		NewID:  sequentialIDs("id"),
		Logger: zerolog.Nop(),
	}
}

func newTestEngine(t *testing.T) (*ledger.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return ledger.NewEngine(mem, testConfig()), mem
}

// seedMember writes a member directly with the given balance, bypassing the
// creation hook so statistics stay untouched.
func seedMember(t *testing.T, s ledger.Store, id string, balance int64) ledger.Member {
	t.Helper()
	m := ledger.Member{
		ID: ledger.MemberID(id),
		MemberProfile: ledger.MemberProfile{
			FirstName:    "First" + id,
			LastName:     "Last" + id,
			MemberNumber: "00001/24",
			Role:         ledger.RoleMember,
			Gender:       ledger.GenderFemale,
			Status:       ledger.MemberActive,
		},
		Balance:   dec(balance),
		CreatedAt: memberSince,
	}
	require.NoError(t, s.Commit(context.Background(), ledger.NewBatch().CreateMember(m)))
	return m
}

func getMember(t *testing.T, s ledger.Store, id string) ledger.Member {
	t.Helper()
	m, err := s.GetMember(context.Background(), ledger.MemberID(id))
	require.NoError(t, err)
	return m
}

func getContribution(t *testing.T, s ledger.Store, id string, month ledger.Month) ledger.Contribution {
	t.Helper()
	c, err := s.GetContribution(context.Background(), ledger.MemberID(id), month)
	require.NoError(t, err)
	return c
}

func getMonthly(t *testing.T, s ledger.Store, month ledger.Month) ledger.MonthlyStats {
	t.Helper()
	st, err := s.GetMonthlyStats(context.Background(), month)
	require.NoError(t, err)
	return st
}

// requireDecimal compares decimals by value, ignoring exponent.
func requireDecimal(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	require.True(t, dec(want).Equal(got), "want %d, got %s", want, got.String())
}
