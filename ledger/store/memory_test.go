package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/welfare/contribution-ledger/ledger"
	"github.com/welfare/contribution-ledger/ledger/store"
)

func testMember(id string) ledger.Member {
	return ledger.Member{
		ID: ledger.MemberID(id),
		MemberProfile: ledger.MemberProfile{
			FirstName:    "Jane",
			LastName:     "Otieno",
			MemberNumber: "00001/24",
			Role:         ledger.RoleMember,
			Gender:       ledger.GenderFemale,
			Status:       ledger.MemberActive,
		},
		Balance:   decimal.Zero,
		CreatedAt: time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestMemory_CommitIsAllOrNothing(t *testing.T) {
	// GIVEN: an existing member
	m := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Commit(ctx, ledger.NewBatch().CreateMember(testMember("m-1"))))

	// WHEN: a batch creates a new member, then collides with the existing one
	err := m.Commit(ctx, ledger.NewBatch().
		CreateMember(testMember("m-2")).
		CreateMember(testMember("m-1")))

	// THEN: nothing from the batch is visible
	assert.ErrorIs(t, err, ledger.ErrAlreadyExists)
	_, err = m.GetMember(ctx, "m-2")
	assert.ErrorIs(t, err, ledger.ErrMemberNotFound)
	assert.Equal(t, []int{1}, m.Commits())
}

func TestMemory_CommitHookRejects(t *testing.T) {
	m := store.NewMemory()
	boom := errors.New("boom")
	m.SetCommitHook(func(seq int, _ *ledger.Batch) error {
		if seq == 2 {
			return boom
		}
		return nil
	})
	ctx := context.Background()

	require.NoError(t, m.Commit(ctx, ledger.NewBatch().CreateMember(testMember("m-1"))))
	err := m.Commit(ctx, ledger.NewBatch().CreateMember(testMember("m-2")))

	assert.ErrorIs(t, err, boom)
	_, err = m.GetMember(ctx, "m-2")
	assert.ErrorIs(t, err, ledger.ErrMemberNotFound)
}

func TestMemory_Reset(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Commit(ctx, ledger.NewBatch().CreateMember(testMember("m-1")).IncrementStats(1)))

	require.NoError(t, m.Reset(ctx))

	members, err := m.ListMembers(ctx, ledger.MemberFilter{})
	require.NoError(t, err)
	assert.Empty(t, members)
	st, err := m.GetStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.TotalMembers)
}
