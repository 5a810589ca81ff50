package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/welfare/contribution-ledger/ledger"
	"github.com/welfare/contribution-ledger/ledger/store"
)

// singleWriteGroups returns n groups of one stats write each.
func singleWriteGroups(n int) []*ledger.Batch {
	groups := make([]*ledger.Batch, n)
	for i := range groups {
		groups[i] = ledger.NewBatch().IncrementMonthlyStats(july2024, ledger.StatsDelta{PaymentsCount: 1})
	}
	return groups
}

func packAll(t *testing.T, c *ledger.Coordinator, groups []*ledger.Batch, reserve int) []*ledger.Batch {
	t.Helper()
	chunks, err := c.Pack(groups, reserve)
	require.NoError(t, err)
	out := make([]*ledger.Batch, len(chunks))
	for i, chunk := range chunks {
		out[i] = ledger.Merge(chunk)
	}
	return out
}

// =============================================================================
// ATOMICITY
// =============================================================================

func TestCommit_AllOrNothing(t *testing.T) {
	// GIVEN: a batch whose last write fails its precondition
	mem := store.NewMemory()
	seedMember(t, mem, "m-1", 0)
	ctx := context.Background()

	batch := ledger.NewBatch().
		IncrementMember("m-1", ledger.MemberDelta{Balance: dec(100)}).
		IncrementMonthlyStats(july2024, ledger.StatsDelta{Contribution: dec(100)}).
		DeleteContribution("m-1", july2024)

	// WHEN: committing it
	err := ledger.NewCoordinator(mem, 0, zerolog.Nop()).Commit(ctx, batch)

	// THEN: nothing of the batch is applied
	assert.ErrorIs(t, err, ledger.ErrContributionNotFound)
	requireDecimal(t, 0, getMember(t, mem, "m-1").Balance)
	_, err = mem.GetMonthlyStats(ctx, july2024)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestCommit_StoreFailureWrappedAsCommitError(t *testing.T) {
	mem := store.NewMemory()
	boom := errors.New("disk full")
	mem.SetCommitHook(func(int, *ledger.Batch) error { return boom })

	err := ledger.NewCoordinator(mem, 0, zerolog.Nop()).
		Commit(context.Background(), ledger.NewBatch().IncrementStats(1))

	var ce *ledger.CommitError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 1, ce.Writes)
	assert.ErrorIs(t, err, ledger.ErrCommitFailed)
	assert.ErrorIs(t, err, boom)
}

func TestCommit_RejectsOversizedBatch(t *testing.T) {
	mem := store.NewMemory()
	c := ledger.NewCoordinator(mem, 10, zerolog.Nop())

	err := c.Commit(context.Background(), ledger.Merge(singleWriteGroups(11)))

	assert.ErrorIs(t, err, ledger.ErrBatchTooLarge)
	assert.Empty(t, mem.Commits())
}

func TestCommit_EmptyBatchIsNoop(t *testing.T) {
	mem := store.NewMemory()

	require.NoError(t, ledger.NewCoordinator(mem, 0, zerolog.Nop()).Commit(context.Background(), ledger.NewBatch()))
	assert.Empty(t, mem.Commits())
}

// =============================================================================
// CHUNKED SEQUENCES
// =============================================================================

func TestPack_1200SingleWrites_ThreeCommits(t *testing.T) {
	// GIVEN: 1200 single-write groups and the default 500 write limit
	mem := store.NewMemory()
	c := ledger.NewCoordinator(mem, 0, zerolog.Nop())
	batches := packAll(t, c, singleWriteGroups(1200), 0)

	// WHEN: committing the sequence
	n, err := c.CommitSequence(context.Background(), batches)

	// THEN: exactly three sequential commits, none over 500
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int{500, 500, 200}, mem.Commits())
	assert.Equal(t, int64(1200), getMonthly(t, mem, july2024).PaymentsCount)
}

func TestPack_NeverSplitsGroup(t *testing.T) {
	// GIVEN: groups of 3 writes and a limit of 10
	c := ledger.NewCoordinator(store.NewMemory(), 10, zerolog.Nop())
	groups := make([]*ledger.Batch, 7)
	for i := range groups {
		id := ledger.MemberID(fmt.Sprintf("m-%d", i))
		groups[i] = ledger.NewBatch().
			IncrementMember(id, ledger.MemberDelta{}).
			IncrementMember(id, ledger.MemberDelta{}).
			IncrementMember(id, ledger.MemberDelta{})
	}

	chunks, err := c.Pack(groups, 1)

	// THEN: 3 groups per chunk (9 writes + 1 reserved)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 3)
	assert.Len(t, chunks[1], 3)
	assert.Len(t, chunks[2], 1)
}

func TestPack_GroupLargerThanLimit(t *testing.T) {
	c := ledger.NewCoordinator(store.NewMemory(), 2, zerolog.Nop())

	_, err := c.Pack([]*ledger.Batch{ledger.Merge(singleWriteGroups(3))}, 0)

	assert.ErrorIs(t, err, ledger.ErrBatchTooLarge)
}

func TestCommitSequence_FailureAfterFirstChunk_IsPartial(t *testing.T) {
	// GIVEN: the second commit is rejected by the store
	mem := store.NewMemory()
	boom := errors.New("unavailable")
	mem.SetCommitHook(func(seq int, _ *ledger.Batch) error {
		if seq == 2 {
			return boom
		}
		return nil
	})
	c := ledger.NewCoordinator(mem, 0, zerolog.Nop())
	batches := packAll(t, c, singleWriteGroups(1200), 0)

	// WHEN
	n, err := c.CommitSequence(context.Background(), batches)

	// THEN: fail fast, first chunk kept, third never attempted
	assert.Equal(t, 1, n)
	var partial *ledger.PartialCommitError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 1, partial.Committed)
	assert.Equal(t, 3, partial.Total)
	assert.ErrorIs(t, err, ledger.ErrPartialCommit)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []int{500}, mem.Commits())
	assert.Equal(t, int64(500), getMonthly(t, mem, july2024).PaymentsCount)
}

func TestCommitSequence_FirstChunkFails_PlainError(t *testing.T) {
	mem := store.NewMemory()
	mem.SetCommitHook(func(int, *ledger.Batch) error { return errors.New("unavailable") })
	c := ledger.NewCoordinator(mem, 0, zerolog.Nop())

	n, err := c.CommitSequence(context.Background(), packAll(t, c, singleWriteGroups(600), 0))

	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, ledger.ErrCommitFailed)
	assert.False(t, errors.Is(err, ledger.ErrPartialCommit))
}

func TestCommitSequence_StopsOnCancelledContext(t *testing.T) {
	mem := store.NewMemory()
	c := ledger.NewCoordinator(mem, 0, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := c.CommitSequence(ctx, packAll(t, c, singleWriteGroups(10), 0))

	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, mem.Commits())
}
