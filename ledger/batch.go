package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// =============================================================================
// BATCH COORDINATOR - One atomic commit per logical operation
// =============================================================================

// DefaultMaxBatchWrites is the staged-write limit of a single commit,
// matching the 500-operation cap of hosted document-store batches.
const DefaultMaxBatchWrites = 500

// Coordinator commits batches against a Store and enforces the write limit.
//
// A logical operation that fits the limit is ONE commit. Larger operations
// are expressed as groups (each group atomic on its own), packed into
// chunks, and committed in order with CommitSequence. Chunks are not rolled
// back if a later chunk fails.
type Coordinator struct {
	store     Store
	maxWrites int
	log       zerolog.Logger
}

func NewCoordinator(store Store, maxWrites int, log zerolog.Logger) *Coordinator {
	if maxWrites <= 0 {
		maxWrites = DefaultMaxBatchWrites
	}
	return &Coordinator{store: store, maxWrites: maxWrites, log: log}
}

func (c *Coordinator) MaxWrites() int { return c.maxWrites }

// Commit applies b atomically. Store precondition failures (AlreadyExists,
// NotFound, ConcurrentModification) are returned as they are; anything else
// is wrapped in a CommitError.
func (c *Coordinator) Commit(ctx context.Context, b *Batch) error {
	if b.Len() == 0 {
		return nil
	}
	if b.Len() > c.maxWrites {
		return &CommitError{Writes: b.Len(), Err: ErrBatchTooLarge}
	}

	start := time.Now()
	if err := c.store.Commit(ctx, b); err != nil {
		c.log.Debug().Err(err).Int("writes", b.Len()).Msg("commit rejected")
		if isPrecondition(err) {
			return err
		}
		var ce *CommitError
		if errors.As(err, &ce) {
			return err
		}
		return &CommitError{Writes: b.Len(), Err: err}
	}
	c.log.Debug().Int("writes", b.Len()).Dur("took", time.Since(start)).Msg("batch committed")
	return nil
}

// Pack splits groups into chunks of at most MaxWrites-reserve writes. A
// group is never split across chunks; reserve leaves room for per-chunk
// writes the caller appends afterwards (e.g. a stats increment).
func (c *Coordinator) Pack(groups []*Batch, reserve int) ([][]*Batch, error) {
	limit := c.maxWrites - reserve
	if limit <= 0 {
		return nil, ErrBatchTooLarge
	}

	var (
		chunks  [][]*Batch
		current []*Batch
		size    int
	)
	for _, g := range groups {
		if g == nil || g.Len() == 0 {
			continue
		}
		if g.Len() > limit {
			return nil, &CommitError{Writes: g.Len(), Err: ErrBatchTooLarge}
		}
		if size+g.Len() > limit {
			chunks = append(chunks, current)
			current, size = nil, 0
		}
		current = append(current, g)
		size += g.Len()
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks, nil
}

// Merge flattens a chunk of groups into a single batch.
func Merge(groups []*Batch) *Batch {
	b := NewBatch()
	for _, g := range groups {
		b.Append(g)
	}
	return b
}

// CommitSequence commits batches in order and stops at the first failure.
// It returns how many batches were committed. If the first batch fails the
// error is that batch's error; a later failure is a PartialCommitError.
func (c *Coordinator) CommitSequence(ctx context.Context, batches []*Batch) (int, error) {
	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			return i, c.sequenceError(i, len(batches), err)
		}
		if err := c.Commit(ctx, b); err != nil {
			c.log.Error().Err(err).
				Int("chunk", i+1).
				Int("chunks", len(batches)).
				Msg("chunked commit stopped")
			return i, c.sequenceError(i, len(batches), err)
		}
		c.log.Info().Int("chunk", i+1).Int("chunks", len(batches)).Int("writes", b.Len()).Msg("chunk committed")
	}
	return len(batches), nil
}

func (c *Coordinator) sequenceError(committed, total int, err error) error {
	if committed == 0 {
		return err
	}
	return &PartialCommitError{Committed: committed, Total: total, Err: err}
}
