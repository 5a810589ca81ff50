package api

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/welfare/contribution-ledger/ledger"
)

func TestScheduler_RunNowGeneratesOncePerMonth(t *testing.T) {
	// GIVEN: one member and no run for July
	h := newTestHandler(t)
	ctx := context.Background()
	_, err := h.createMember(ctx, "Amina", "Tester", "00001/24", ledger.GenderFemale)
	require.NoError(t, err)
	s := NewContributionScheduler(h.Engine, zerolog.Nop())

	// WHEN: the scheduler checks twice
	first, err := s.RunNow(ctx)
	require.NoError(t, err)
	second, err := s.RunNow(ctx)
	require.NoError(t, err)

	// THEN: only the first check generates
	assert.True(t, first)
	assert.False(t, second)
	run, err := h.Engine.Store.GetRun(ctx, "2024-07-01")
	require.NoError(t, err)
	assert.Equal(t, 1, run.Generated)
}

func TestScheduler_RunStopsWithContext(t *testing.T) {
	h := newTestHandler(t)
	s := NewContributionScheduler(h.Engine, zerolog.Nop())
	s.CheckInterval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := h.Engine.Store.GetRun(context.Background(), "2024-07-01")
		return err == nil
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_DisabledDoesNothing(t *testing.T) {
	h := newTestHandler(t)
	s := NewContributionScheduler(h.Engine, zerolog.Nop())
	s.Enabled = false

	s.Start()
	s.Stop()

	_, err := h.Engine.Store.GetRun(context.Background(), "2024-07-01")
	assert.ErrorIs(t, err, ledger.ErrRunNotFound)
}

func TestScheduler_StartStop(t *testing.T) {
	h := newTestHandler(t)
	s := NewContributionScheduler(h.Engine, zerolog.Nop())

	s.Start()
	require.Eventually(t, func() bool {
		_, err := h.Engine.Store.GetRun(context.Background(), "2024-07-01")
		return err == nil
	}, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()
}
