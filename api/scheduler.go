/*
scheduler.go - Automated monthly contribution run

PURPOSE:
  Periodically checks whether the current month has been generated and, if
  not, opens it for every member. Replaces an external cron trigger.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - The run record for a month is the idempotency key: a month with a
    recorded run is skipped
  - GenerateMonth itself skips members that already have the month, so a
    crash between chunks is repaired by the next tick

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewContributionScheduler(engine, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

  or, under an errgroup:
  g.Go(func() error { return scheduler.Run(ctx) })

SEE ALSO:
  - handlers.go: GenerateRun endpoint (manual run)
  - ledger/generator.go: GenerateMonth
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/welfare/contribution-ledger/ledger"
)

const schedulerActor = "scheduler"

// ContributionScheduler generates each month once.
type ContributionScheduler struct {
	Engine        *ledger.Engine
	CheckInterval time.Duration
	Enabled       bool

	log    zerolog.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewContributionScheduler creates a new scheduler.
func NewContributionScheduler(engine *ledger.Engine, log zerolog.Logger) *ContributionScheduler {
	return &ContributionScheduler{
		Engine:        engine,
		CheckInterval: time.Hour,
		Enabled:       true,
		log:           log.With().Str("component", "scheduler").Logger(),
	}
}

// Start begins the scheduler in the background.
func (cs *ContributionScheduler) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.Enabled {
		cs.log.Info().Msg("disabled, not starting")
		return
	}
	if cs.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	cs.cancel = cancel
	cs.wg.Add(1)
	go func() {
		defer cs.wg.Done()
		cs.Run(ctx)
	}()
}

// Stop stops the scheduler and waits for an in-flight check to finish.
func (cs *ContributionScheduler) Stop() {
	cs.mu.Lock()
	cancel := cs.cancel
	cs.cancel = nil
	cs.mu.Unlock()

	if cancel != nil {
		cancel()
		cs.wg.Wait()
		cs.log.Info().Msg("stopped")
	}
}

// Run checks immediately, then on every tick until ctx is done. It always
// returns nil so a failed check never tears down an errgroup.
func (cs *ContributionScheduler) Run(ctx context.Context) error {
	if !cs.Enabled {
		return nil
	}
	cs.log.Info().Dur("interval", cs.CheckInterval).Msg("started")

	ticker := time.NewTicker(cs.CheckInterval)
	defer ticker.Stop()

	cs.check(ctx)
	for {
		select {
		case <-ticker.C:
			cs.check(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// RunNow triggers an immediate check (for testing/admin). It reports
// whether a run was generated.
func (cs *ContributionScheduler) RunNow(ctx context.Context) (bool, error) {
	month := cs.Engine.Generator.CurrentMonth()

	_, err := cs.Engine.Store.GetRun(ctx, month)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, ledger.ErrRunNotFound):
		return false, err
	}

	run, err := cs.Engine.Generator.GenerateMonth(ctx, month, schedulerActor)
	if err != nil {
		return false, err
	}
	cs.log.Info().
		Str("month", run.Month.String()).
		Int("generated", run.Generated).
		Int("skipped", run.Skipped).
		Msg("monthly run completed")
	return true, nil
}

func (cs *ContributionScheduler) check(ctx context.Context) {
	if _, err := cs.RunNow(ctx); err != nil && ctx.Err() == nil {
		cs.log.Error().Err(err).Msg("monthly run failed")
	}
}

// NextRunTime returns when the next scheduled check will occur.
func (cs *ContributionScheduler) NextRunTime() time.Time {
	return time.Now().Add(cs.CheckInterval)
}
