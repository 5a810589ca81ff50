/*
ledger.go - Engine wiring for the contribution ledger

PURPOSE:
  Bundles the ledger components around one injected Store. There is no
  package-level store handle; tests build an Engine over the in-memory
  store, the server over SQLite or MongoDB.

COMPONENTS:
  Generator  - opens a month for one member or for every member
  Payments   - records and reverses payments, deletes contributions,
               adjusts balances
  Members    - member lifecycle hooks that keep statistics consistent
  Stats      - statistics reads and recompute
  Backfill   - chunked historical import

FLOW:
  trigger -> component computes amounts (arithmetic.go)
          -> stages writes in a Batch
          -> Coordinator commits the Batch atomically
          -> Notifier receives the event

EXAMPLE:
  engine := ledger.NewEngine(store, ledger.Config{
      Policy: ledger.FixedPolicy(decimal.NewFromInt(500)),
  })
  _, err := engine.Generator.AddContribution(ctx, ledger.AddContributionRequest{
      MemberID: "m-1", Month: "2024-07-01", ActionBy: "admin-1",
  })
  if errors.Is(err, ledger.ErrAlreadyExists) { ... }
*/
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultMonthlyContribution is used when no policy is configured.
var DefaultMonthlyContribution = decimal.NewFromInt(500)

// Config carries the policy and collaborators shared by every component.
// Zero values get defaults.
type Config struct {
	Policy         *PolicySchedule
	Location       *time.Location // timezone that decides the "current month"
	MaxBatchWrites int
	Clock          func() time.Time
	NewID          func() string
	Notifier       Notifier
	Logger         zerolog.Logger
}

// deps is the resolved Config plus the coordinator, shared by components.
type deps struct {
	store    Store
	coord    *Coordinator
	policy   *PolicySchedule
	loc      *time.Location
	clock    func() time.Time
	newID    func() string
	notifier Notifier
	log      zerolog.Logger
}

func newDeps(store Store, cfg Config, component string) *deps {
	d := &deps{
		store:    store,
		policy:   cfg.Policy,
		loc:      cfg.Location,
		clock:    cfg.Clock,
		newID:    cfg.NewID,
		notifier: cfg.Notifier,
		log:      cfg.Logger.With().Str("component", component).Logger(),
	}
	if d.policy == nil {
		d.policy = FixedPolicy(DefaultMonthlyContribution)
	}
	if d.loc == nil {
		d.loc = time.UTC
	}
	if d.clock == nil {
		d.clock = time.Now
	}
	if d.newID == nil {
		d.newID = uuid.NewString
	}
	if d.notifier == nil {
		d.notifier = NopNotifier{}
	}
	d.coord = NewCoordinator(store, cfg.MaxBatchWrites, d.log)
	return d
}

func (d *deps) now() time.Time { return d.clock().UTC() }

func (d *deps) currentMonth() Month { return CurrentMonth(d.clock(), d.loc) }

// joinedIn reports whether m was created during month. Creation already
// adds the month's expected amount to its statistics.
func (d *deps) joinedIn(m Member, month Month) bool {
	return !m.CreatedAt.IsZero() && CurrentMonth(m.CreatedAt, d.loc) == month
}

func (d *deps) notify(ctx context.Context, e Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = d.now()
	}
	if err := d.notifier.Notify(ctx, e); err != nil {
		d.log.Warn().Err(err).Str("event", string(e.Type)).Msg("failed to publish ledger event")
	}
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Store     Store
	Generator *Generator
	Payments  *PaymentLedger
	Members   *Members
	Stats     *StatsAccumulator
	Backfill  *Backfiller
}

func NewEngine(store Store, cfg Config) *Engine {
	return &Engine{
		Store:     store,
		Generator: NewGenerator(store, cfg),
		Payments:  NewPaymentLedger(store, cfg),
		Members:   NewMembers(store, cfg),
		Stats:     NewStatsAccumulator(store, cfg),
		Backfill:  NewBackfiller(store, cfg),
	}
}
