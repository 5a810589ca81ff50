package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// NOTIFIER - Ledger events published after a successful commit
// =============================================================================

type EventType string

const (
	EventContributionCreated EventType = "contribution.created"
	EventContributionDeleted EventType = "contribution.deleted"
	EventPaymentRecorded     EventType = "payment.recorded"
	EventPaymentDeleted      EventType = "payment.deleted"
	EventBalanceAdjusted     EventType = "balance.adjusted"
	EventMonthGenerated      EventType = "month.generated"
	EventMemberCreated       EventType = "member.created"
	EventMemberDeleted       EventType = "member.deleted"
)

// Event describes a committed ledger change. Events are informational:
// the documents in the store are the source of truth.
type Event struct {
	Type       EventType
	MemberID   MemberID
	Month      Month
	PaymentID  PaymentID
	Amount     decimal.Decimal
	ActionBy   string
	OccurredAt time.Time
}

// Notifier receives events after commit. A failing notifier never fails
// the ledger operation.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) error { return nil }

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, e Event) error

func (f NotifierFunc) Notify(ctx context.Context, e Event) error { return f(ctx, e) }
