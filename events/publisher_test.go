package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/welfare/contribution-ledger/ledger"
)

type published struct {
	exchange, key string
	msg           amqp091.Publishing
}

type fakeChannel struct {
	declared   []string
	published  []published
	publishErr error
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp091.Table) error {
	f.declared = append(f.declared, name+":"+kind)
	return nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp091.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{exchange, key, msg})
	return nil
}

func (f *fakeChannel) Close() error { return nil }

func TestPublisher_RoutesByEventType(t *testing.T) {
	// GIVEN
	ch := &fakeChannel{}
	p, err := newPublisher(ch, "ledger", "ledger.events", zerolog.Nop())
	require.NoError(t, err)
	occurred := time.Date(2024, time.July, 3, 10, 0, 0, 0, time.UTC)

	// WHEN
	err = p.Notify(context.Background(), ledger.Event{
		Type:       ledger.EventPaymentRecorded,
		MemberID:   "m-1",
		Month:      "2024-07-01",
		PaymentID:  "p-1",
		Amount:     decimal.RequireFromString("350.50"),
		ActionBy:   "admin-1",
		OccurredAt: occurred,
	})

	// THEN
	require.NoError(t, err)
	assert.Equal(t, []string{"ledger:topic"}, ch.declared)
	require.Len(t, ch.published, 1)
	got := ch.published[0]
	assert.Equal(t, "ledger", got.exchange)
	assert.Equal(t, "ledger.events.payment.recorded", got.key)
	assert.Equal(t, amqp091.Persistent, got.msg.DeliveryMode)
	assert.Equal(t, "application/json", got.msg.ContentType)

	msg, err := MessageFromJSON(got.msg.Body)
	require.NoError(t, err)
	assert.Equal(t, "payment.recorded", msg.Type)
	assert.Equal(t, "p-1", msg.PaymentID)
	assert.True(t, msg.Amount.Equal(decimal.RequireFromString("350.50")))
	assert.True(t, msg.OccurredAt.Equal(occurred))
}

func TestPublisher_ReturnsPublishError(t *testing.T) {
	ch := &fakeChannel{publishErr: errors.New("channel closed")}
	p, err := newPublisher(ch, "ledger", "ledger.events", zerolog.Nop())
	require.NoError(t, err)

	err = p.Notify(context.Background(), ledger.Event{Type: ledger.EventMonthGenerated})

	assert.ErrorContains(t, err, "channel closed")
}

func TestMessage_AmountIsDecimalString(t *testing.T) {
	body, err := NewMessage(ledger.Event{Type: ledger.EventBalanceAdjusted, Amount: decimal.RequireFromString("0.10")}).ToJSON()

	require.NoError(t, err)
	assert.Contains(t, string(body), `"amount":"0.1"`)
}
