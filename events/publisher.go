/*
Package events publishes ledger events to RabbitMQ.

PURPOSE:
  Implements ledger.Notifier over AMQP 0-9-1. Each committed ledger change
  becomes one persistent JSON message on a topic exchange, routed as
  "{routing prefix}.{event type}", e.g. "ledger.events.payment.recorded".

FAILURE MODE:
  Publishing happens after the ledger commit. A failed publish is returned
  to the ledger, which logs it and carries on; the store stays the source
  of truth.

SEE ALSO:
  - ledger/notifier.go: Event and Notifier
  - messages.go: wire format
*/
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/welfare/contribution-ledger/ledger"
)

// channel is the part of *amqp091.Channel the publisher uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

type Publisher struct {
	conn       *amqp091.Connection
	ch         channel
	exchange   string
	routingKey string
	log        zerolog.Logger

	mu sync.Mutex // amqp091 channels are not safe for concurrent publishes
}

// Dial connects to url and declares exchange as a durable topic exchange.
func Dial(url, exchange, routingKey string, log zerolog.Logger) (*Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	p, err := newPublisher(ch, exchange, routingKey, log)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange, routingKey string, log zerolog.Logger) (*Publisher, error) {
	err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{
		ch:         ch,
		exchange:   exchange,
		routingKey: routingKey,
		log:        log.With().Str("component", "events").Logger(),
	}, nil
}

// Notify publishes e. It implements ledger.Notifier.
func (p *Publisher) Notify(ctx context.Context, e ledger.Event) error {
	body, err := NewMessage(e).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := p.routingKey + "." + string(e.Type)
	p.mu.Lock()
	err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    e.OccurredAt,
		Type:         string(e.Type),
		Body:         body,
	})
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	p.log.Debug().
		Str("type", string(e.Type)).
		Str("routing_key", key).
		Msg("event published")
	return nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

var _ ledger.Notifier = (*Publisher)(nil)
