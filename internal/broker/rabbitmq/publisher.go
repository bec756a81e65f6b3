// Package rabbitmq publishes outbox events to a topic exchange, routed by
// event type.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/Bernabe-03/oplaisir/internal/outbox"
)

const ExchangeType = "topic"

// SetupConn dials with a few retries, opens a channel in confirm mode and
// declares the exchange.
func SetupConn(url, exchange string, attempts int) (*amqp.Connection, *amqp.Channel, error) {
	if attempts < 1 {
		attempts = 1
	}

	var (
		conn *amqp.Connection
		err  error
	)
	for i := 0; i < attempts; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("rabbitmq: failed to connect")
		if i < attempts-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("rabbitmq: could not connect: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("rabbitmq: could not open channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("rabbitmq: could not enable publisher confirms: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,     // name
		ExchangeType, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("rabbitmq: could not declare exchange: %w", err)
	}

	return conn, ch, nil
}

type Publisher struct {
	ch       *amqp.Channel
	exchange string
}

func NewPublisher(ch *amqp.Channel, exchange string) *Publisher {
	return &Publisher{ch: ch, exchange: exchange}
}

var ErrNotAcked = errors.New("rabbitmq: broker did not ack the message")

// Publish waits for the broker confirm so a nil error means the event is
// durable on the broker side.
func (p *Publisher) Publish(ctx context.Context, msg outbox.Message) error {
	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx,
		p.exchange, // exchange
		msg.Type,   // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ID,
			Type:         msg.Type,
			Timestamp:    msg.CreatedAt,
			Headers:      amqp.Table{"aggregate_id": msg.AggregateID},
			Body:         msg.Payload,
		},
	)
	if err != nil {
		return fmt.Errorf("rabbitmq: failed to publish %s: %w", msg.ID, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("rabbitmq: failed waiting for confirm of %s: %w", msg.ID, err)
	}
	if !acked {
		return fmt.Errorf("%w: %s", ErrNotAcked, msg.ID)
	}
	return nil
}
