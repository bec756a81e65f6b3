package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Publisher delivers one message. A nil error means the message may be
// marked published.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, msg Message) error

func (f PublisherFunc) Publish(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// FanOut hands each message to every publisher and fails if any of them
// fails. A retried message reaches the successful publishers again, which is
// fine under at-least-once delivery.
type FanOut []Publisher

func (f FanOut) Publish(ctx context.Context, msg Message) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Breaker guards a publisher with a circuit breaker so an unreachable broker
// fails fast instead of stalling every relay tick.
type Breaker struct {
	next    Publisher
	breaker *gobreaker.CircuitBreaker
}

func NewBreaker(name string, next Publisher) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Stringer("from", from).Stringer("to", to).Msg("outbox: publisher breaker state changed")
		},
	}
	return &Breaker{next: next, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (b *Breaker) Publish(ctx context.Context, msg Message) error {
	_, err := b.breaker.Execute(func() (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		return nil, b.next.Publish(ctx, msg)
	})
	return err
}

func (b *Breaker) State() gobreaker.State {
	return b.breaker.State()
}
