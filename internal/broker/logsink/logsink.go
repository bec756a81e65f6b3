// Package logsink is the event publisher used when no broker is configured.
package logsink

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/Bernabe-03/oplaisir/internal/outbox"
)

type Publisher struct {
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Publisher {
	return &Publisher{logger: logger.With().Str("component", "logsink").Logger()}
}

func (p *Publisher) Publish(_ context.Context, msg outbox.Message) error {
	p.logger.Info().
		Str("event_id", msg.ID).
		Str("event_type", msg.Type).
		Str("aggregate_id", msg.AggregateID).
		RawJSON("payload", msg.Payload).
		Msg("event published")
	return nil
}
