package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Broadcaster pushes a named event to every connected dashboard.
type Broadcaster interface {
	Broadcast(ctx context.Context, event string, payload any) error
}

// Envelope is the wire shape published on the channel.
type Envelope struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// RedisBroadcaster publishes envelopes on a Redis pub/sub channel; the
// socket gateway subscribes to it.
type RedisBroadcaster struct {
	client  redis.Cmdable
	channel string
	now     func() time.Time
}

func NewRedisBroadcaster(client redis.Cmdable, channel string) *RedisBroadcaster {
	return &RedisBroadcaster{
		client:  client,
		channel: channel,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (b *RedisBroadcaster) Broadcast(ctx context.Context, event string, payload any) error {
	body, err := encodeEnvelope(event, payload, b.now())
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, body).Err(); err != nil {
		return fmt.Errorf("broadcaster: failed to publish %s on %s: %w", event, b.channel, err)
	}
	return nil
}

func encodeEnvelope(event string, payload any, at time.Time) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("broadcaster: failed to encode %s payload: %w", event, err)
	}
	body, err := json.Marshal(Envelope{Event: event, Data: data, Timestamp: at})
	if err != nil {
		return nil, fmt.Errorf("broadcaster: failed to encode %s envelope: %w", event, err)
	}
	return body, nil
}

// LogBroadcaster only logs; used when no Redis is configured.
type LogBroadcaster struct{}

func (LogBroadcaster) Broadcast(_ context.Context, event string, payload any) error {
	log.Info().Str("event", event).Interface("payload", payload).Msg("broadcaster: event")
	return nil
}
