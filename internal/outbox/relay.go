package outbox

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 50
	defaultMaxAttempts  = 10
)

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

// Relay polls the outbox and forwards pending messages in id order.
type Relay struct {
	store     Store
	publisher Publisher
	cfg       RelayConfig
	now       func() time.Time
}

func NewRelay(store Store, publisher Publisher, cfg RelayConfig) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	return &Relay{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	log.Info().Dur("poll_interval", r.cfg.PollInterval).Int("batch_size", r.cfg.BatchSize).Msg("outbox: relay started")
	for {
		if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("outbox: relay pass failed")
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("outbox: relay stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RelayOnce forwards one batch and returns how many messages were published.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	msgs, err := r.store.FetchPending(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, msg := range msgs {
		if ctx.Err() != nil {
			return published, ctx.Err()
		}

		if err := r.publisher.Publish(ctx, msg); err != nil {
			dead := msg.Attempts+1 >= r.cfg.MaxAttempts
			logEvent := log.Warn()
			if dead {
				logEvent = log.Error()
			}
			logEvent.Err(err).
				Str("event_id", msg.ID).
				Str("event_type", msg.Type).
				Int("attempts", msg.Attempts+1).
				Bool("dead", dead).
				Msg("outbox: failed to publish event")
			if markErr := r.store.MarkFailed(ctx, msg.ID, err, dead); markErr != nil {
				return published, markErr
			}
			continue
		}

		if err := r.store.MarkPublished(ctx, msg.ID, r.now()); err != nil {
			return published, err
		}
		published++
	}

	if published > 0 {
		log.Debug().Int("published", published).Int("fetched", len(msgs)).Msg("outbox: batch relayed")
	}
	return published, nil
}
