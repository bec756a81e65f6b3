package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultSweepInterval = 30 * time.Second

// PendingSweeper reminds dashboards of orders waiting for validation. It
// only reads.
type PendingSweeper struct {
	counter     PendingCounter
	broadcaster Broadcaster
	interval    time.Duration
}

func NewPendingSweeper(counter PendingCounter, broadcaster Broadcaster, interval time.Duration) *PendingSweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &PendingSweeper{counter: counter, broadcaster: broadcaster, interval: interval}
}

func (p *PendingSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", p.interval).Msg("notification: pending sweep started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("notification: pending sweep stopped")
			return nil
		case <-ticker.C:
			if _, err := p.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("notification: pending sweep failed")
			}
		}
	}
}

// SweepOnce returns the pending count it observed. pending-check is only
// broadcast when the count is positive.
func (p *PendingSweeper) SweepOnce(ctx context.Context) (int, error) {
	count, err := p.counter.PendingCount(ctx)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}
	err = p.broadcaster.Broadcast(ctx, EventPendingCheck, map[string]any{
		"count":     count,
		"timestamp": time.Now().UTC(),
		"message":   fmt.Sprintf("Rappel: %d commande(s) en attente de validation", count),
	})
	return count, err
}
