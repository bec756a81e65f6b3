// Package outbox stores domain events in the same transaction as the state
// change that produced them and relays them to publishers afterwards.
package outbox

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPublished Status = "PUBLISHED"
	StatusDead      Status = "DEAD"
)

// Message is one event waiting in, or delivered from, the outbox.
type Message struct {
	ID          string          `json:"id"`
	AggregateID string          `json:"aggregate_id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Status      Status          `json:"status"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	PublishedAt *time.Time      `json:"published_at,omitempty"`
}

// NewMessage encodes payload and stamps the message with a ULID, so ids sort
// by creation time.
func NewMessage(eventType, aggregateID string, payload any, now time.Time) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("outbox: failed to encode %s payload: %w", eventType, err)
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return Message{}, fmt.Errorf("outbox: failed to generate message id: %w", err)
	}
	return Message{
		ID:          id.String(),
		AggregateID: aggregateID,
		Type:        eventType,
		Payload:     raw,
		Status:      StatusPending,
		CreatedAt:   now,
	}, nil
}

// Execer is satisfied by pgx.Tx. Enqueue must run inside the transaction of
// the change that emitted the messages.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func Enqueue(ctx context.Context, tx Execer, msgs ...Message) error {
	query := `
		INSERT INTO outbox_events (id, aggregate_id, event_type, payload, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6)
	`
	for _, msg := range msgs {
		_, err := tx.Exec(ctx, query,
			msg.ID,
			msg.AggregateID,
			msg.Type,
			[]byte(msg.Payload),
			string(StatusPending),
			msg.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("outbox: failed to enqueue %s for %s: %w", msg.Type, msg.AggregateID, err)
		}
	}
	return nil
}
