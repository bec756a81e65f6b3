package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the relay's view of the outbox table.
type Store interface {
	FetchPending(ctx context.Context, limit int) ([]Message, error)
	MarkPublished(ctx context.Context, id string, at time.Time) error
	// MarkFailed records a failed attempt. dead moves the message out of the
	// pending set for good.
	MarkFailed(ctx context.Context, id string, cause error, dead bool) error
}

type postgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) Store {
	return &postgresStore{db: db}
}

func (s *postgresStore) FetchPending(ctx context.Context, limit int) ([]Message, error) {
	query := `
		SELECT id, aggregate_id, event_type, payload, status, attempts, COALESCE(last_error, ''), created_at, published_at
		FROM outbox_events
		WHERE status = $1
		ORDER BY id
		LIMIT $2
	`
	rows, err := s.db.Query(ctx, query, string(StatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query pending outbox events: %w", err)
	}
	defer rows.Close()

	msgs := make([]Message, 0, limit)
	for rows.Next() {
		var (
			msg     Message
			payload []byte
			status  string
		)
		err := rows.Scan(
			&msg.ID,
			&msg.AggregateID,
			&msg.Type,
			&payload,
			&status,
			&msg.Attempts,
			&msg.LastError,
			&msg.CreatedAt,
			&msg.PublishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan outbox event: %w", err)
		}
		msg.Payload = payload
		msg.Status = Status(status)
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating outbox events: %w", err)
	}
	return msgs, nil
}

func (s *postgresStore) MarkPublished(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE outbox_events SET status = $2, published_at = $3, attempts = attempts + 1, last_error = NULL WHERE id = $1`,
		id, string(StatusPublished), at)
	if err != nil {
		return fmt.Errorf("repository: failed to mark outbox event %s published: %w", id, err)
	}
	return nil
}

func (s *postgresStore) MarkFailed(ctx context.Context, id string, cause error, dead bool) error {
	status := StatusPending
	if dead {
		status = StatusDead
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.db.Exec(ctx,
		`UPDATE outbox_events SET status = $2, attempts = attempts + 1, last_error = $3 WHERE id = $1`,
		id, string(status), msg)
	if err != nil {
		return fmt.Errorf("repository: failed to mark outbox event %s failed: %w", id, err)
	}
	return nil
}
