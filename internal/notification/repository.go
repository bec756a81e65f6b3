package notification

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Bernabe-03/oplaisir/internal/apperr"
)

type Repository interface {
	Create(ctx context.Context, n *Notification) error
	ListUnread(ctx context.Context, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
	// MarkAllRead returns how many notifications it flipped.
	MarkAllRead(ctx context.Context) (int, error)
}

type postgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Create(ctx context.Context, n *Notification) error {
	query := `
		INSERT INTO notifications (id, type, title, message, data, priority, sound, user_id, read, created_at)
		VALUES (:id, :type, :title, :message, :data, :priority, :sound, :user_id, :read, :created_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, n); err != nil {
		return fmt.Errorf("repository: failed to insert notification: %w", err)
	}
	return nil
}

func (r *postgresRepository) ListUnread(ctx context.Context, limit int) ([]Notification, error) {
	query := `
		SELECT id, type, title, message, data, priority, sound, user_id, read, created_at
		FROM notifications
		WHERE NOT read
		ORDER BY created_at DESC
		LIMIT $1
	`
	notifications := make([]Notification, 0)
	if err := r.db.SelectContext(ctx, &notifications, query, limit); err != nil {
		return nil, fmt.Errorf("repository: failed to select unread notifications: %w", err)
	}
	return notifications, nil
}

func (r *postgresRepository) MarkRead(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("repository: failed to mark notification %s as read: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return apperr.NotFound("notification %s not found", id)
	}
	return nil
}

func (r *postgresRepository) MarkAllRead(ctx context.Context) (int, error) {
	result, err := r.db.ExecContext(ctx, `UPDATE notifications SET read = TRUE WHERE NOT read`)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to mark notifications as read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("repository: failed to read affected rows: %w", err)
	}
	return int(affected), nil
}
