package notification

import (
	"encoding/json"
	"time"

	"github.com/gofrs/uuid"
)

type Type string

const (
	TypeOrder   Type = "order"
	TypeInfo    Type = "info"
	TypeSuccess Type = "success"
	TypeWarning Type = "warning"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Notification is the persisted record shown in the back office feed.
type Notification struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	Type      Type            `json:"type" db:"type"`
	Title     string          `json:"title" db:"title"`
	Message   string          `json:"message" db:"message"`
	Data      json.RawMessage `json:"data" db:"data"`
	Priority  Priority        `json:"priority" db:"priority"`
	Sound     *string         `json:"sound,omitempty" db:"sound"`
	UserID    *string         `json:"user_id,omitempty" db:"user_id"`
	Read      bool            `json:"read" db:"read"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Broadcast event names, as the admin dashboard listens for them.
const (
	EventNewOrder     = "new-order"
	EventPendingCount = "pending-orders-count"
	EventPendingCheck = "pending-check"
	EventNotification = "notification"
	EventAlert        = "alert"
)

const (
	newOrderSound     = "order-notification.mp3"
	pendingAlertSound = "pending-alert.mp3"
)
