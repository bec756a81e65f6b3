package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Bernabe-03/oplaisir/internal/apperr"
	"github.com/Bernabe-03/oplaisir/internal/order"
	"github.com/Bernabe-03/oplaisir/internal/outbox"
)

// PendingCounter reports how many orders wait for validation.
type PendingCounter interface {
	PendingCount(ctx context.Context) (int, error)
}

type Service struct {
	repo        Repository
	broadcaster Broadcaster
	pending     PendingCounter
	now         func() time.Time
}

func NewService(repo Repository, broadcaster Broadcaster, pending PendingCounter) *Service {
	return &Service{
		repo:        repo,
		broadcaster: broadcaster,
		pending:     pending,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetPendingCounter breaks the construction cycle with the order service,
// which needs the notifier before the counter exists.
func (s *Service) SetPendingCounter(p PendingCounter) {
	s.pending = p
}

func pendingMessage(count int) string {
	return fmt.Sprintf("Vous avez %d commande(s) en attente", count)
}

// NewOrderNotification persists the "new order" record and pushes new-order
// and pending-orders-count to the dashboards. Broadcast failures are logged
// only; the returned record is the persisted one.
func (s *Service) NewOrderNotification(ctx context.Context, o *order.Order) (Notification, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return Notification{}, fmt.Errorf("notification: failed to encode order: %w", err)
	}

	sound := newOrderSound
	n := Notification{
		Type:     TypeOrder,
		Title:    "Nouvelle Commande",
		Message:  fmt.Sprintf("Nouvelle commande #%s reçue de %s", o.OrderNumber, o.CustomerName),
		Data:     data,
		Priority: PriorityHigh,
		Sound:    &sound,
	}
	if err := s.create(ctx, &n); err != nil {
		return Notification{}, err
	}

	count := -1
	if s.pending != nil {
		if c, err := s.pending.PendingCount(ctx); err != nil {
			log.Warn().Err(err).Msg("notification: failed to count pending orders")
		} else {
			count = c
		}
	}

	s.broadcast(ctx, EventNewOrder, map[string]any{
		"notification": n,
		"pendingCount": count,
		"order":        o,
		"sound":        sound,
	})
	if count >= 0 {
		var alert *string
		if count > 0 {
			a := pendingAlertSound
			alert = &a
		}
		s.broadcast(ctx, EventPendingCount, map[string]any{
			"count":   count,
			"message": pendingMessage(count),
			"sound":   alert,
		})
	}
	return n, nil
}

func (s *Service) NotifyNewOrder(ctx context.Context, o *order.Order) error {
	_, err := s.NewOrderNotification(ctx, o)
	return err
}

// Publish consumes order.status.changed messages from the outbox relay.
// Other event types are ignored.
func (s *Service) Publish(ctx context.Context, msg outbox.Message) error {
	if msg.Type != order.EventOrderStatusChanged {
		return nil
	}
	var event order.StatusChangedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		// A payload that cannot be decoded will never succeed; drop it.
		log.Error().Err(err).Str("event_id", msg.ID).Msg("notification: undecodable status change event")
		return nil
	}
	if event.Order == nil {
		log.Error().Str("event_id", msg.ID).Msg("notification: status change event without order")
		return nil
	}
	_, err := s.StatusChanged(ctx, event)
	return err
}

func statusLabel(s order.Status) string {
	switch s {
	case order.StatusPending:
		return "En attente"
	case order.StatusValidated:
		return "Validée"
	case order.StatusRejected:
		return "Rejetée"
	case order.StatusCompleted:
		return "Complétée"
	case order.StatusCancelled:
		return "Annulée"
	case order.StatusDelivered:
		return "Livrée"
	}
	return string(s)
}

// StatusChanged records and broadcasts one status change.
func (s *Service) StatusChanged(ctx context.Context, event order.StatusChangedEvent) (Notification, error) {
	o := event.Order
	n := Notification{
		Type:     TypeInfo,
		Title:    "Statut Commande Modifié",
		Message:  fmt.Sprintf("Commande #%s: %s → %s", o.OrderNumber, statusLabel(event.OldStatus), statusLabel(event.NewStatus)),
		Priority: PriorityMedium,
	}
	switch event.NewStatus {
	case order.StatusValidated:
		n.Type, n.Title, n.Priority = TypeSuccess, "Commande Validée", PriorityMedium
		n.Message = fmt.Sprintf("Commande #%s a été validée", o.OrderNumber)
	case order.StatusRejected:
		n.Type, n.Title, n.Priority = TypeWarning, "Commande Rejetée", PriorityHigh
		n.Message = fmt.Sprintf("Commande #%s a été rejetée", o.OrderNumber)
	case order.StatusDelivered:
		n.Type, n.Title, n.Priority = TypeSuccess, "Commande Livrée", PriorityLow
		n.Message = fmt.Sprintf("Commande #%s a été livrée à %s", o.OrderNumber, o.CustomerName)
	}

	data, err := json.Marshal(o)
	if err != nil {
		return Notification{}, fmt.Errorf("notification: failed to encode order: %w", err)
	}
	n.Data = data

	if err := s.create(ctx, &n); err != nil {
		return Notification{}, err
	}

	s.broadcast(ctx, EventNotification, n)
	if n.Priority == PriorityHigh || n.Priority == PriorityUrgent {
		s.broadcast(ctx, EventAlert, map[string]any{
			"notification": n,
			"urgent":       n.Priority == PriorityUrgent,
		})
	}
	return n, nil
}

func (s *Service) Unread(ctx context.Context, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.ListUnread(ctx, limit)
}

// MarkRead removes one notification from the unread feed. Unknown ids are
// NOT_FOUND.
func (s *Service) MarkRead(ctx context.Context, id uuid.UUID) error {
	return apperr.Persistence(s.repo.MarkRead(ctx, id), "failed to mark notification as read")
}

func (s *Service) MarkAllRead(ctx context.Context) (int, error) {
	marked, err := s.repo.MarkAllRead(ctx)
	if err != nil {
		return 0, apperr.Persistence(err, "failed to mark notifications as read")
	}
	log.Info().Int("count", marked).Msg("notification: marked all as read")
	return marked, nil
}

func (s *Service) create(ctx context.Context, n *Notification) error {
	id, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("notification: failed to generate id: %w", err)
	}
	n.ID = id
	n.CreatedAt = s.now()
	if err := s.repo.Create(ctx, n); err != nil {
		return fmt.Errorf("notification: failed to save %q: %w", n.Title, err)
	}
	return nil
}

func (s *Service) broadcast(ctx context.Context, event string, payload any) {
	if s.broadcaster == nil {
		return
	}
	if err := s.broadcaster.Broadcast(ctx, event, payload); err != nil {
		log.Warn().Err(err).Str("event", event).Msg("notification: broadcast failed")
	}
}
