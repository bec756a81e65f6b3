// Package memory is a process-local implementation of every store the
// service needs. It backs the "memory" store driver and the service tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid"

	"github.com/Bernabe-03/oplaisir/internal/apperr"
	"github.com/Bernabe-03/oplaisir/internal/catalog"
	"github.com/Bernabe-03/oplaisir/internal/notification"
	"github.com/Bernabe-03/oplaisir/internal/order"
	"github.com/Bernabe-03/oplaisir/internal/outbox"
)

// Store guards all state with one mutex, which makes every multi-record
// write atomic.
type Store struct {
	mu            sync.Mutex
	items         map[catalog.Ref]catalog.Item
	orders        map[uuid.UUID]*order.Order
	counters      map[string]int
	outbox        []outbox.Message
	notifications []notification.Notification
	now           func() time.Time
}

func New() *Store {
	return &Store{
		items:    make(map[catalog.Ref]catalog.Item),
		orders:   make(map[uuid.UUID]*order.Order),
		counters: make(map[string]int),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SeedItem adds or replaces a catalog record.
func (s *Store) SeedItem(item catalog.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.Ref] = item
}

// Item returns the current state of a catalog record.
func (s *Store) Item(ref catalog.Ref) (catalog.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[ref]
	return item, ok
}

// Messages returns a copy of the outbox, oldest first.
func (s *Store) Messages() []outbox.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outbox.Message(nil), s.outbox...)
}

func (s *Store) Notifications() []notification.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notification.Notification(nil), s.notifications...)
}

// catalog.Store

func (s *Store) FindByID(_ context.Context, ref catalog.Ref) (catalog.Item, error) {
	if !ref.Kind.Valid() {
		return catalog.Item{}, apperr.InvalidInput("unknown item kind %q", ref.Kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[ref]
	if !ok {
		return catalog.Item{}, apperr.NotFound("%s %s not found", ref.Kind, ref.ID)
	}
	return item, nil
}

func (s *Store) FindBySKU(_ context.Context, kind catalog.Kind, sku string) (catalog.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ref, item := range s.items {
		if ref.Kind == kind && item.SKU == sku {
			return item, nil
		}
	}
	return catalog.Item{}, apperr.NotFound("%s with sku %q not found", kind, sku)
}

func (s *Store) SearchSupportsByName(_ context.Context, fragment string) ([]catalog.Item, error) {
	fragment = strings.ToLower(strings.TrimSpace(fragment))
	if fragment == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	matches := make([]catalog.Item, 0)
	for ref, item := range s.items {
		if ref.Kind == catalog.KindSupport && strings.Contains(strings.ToLower(item.Name), fragment) {
			matches = append(matches, item)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.Before(matches[j].CreatedAt) })
	return matches, nil
}

func (s *Store) CreatePlaceholderSupport(_ context.Context, p catalog.PlaceholderSupport) (catalog.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ref, item := range s.items {
		if ref.Kind == catalog.KindSupport && item.SKU == p.SKU {
			return item, nil
		}
	}
	id, err := uuid.NewV4()
	if err != nil {
		return catalog.Item{}, apperr.Persistence(err, "failed to generate support id")
	}
	now := s.now()
	item := catalog.Item{
		Ref:          catalog.SupportRef(id),
		SKU:          p.SKU,
		Name:         p.Name,
		Stock:        catalog.Untracked(),
		SellingPrice: p.SellingPrice,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.items[item.Ref] = item
	return item, nil
}

// applyAdjustments checks every adjustment before touching anything. Callers
// hold s.mu.
func (s *Store) applyAdjustments(adjs []catalog.Adjustment) error {
	next := make(map[catalog.Ref]catalog.Item, len(adjs))
	for _, adj := range adjs {
		if adj.Delta == 0 {
			continue
		}
		item, ok := next[adj.Ref]
		if !ok {
			item, ok = s.items[adj.Ref]
		}
		if !ok {
			return apperr.NotFound("%s %s not found", adj.Ref.Kind, adj.Ref.ID)
		}
		if !item.Stock.IsTracked() {
			continue
		}
		quantity := item.Stock.Quantity() + adj.Delta
		if quantity < 0 {
			return apperr.InsufficientStock("insufficient stock for %s: available %d, requested %d",
				item.Name, item.Stock.Quantity(), -adj.Delta)
		}
		item.Stock = catalog.Tracked(quantity)
		item.UpdatedAt = s.now()
		next[adj.Ref] = item
	}
	for ref, item := range next {
		s.items[ref] = item
	}
	return nil
}

func (s *Store) enqueue(eventType string, aggregateID uuid.UUID, payload any, at time.Time) error {
	msg, err := outbox.NewMessage(eventType, aggregateID.String(), payload, at)
	if err != nil {
		return apperr.Persistence(err, "failed to build %s event", eventType)
	}
	s.outbox = append(s.outbox, msg)
	return nil
}

// order.Repository

func (s *Store) CreateOrder(_ context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return apperr.Persistence(err, "failed to generate order id")
		}
		o.ID = id
	}

	day := o.CreatedAt.UTC().Format("2006-01-02")
	seq := s.counters[day] + 1
	number := order.FormatOrderNumber(o.CreatedAt.UTC(), seq)
	for _, existing := range s.orders {
		if existing.OrderNumber == number {
			return apperr.Conflict("order number %s is already taken", number)
		}
	}

	for i := range o.Items {
		id, err := uuid.NewV4()
		if err != nil {
			return apperr.Persistence(err, "failed to generate order item id")
		}
		o.Items[i].ID = id
		o.Items[i].OrderID = o.ID
	}
	for i := range o.History {
		if o.History[i].ID == uuid.Nil {
			o.History[i].ID = uuid.Must(uuid.NewV4())
		}
		o.History[i].OrderID = o.ID
	}
	o.OrderNumber = number

	if err := s.enqueue(order.EventOrderCreated, o.ID, o, o.CreatedAt); err != nil {
		return err
	}
	s.counters[day] = seq
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (s *Store) ApplyStatusChange(_ context.Context, change order.StatusChange) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.orders[change.OrderID]
	if !ok {
		return nil, apperr.NotFound("order %s not found", change.OrderID)
	}
	if stored.Status != change.ExpectedStatus {
		return nil, apperr.Conflict("order %s moved from %s to %s concurrently", stored.OrderNumber, change.ExpectedStatus, stored.Status)
	}

	o := cloneOrder(stored)
	change.Apply(o)

	history := change.History
	history.ID = uuid.Must(uuid.NewV4())
	history.OrderID = o.ID
	o.History = append([]order.HistoryEntry{history}, o.History...)

	// Adjustments go last among the checks so a failure leaves nothing behind.
	event := order.StatusChangedEvent{Order: o, OldStatus: change.ExpectedStatus, NewStatus: o.Status, ActorID: history.ActorID}
	msg, err := outbox.NewMessage(order.EventOrderStatusChanged, o.ID.String(), event, history.CreatedAt)
	if err != nil {
		return nil, apperr.Persistence(err, "failed to build status change event")
	}
	if err := s.applyAdjustments(change.Adjustments); err != nil {
		return nil, err
	}
	s.outbox = append(s.outbox, msg)
	s.orders[o.ID] = o
	return cloneOrder(o), nil
}

func (s *Store) UpdateOrder(_ context.Context, update order.OrderUpdate) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.orders[update.OrderID]
	if !ok {
		return nil, apperr.NotFound("order %s not found", update.OrderID)
	}
	o := cloneOrder(stored)
	update.Apply(o)

	history := update.History
	history.ID = uuid.Must(uuid.NewV4())
	history.OrderID = o.ID
	history.Status = o.Status
	o.History = append([]order.HistoryEntry{history}, o.History...)

	s.orders[o.ID] = o
	return cloneOrder(o), nil
}

func (s *Store) DeleteOrder(_ context.Context, id uuid.UUID, expected order.Status, restore []catalog.Adjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.orders[id]
	if !ok {
		return apperr.NotFound("order %s not found", id)
	}
	if stored.Status != expected {
		return apperr.Conflict("order %s moved from %s to %s concurrently", id, expected, stored.Status)
	}
	if err := s.applyAdjustments(restore); err != nil {
		return err
	}
	delete(s.orders, id)
	return nil
}

func (s *Store) GetOrderByID(_ context.Context, id uuid.UUID) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, apperr.NotFound("order %s not found", id)
	}
	return cloneOrder(o), nil
}

func (s *Store) GetOrderByNumber(_ context.Context, orderNumber string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.OrderNumber == orderNumber {
			return cloneOrder(o), nil
		}
	}
	return nil, apperr.NotFound("order %s not found", orderNumber)
}

// selectOrders returns copies of matching orders, newest first unless
// oldestFirst is set. Callers hold s.mu.
func (s *Store) selectOrders(match func(o *order.Order) bool, oldestFirst bool) []order.Order {
	out := make([]order.Order, 0)
	for _, o := range s.orders {
		if match(o) {
			out = append(out, *cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if oldestFirst {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *Store) ListOrders(_ context.Context, filter order.ListFilter) ([]order.Order, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.selectOrders(func(o *order.Order) bool {
		return filter.Status == nil || o.Status == *filter.Status
	}, false)

	start := (filter.Page - 1) * filter.Limit
	if start < 0 || start >= len(all) {
		return []order.Order{}, len(all), nil
	}
	end := start + filter.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

func (s *Store) ListPendingValidation(_ context.Context) ([]order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectOrders(isPendingValidation, true), nil
}

func (s *Store) ListByCustomerPhone(_ context.Context, phone string) ([]order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectOrders(func(o *order.Order) bool { return o.CustomerPhone == phone }, false), nil
}

func (s *Store) CountPendingValidation(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, o := range s.orders {
		if isPendingValidation(o) {
			count++
		}
	}
	return count, nil
}

func isPendingValidation(o *order.Order) bool {
	return o.Status == order.StatusPending && o.RequiresValidation
}

// outbox.Store

func (s *Store) FetchPending(_ context.Context, limit int) ([]outbox.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]outbox.Message, 0, limit)
	for _, msg := range s.outbox {
		if msg.Status != outbox.StatusPending {
			continue
		}
		out = append(out, msg)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkPublished(_ context.Context, id string, at time.Time) error {
	return s.updateMessage(id, func(msg *outbox.Message) {
		msg.Status = outbox.StatusPublished
		msg.Attempts++
		msg.LastError = ""
		msg.PublishedAt = &at
	})
}

func (s *Store) MarkFailed(_ context.Context, id string, cause error, dead bool) error {
	return s.updateMessage(id, func(msg *outbox.Message) {
		msg.Attempts++
		if cause != nil {
			msg.LastError = cause.Error()
		}
		if dead {
			msg.Status = outbox.StatusDead
		}
	})
}

func (s *Store) updateMessage(id string, fn func(msg *outbox.Message)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outbox {
		if s.outbox[i].ID == id {
			fn(&s.outbox[i])
			return nil
		}
	}
	return apperr.NotFound("outbox event %s not found", id)
}

// notification.Repository

func (s *Store) Create(_ context.Context, n *notification.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, *n)
	return nil
}

func (s *Store) ListUnread(_ context.Context, limit int) ([]notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notification.Notification, 0, limit)
	for i := len(s.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		if !s.notifications[i].Read {
			out = append(out, s.notifications[i])
		}
	}
	return out, nil
}

func (s *Store) MarkRead(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifications {
		if s.notifications[i].ID == id {
			s.notifications[i].Read = true
			return nil
		}
	}
	return apperr.NotFound("notification %s not found", id)
}

func (s *Store) MarkAllRead(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	marked := 0
	for i := range s.notifications {
		if !s.notifications[i].Read {
			s.notifications[i].Read = true
			marked++
		}
	}
	return marked, nil
}

func cloneOrder(o *order.Order) *order.Order {
	c := *o
	c.Items = make([]order.LineItem, len(o.Items))
	for i, item := range o.Items {
		if item.Images != nil {
			item.Images = append(make([]string, 0, len(item.Images)), item.Images...)
		}
		item.Metadata = cloneMap(item.Metadata)
		c.Items[i] = item
	}
	c.History = make([]order.HistoryEntry, len(o.History))
	for i, h := range o.History {
		h.Metadata = cloneMap(h.Metadata)
		c.History[i] = h
	}
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
