package order

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/Bernabe-03/oplaisir/internal/apperr"
	"github.com/Bernabe-03/oplaisir/internal/catalog"
)

const (
	defaultPage  = 1
	defaultLimit = 20
	maxLimit     = 100
	// maxPage keeps (page-1)*limit inside a Postgres integer OFFSET.
	maxPage = math.MaxInt32 / maxLimit

	pendingCountTimeout = 5 * time.Second
)

// Notifier is told about every committed order. Its failures never fail the
// order.
type Notifier interface {
	NotifyNewOrder(ctx context.Context, o *Order) error
}

type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput, actorID string) (*Order, error)
	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*Order, error)
	ListOrders(ctx context.Context, filter ListFilter) (*Page, error)
	ListPendingOrders(ctx context.Context) ([]Order, error)
	PendingCount(ctx context.Context) (int, error)
	ListCustomerOrders(ctx context.Context, phone string) ([]Order, error)
	UpdateOrder(ctx context.Context, id uuid.UUID, patch UpdatePatch, actorID string) (*Order, error)
	ValidateOrder(ctx context.Context, id uuid.UUID, action Action, actorID string, params TransitionParams) (*Order, error)
	DeleteOrder(ctx context.Context, id uuid.UUID) error
}

type Deps struct {
	Orders   Repository
	Catalog  catalog.Store
	Notifier Notifier
	Clock    func() time.Time
}

type service struct {
	orders     Repository
	normalizer *Normalizer
	validator  *StockValidator
	notifier   Notifier
	now        func() time.Time
	pending    singleflight.Group
}

func NewService(deps Deps) Service {
	now := deps.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		orders:     deps.Orders,
		normalizer: NewNormalizer(deps.Catalog),
		validator:  NewStockValidator(deps.Catalog),
		notifier:   deps.Notifier,
		now:        now,
	}
}

func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput, actorID string) (*Order, error) {
	if err := validateCreateInput(input); err != nil {
		log.Warn().Err(err).Msg("service: rejected order input")
		return nil, err
	}

	normalized := s.normalizer.Normalize(ctx, input.Items)

	resolved, err := s.validator.Validate(ctx, normalized)
	if err != nil {
		log.Warn().Err(err).Str("customer_phone", input.CustomerPhone).Msg("service: order items failed stock validation")
		return nil, fmt.Errorf("service: failed to validate order items: %w", err)
	}

	now := s.now()
	o := buildOrder(input, resolved, actorID, now)

	if err := s.orders.CreateOrder(ctx, o); err != nil {
		log.Error().Err(err).Msg("service: failed to create order in repository")
		return nil, fmt.Errorf("service: failed to create order: %w", err)
	}

	log.Info().
		Stringer("order_id", o.ID).
		Str("order_number", o.OrderNumber).
		Str("total", o.Total.String()).
		Msg("service: order created")

	if s.notifier != nil {
		if err := s.notifier.NotifyNewOrder(ctx, o); err != nil {
			log.Error().Err(err).Stringer("order_id", o.ID).Msg("service: failed to notify new order")
		}
	}

	return o, nil
}

func validateCreateInput(input CreateOrderInput) error {
	if len(input.Items) == 0 {
		return apperr.InvalidInput("order must contain at least one item")
	}
	required := []struct{ field, value string }{
		{"customer name", input.CustomerName},
		{"customer phone", input.CustomerPhone},
		{"customer address", input.CustomerAddress},
		{"customer commune", input.CustomerCommune},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return apperr.InvalidInput("%s is required", r.field)
		}
	}
	if !input.PaymentMethod.Valid() {
		return apperr.InvalidInput("unknown payment method %q", input.PaymentMethod)
	}
	if input.DeliveryCost.IsNegative() {
		return apperr.InvalidInput("delivery cost cannot be negative")
	}
	if d := input.Discount; d != nil {
		if d.Amount.IsNegative() {
			return apperr.InvalidInput("discount amount cannot be negative")
		}
		if d.Type != "" && !d.Type.Valid() {
			return apperr.InvalidInput("unknown discount type %q", d.Type)
		}
	}
	for i, item := range input.Items {
		if !item.Kind.Valid() {
			return apperr.InvalidInput("item %d: unknown type %q", i, item.Kind)
		}
		if strings.TrimSpace(item.Name) == "" {
			return apperr.InvalidInput("item %d: name is required", i)
		}
		if item.Quantity <= 0 {
			return apperr.InvalidInput("item %d: quantity must be greater than zero", i)
		}
		if item.UnitPrice.IsNegative() || item.TotalPrice.IsNegative() {
			return apperr.InvalidInput("item %d: prices cannot be negative", i)
		}
	}
	return nil
}

// computeTotals derives subtotal and total when the caller left them out or
// sent zero.
func computeTotals(input CreateOrderInput, items []ResolvedItem) (subtotal, discount, total decimal.Decimal) {
	if input.Subtotal != nil && !input.Subtotal.IsZero() {
		subtotal = *input.Subtotal
	} else {
		subtotal = decimal.Zero
		for _, item := range items {
			subtotal = subtotal.Add(item.TotalPrice)
		}
	}
	discount = decimal.Zero
	if input.Discount != nil {
		discount = input.Discount.Amount
	}
	if input.Total != nil && !input.Total.IsZero() {
		total = *input.Total
	} else {
		total = subtotal.Sub(discount).Add(input.DeliveryCost)
	}
	return subtotal, discount, total
}

func buildOrder(input CreateOrderInput, items []ResolvedItem, actorID string, now time.Time) *Order {
	subtotal, discount, total := computeTotals(input, items)

	requiresValidation := true
	if input.RequiresValidation != nil {
		requiresValidation = *input.RequiresValidation
	}

	o := &Order{
		CustomerName:       strings.TrimSpace(input.CustomerName),
		CustomerPhone:      strings.TrimSpace(input.CustomerPhone),
		CustomerEmail:      input.CustomerEmail,
		CustomerAddress:    input.CustomerAddress,
		CustomerCommune:    input.CustomerCommune,
		DeliveryNotes:      input.DeliveryNotes,
		Subtotal:           subtotal,
		DiscountAmount:     discount,
		DiscountType:       DiscountFixed,
		DeliveryCost:       input.DeliveryCost,
		Total:              total,
		PaymentMethod:      input.PaymentMethod,
		Status:             StatusPending,
		PaymentStatus:      PaymentPending,
		RequiresValidation: requiresValidation,
		Notes:              input.Notes,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if actorID != "" {
		o.UserID = &actorID
	}
	if d := input.Discount; d != nil {
		if d.Type != "" {
			o.DiscountType = d.Type
		}
		o.DiscountCode = d.Code
		o.DiscountLabel = d.Label
	}

	o.Items = make([]LineItem, 0, len(items))
	for _, item := range items {
		images := item.Images
		if images == nil {
			images = []string{}
		}
		metadata := item.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		o.Items = append(o.Items, LineItem{
			Ref:         item.Ref,
			Name:        item.Name,
			SKU:         item.SKU,
			Description: item.Description,
			Images:      images,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			TotalPrice:  item.TotalPrice,
			Metadata:    metadata,
			CreatedAt:   now,
		})
	}

	o.History = []HistoryEntry{{
		Status:      StatusPending,
		Action:      HistoryCreated,
		Description: "Order created by customer",
		ActorID:     actorID,
		Metadata:    map[string]any{},
		CreatedAt:   now,
	}}
	return o
}

func (s *service) GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.orders.GetOrderByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			log.Warn().Err(err).Stringer("order_id", id).Msg("service: order not found by id")
			return nil, err
		}
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to fetch order by id in repository")
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}
	return o, nil
}

func (s *service) GetOrderByNumber(ctx context.Context, orderNumber string) (*Order, error) {
	o, err := s.orders.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			log.Warn().Err(err).Str("order_number", orderNumber).Msg("service: order not found by number")
			return nil, err
		}
		log.Error().Err(err).Str("order_number", orderNumber).Msg("service: failed to fetch order by number in repository")
		return nil, fmt.Errorf("service: failed to fetch order by number: %w", err)
	}
	return o, nil
}

func (s *service) ListOrders(ctx context.Context, filter ListFilter) (*Page, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, apperr.InvalidInput("unknown status %q", *filter.Status)
	}
	if filter.Page < 1 {
		filter.Page = defaultPage
	}
	if filter.Page > maxPage {
		return nil, apperr.InvalidInput("page must not exceed %d", maxPage)
	}
	if filter.Limit < 1 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}

	orders, total, err := s.orders.ListOrders(ctx, filter)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to list orders in repository")
		return nil, fmt.Errorf("service: failed to list orders: %w", err)
	}

	return &Page{
		Orders: orders,
		Pagination: Pagination{
			Page:  filter.Page,
			Limit: filter.Limit,
			Total: total,
			Pages: (total + filter.Limit - 1) / filter.Limit,
		},
	}, nil
}

func (s *service) ListPendingOrders(ctx context.Context) ([]Order, error) {
	orders, err := s.orders.ListPendingValidation(ctx)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to list pending orders in repository")
		return nil, fmt.Errorf("service: failed to list pending orders: %w", err)
	}
	return orders, nil
}

// PendingCount collapses concurrent callers (HTTP polling and the sweep) onto
// one query. The shared query is detached from the first caller's
// cancellation so the callers joining it are not failed by it.
func (s *service) PendingCount(ctx context.Context) (int, error) {
	v, err, _ := s.pending.Do("pending-count", func() (any, error) {
		queryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pendingCountTimeout)
		defer cancel()
		return s.orders.CountPendingValidation(queryCtx)
	})
	if err != nil {
		log.Error().Err(err).Msg("service: failed to count pending orders in repository")
		return 0, fmt.Errorf("service: failed to count pending orders: %w", err)
	}
	return v.(int), nil
}

func (s *service) ListCustomerOrders(ctx context.Context, phone string) ([]Order, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, apperr.InvalidInput("customer phone is required")
	}
	orders, err := s.orders.ListByCustomerPhone(ctx, phone)
	if err != nil {
		log.Error().Err(err).Str("customer_phone", phone).Msg("service: failed to list customer orders in repository")
		return nil, fmt.Errorf("service: failed to list customer orders: %w", err)
	}
	return orders, nil
}

func (s *service) UpdateOrder(ctx context.Context, id uuid.UUID, patch UpdatePatch, actorID string) (*Order, error) {
	if patch.Empty() {
		return nil, apperr.InvalidInput("nothing to update")
	}
	if patch.PaymentStatus != nil && !patch.PaymentStatus.Valid() {
		return nil, apperr.InvalidInput("unknown payment status %q", *patch.PaymentStatus)
	}
	if patch.DiscountType != nil && !patch.DiscountType.Valid() {
		return nil, apperr.InvalidInput("unknown discount type %q", *patch.DiscountType)
	}
	if patch.DiscountAmount != nil && patch.DiscountAmount.IsNegative() {
		return nil, apperr.InvalidInput("discount amount cannot be negative")
	}
	if patch.DeliveryCost != nil && patch.DeliveryCost.IsNegative() {
		return nil, apperr.InvalidInput("delivery cost cannot be negative")
	}

	now := s.now()
	metadata := patch.Metadata()
	metadata["updatedAt"] = now.Format(time.RFC3339Nano)
	metadata["updatedBy"] = actorID

	update := OrderUpdate{
		OrderID: id,
		Apply:   func(o *Order) { applyPatch(o, patch, now) },
		History: HistoryEntry{
			OrderID:     id,
			Action:      HistoryUpdated,
			Description: "Order updated",
			ActorID:     actorID,
			Metadata:    metadata,
			CreatedAt:   now,
		},
	}

	o, err := s.orders.UpdateOrder(ctx, update)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			log.Warn().Err(err).Stringer("order_id", id).Msg("service: order not found, cannot update")
			return nil, err
		}
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to update order in repository")
		return nil, fmt.Errorf("service: failed to update order: %w", err)
	}

	log.Info().Stringer("order_id", id).Msg("service: order updated")
	return o, nil
}

func applyPatch(o *Order, patch UpdatePatch, now time.Time) {
	if patch.PaymentStatus != nil {
		o.PaymentStatus = *patch.PaymentStatus
	}
	if patch.DeliveryDate != nil {
		o.DeliveryDate = patch.DeliveryDate
	}
	if patch.Notes != nil {
		o.Notes = patch.Notes
	}
	if patch.DiscountType != nil {
		o.DiscountType = *patch.DiscountType
	}
	recompute := false
	if patch.DiscountAmount != nil {
		o.DiscountAmount = *patch.DiscountAmount
		recompute = true
	}
	if patch.DeliveryCost != nil {
		o.DeliveryCost = *patch.DeliveryCost
		recompute = true
	}
	if recompute {
		o.Total = o.Subtotal.Sub(o.DiscountAmount).Add(o.DeliveryCost)
	}
	o.UpdatedAt = now
}

func (s *service) ValidateOrder(ctx context.Context, id uuid.UUID, action Action, actorID string, params TransitionParams) (*Order, error) {
	current, err := s.orders.GetOrderByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			log.Warn().Err(err).Stringer("order_id", id).Stringer("action", action).Msg("service: order not found, cannot apply action")
			return nil, err
		}
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to get order for transition")
		return nil, fmt.Errorf("service: failed to get order for transition: %w", err)
	}

	change, err := planTransition(current, action, actorID, params, s.now())
	if err != nil {
		log.Warn().
			Err(err).
			Stringer("order_id", id).
			Stringer("current_status", current.Status).
			Stringer("action", action).
			Msg("service: invalid transition attempt")
		return nil, err
	}

	updated, err := s.orders.ApplyStatusChange(ctx, change)
	if err != nil {
		log.Warn().
			Err(err).
			Stringer("order_id", id).
			Stringer("action", action).
			Msg("service: failed to apply status change")
		return nil, fmt.Errorf("service: failed to %s order: %w", action, err)
	}

	log.Info().
		Stringer("order_id", id).
		Stringer("old_status", change.ExpectedStatus).
		Stringer("new_status", change.NewStatus).
		Int("stock_adjustments", len(change.Adjustments)).
		Msg("service: order status updated")
	return updated, nil
}

func (s *service) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	current, err := s.orders.GetOrderByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		return fmt.Errorf("service: failed to get order for deletion: %w", err)
	}

	restore, err := planDeletion(current)
	if err != nil {
		log.Warn().Err(err).Stringer("order_id", id).Stringer("status", current.Status).Msg("service: refused to delete order")
		return err
	}

	if err := s.orders.DeleteOrder(ctx, id, current.Status, restore); err != nil {
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to delete order in repository")
		return fmt.Errorf("service: failed to delete order: %w", err)
	}

	log.Info().Stringer("order_id", id).Str("order_number", current.OrderNumber).Msg("service: order deleted")
	return nil
}
