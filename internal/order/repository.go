package order

import (
	"context"
	"errors"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/Bernabe-03/oplaisir/internal/apperr"
	"github.com/Bernabe-03/oplaisir/internal/catalog"
	"github.com/Bernabe-03/oplaisir/internal/outbox"
)

// OrderUpdate changes non-status fields of one order. Apply runs on the
// locked row; History.Status is filled with the order's current status.
type OrderUpdate struct {
	OrderID uuid.UUID
	Apply   func(o *Order)
	History HistoryEntry
}

type Repository interface {
	// CreateOrder reserves the order number and persists the order, its
	// items, its first history entry and an order.created event at once.
	CreateOrder(ctx context.Context, o *Order) error
	ApplyStatusChange(ctx context.Context, change StatusChange) (*Order, error)
	UpdateOrder(ctx context.Context, update OrderUpdate) (*Order, error)
	DeleteOrder(ctx context.Context, id uuid.UUID, expected Status, restore []catalog.Adjustment) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*Order, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]Order, int, error)
	ListPendingValidation(ctx context.Context) ([]Order, error)
	ListByCustomerPhone(ctx context.Context, phone string) ([]Order, error)
	CountPendingValidation(ctx context.Context) (int, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

// inTx runs fn in a transaction, committing when it returns nil.
func (r *postgresRepository) inTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return apperr.Persistence(err, "repository: failed to begin transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic_value", p).Str("op", op).Msg("repository: panic recovered, rolling back")
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Str("op", op).Msg("repository: failed to rollback transaction after panic")
			}
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Str("op", op).Msg("repository: failed to rollback transaction")
			}
		} else if commitErr := tx.Commit(ctx); commitErr != nil {
			log.Error().Err(commitErr).Str("op", op).Msg("repository: failed to commit transaction")
			err = apperr.Persistence(commitErr, "repository: failed to commit %s", op)
		}
	}()
	return fn(tx)
}

func (r *postgresRepository) CreateOrder(ctx context.Context, o *Order) error {
	if o.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return apperr.Persistence(err, "repository: failed to generate order id")
		}
		o.ID = id
	}

	return r.inTx(ctx, "create order", func(tx pgx.Tx) error {
		var seq int
		err := tx.QueryRow(ctx, `
			INSERT INTO order_counters (day, value) VALUES ($1, 1)
			ON CONFLICT (day) DO UPDATE SET value = order_counters.value + 1
			RETURNING value
		`, counterDay(o.CreatedAt)).Scan(&seq)
		if err != nil {
			return apperr.Persistence(err, "repository: failed to reserve order number")
		}
		o.OrderNumber = FormatOrderNumber(o.CreatedAt, seq)

		if err := insertOrder(ctx, tx, o); err != nil {
			return err
		}

		for i := range o.Items {
			item := &o.Items[i]
			itemID, err := uuid.NewV4()
			if err != nil {
				return apperr.Persistence(err, "repository: failed to generate order item id")
			}
			item.ID = itemID
			item.OrderID = o.ID
			if err := insertItem(ctx, tx, item); err != nil {
				return err
			}
		}

		for i := range o.History {
			o.History[i].OrderID = o.ID
			if err := insertHistory(ctx, tx, &o.History[i]); err != nil {
				return err
			}
		}

		msg, err := outbox.NewMessage(EventOrderCreated, o.ID.String(), o, o.CreatedAt)
		if err != nil {
			return apperr.Persistence(err, "repository: failed to build order.created event")
		}
		if err := outbox.Enqueue(ctx, tx, msg); err != nil {
			return apperr.Persistence(err, "repository: failed to enqueue order.created")
		}
		return nil
	})
}

func insertOrder(ctx context.Context, tx pgx.Tx, o *Order) error {
	query := `
		INSERT INTO orders (id, order_number, customer_name, customer_phone, customer_email,
			customer_address, customer_commune, delivery_notes, subtotal, discount_amount,
			discount_type, discount_code, discount_label, delivery_cost, total, payment_method,
			status, payment_status, requires_validation, notes, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
	`
	_, err := tx.Exec(ctx, query,
		o.ID,
		o.OrderNumber,
		o.CustomerName,
		o.CustomerPhone,
		o.CustomerEmail,
		o.CustomerAddress,
		o.CustomerCommune,
		o.DeliveryNotes,
		o.Subtotal,
		o.DiscountAmount,
		string(o.DiscountType),
		o.DiscountCode,
		o.DiscountLabel,
		o.DeliveryCost,
		o.Total,
		string(o.PaymentMethod),
		string(o.Status),
		string(o.PaymentStatus),
		o.RequiresValidation,
		o.Notes,
		o.UserID,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return apperr.Conflict("order number %s is already taken", o.OrderNumber)
		}
		return apperr.Persistence(err, "repository: failed to insert order")
	}
	return nil
}

// itemColumns splits a ref into the three nullable foreign keys.
func itemColumns(ref catalog.Ref) (product, coffret, support uuid.NullUUID) {
	id := uuid.NullUUID{UUID: ref.ID, Valid: true}
	switch ref.Kind {
	case catalog.KindProduct:
		product = id
	case catalog.KindCoffret:
		coffret = id
	case catalog.KindSupport:
		support = id
	}
	return product, coffret, support
}

func insertItem(ctx context.Context, tx pgx.Tx, item *LineItem) error {
	product, coffret, support := itemColumns(item.Ref)
	query := `
		INSERT INTO order_items (id, order_id, item_type, product_id, coffret_id, support_id, name, sku,
			description, images, quantity, unit_price, total_price, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := tx.Exec(ctx, query,
		item.ID,
		item.OrderID,
		string(item.Ref.Kind),
		product,
		coffret,
		support,
		item.Name,
		item.SKU,
		item.Description,
		item.Images,
		item.Quantity,
		item.UnitPrice,
		item.TotalPrice,
		item.Metadata,
		item.CreatedAt,
	)
	if err != nil {
		return apperr.Persistence(err, "repository: failed to insert order item %s", item.Name)
	}
	return nil
}

func insertHistory(ctx context.Context, tx pgx.Tx, h *HistoryEntry) error {
	if h.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return apperr.Persistence(err, "repository: failed to generate history id")
		}
		h.ID = id
	}
	if h.Metadata == nil {
		h.Metadata = map[string]any{}
	}
	query := `
		INSERT INTO order_history (id, order_id, status, action, description, actor_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
	`
	_, err := tx.Exec(ctx, query,
		h.ID,
		h.OrderID,
		string(h.Status),
		h.Action,
		h.Description,
		h.ActorID,
		h.Metadata,
		h.CreatedAt,
	)
	if err != nil {
		return apperr.Persistence(err, "repository: failed to insert history entry")
	}
	return nil
}

func writeOrder(ctx context.Context, tx pgx.Tx, o *Order) error {
	query := `
		UPDATE orders SET
			status = $2, payment_status = $3, validated_by = $4, validated_at = $5,
			rejection_reason = $6, delivery_date = $7, estimated_delivery = $8, notes = $9,
			discount_amount = $10, discount_type = $11, delivery_cost = $12, total = $13, updated_at = $14
		WHERE id = $1
	`
	_, err := tx.Exec(ctx, query,
		o.ID,
		string(o.Status),
		string(o.PaymentStatus),
		o.ValidatedBy,
		o.ValidatedAt,
		o.RejectionReason,
		o.DeliveryDate,
		o.EstimatedDelivery,
		o.Notes,
		o.DiscountAmount,
		string(o.DiscountType),
		o.DeliveryCost,
		o.Total,
		o.UpdatedAt,
	)
	if err != nil {
		return apperr.Persistence(err, "repository: failed to update order %s", o.ID)
	}
	return nil
}

// lockOrder takes the row lock and loads the order as seen inside tx.
func lockOrder(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Order, error) {
	var status Status
	err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("order %s not found", id)
		}
		return nil, apperr.Persistence(err, "repository: failed to lock order %s", id)
	}
	return loadOrder(ctx, tx, `o.id = $1`, id)
}

func (r *postgresRepository) ApplyStatusChange(ctx context.Context, change StatusChange) (*Order, error) {
	var updated *Order
	err := r.inTx(ctx, "status change", func(tx pgx.Tx) error {
		o, err := lockOrder(ctx, tx, change.OrderID)
		if err != nil {
			return err
		}
		if o.Status != change.ExpectedStatus {
			return apperr.Conflict("order %s moved from %s to %s concurrently", o.OrderNumber, change.ExpectedStatus, o.Status)
		}

		if err := catalog.ApplyAdjustments(ctx, tx, change.Adjustments); err != nil {
			return err
		}

		change.Apply(o)
		if err := writeOrder(ctx, tx, o); err != nil {
			return err
		}

		history := change.History
		history.OrderID = o.ID
		if err := insertHistory(ctx, tx, &history); err != nil {
			return err
		}
		o.History = append([]HistoryEntry{history}, o.History...)

		event := StatusChangedEvent{
			Order:     o,
			OldStatus: change.ExpectedStatus,
			NewStatus: o.Status,
			ActorID:   history.ActorID,
		}
		msg, err := outbox.NewMessage(EventOrderStatusChanged, o.ID.String(), event, history.CreatedAt)
		if err != nil {
			return apperr.Persistence(err, "repository: failed to build order.status.changed event")
		}
		if err := outbox.Enqueue(ctx, tx, msg); err != nil {
			return apperr.Persistence(err, "repository: failed to enqueue order.status.changed")
		}

		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *postgresRepository) UpdateOrder(ctx context.Context, update OrderUpdate) (*Order, error) {
	var updated *Order
	err := r.inTx(ctx, "update order", func(tx pgx.Tx) error {
		o, err := lockOrder(ctx, tx, update.OrderID)
		if err != nil {
			return err
		}

		update.Apply(o)
		if err := writeOrder(ctx, tx, o); err != nil {
			return err
		}

		history := update.History
		history.OrderID = o.ID
		history.Status = o.Status
		if err := insertHistory(ctx, tx, &history); err != nil {
			return err
		}
		o.History = append([]HistoryEntry{history}, o.History...)

		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *postgresRepository) DeleteOrder(ctx context.Context, id uuid.UUID, expected Status, restore []catalog.Adjustment) error {
	return r.inTx(ctx, "delete order", func(tx pgx.Tx) error {
		var status Status
		err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.NotFound("order %s not found", id)
			}
			return apperr.Persistence(err, "repository: failed to lock order %s", id)
		}
		if status != expected {
			return apperr.Conflict("order %s moved from %s to %s concurrently", id, expected, status)
		}

		if err := catalog.ApplyAdjustments(ctx, tx, restore); err != nil {
			return err
		}

		// Items and history go with the order through ON DELETE CASCADE.
		if _, err := tx.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id); err != nil {
			return apperr.Persistence(err, "repository: failed to delete order %s", id)
		}
		return nil
	})
}

const orderColumns = `
	o.id, o.order_number, o.customer_name, o.customer_phone, o.customer_email, o.customer_address,
	o.customer_commune, o.delivery_notes, o.subtotal, o.discount_amount, o.discount_type,
	o.discount_code, o.discount_label, o.delivery_cost, o.total, o.payment_method, o.status,
	o.payment_status, o.requires_validation, o.validated_by, o.validated_at, o.rejection_reason,
	o.delivery_date, o.estimated_delivery, o.notes, o.user_id, o.created_at, o.updated_at
`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.CustomerName,
		&o.CustomerPhone,
		&o.CustomerEmail,
		&o.CustomerAddress,
		&o.CustomerCommune,
		&o.DeliveryNotes,
		&o.Subtotal,
		&o.DiscountAmount,
		&o.DiscountType,
		&o.DiscountCode,
		&o.DiscountLabel,
		&o.DeliveryCost,
		&o.Total,
		&o.PaymentMethod,
		&o.Status,
		&o.PaymentStatus,
		&o.RequiresValidation,
		&o.ValidatedBy,
		&o.ValidatedAt,
		&o.RejectionReason,
		&o.DeliveryDate,
		&o.EstimatedDelivery,
		&o.Notes,
		&o.UserID,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	return o, err
}

func loadOrder(ctx context.Context, q catalog.Querier, where string, arg any) (*Order, error) {
	o, err := scanOrder(q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders o WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("order not found")
		}
		return nil, apperr.Persistence(err, "repository: failed to select order")
	}
	orders := []Order{o}
	if err := attachChildren(ctx, q, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// queryOrders runs a list query and attaches items and history in two batch
// queries.
func queryOrders(ctx context.Context, q catalog.Querier, query string, args ...any) ([]Order, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Persistence(err, "repository: failed to query orders")
	}
	defer rows.Close()

	orders := make([]Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, apperr.Persistence(err, "repository: failed to scan order")
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence(err, "repository: failed iterating orders")
	}
	rows.Close()

	if err := attachChildren(ctx, q, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func attachChildren(ctx context.Context, q catalog.Querier, orders []Order) error {
	if len(orders) == 0 {
		return nil
	}
	index := make(map[uuid.UUID]*Order, len(orders))
	ids := make([]uuid.UUID, 0, len(orders))
	for i := range orders {
		orders[i].Items = make([]LineItem, 0)
		orders[i].History = make([]HistoryEntry, 0)
		index[orders[i].ID] = &orders[i]
		ids = append(ids, orders[i].ID)
	}

	itemRows, err := q.Query(ctx, `
		SELECT id, order_id, item_type, COALESCE(product_id, coffret_id, support_id), name, sku,
			description, images, quantity, unit_price, total_price, metadata, created_at
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY created_at, id
	`, ids)
	if err != nil {
		return apperr.Persistence(err, "repository: failed to query order items")
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var (
			item LineItem
			kind string
		)
		err := itemRows.Scan(
			&item.ID,
			&item.OrderID,
			&kind,
			&item.Ref.ID,
			&item.Name,
			&item.SKU,
			&item.Description,
			&item.Images,
			&item.Quantity,
			&item.UnitPrice,
			&item.TotalPrice,
			&item.Metadata,
			&item.CreatedAt,
		)
		if err != nil {
			return apperr.Persistence(err, "repository: failed to scan order item")
		}
		item.Ref.Kind = catalog.Kind(kind)
		if o, ok := index[item.OrderID]; ok {
			o.Items = append(o.Items, item)
		}
	}
	if err := itemRows.Err(); err != nil {
		return apperr.Persistence(err, "repository: failed iterating order items")
	}
	itemRows.Close()

	historyRows, err := q.Query(ctx, `
		SELECT id, order_id, status, action, description, COALESCE(actor_id, ''), metadata, created_at
		FROM order_history
		WHERE order_id = ANY($1)
		ORDER BY created_at DESC, id
	`, ids)
	if err != nil {
		return apperr.Persistence(err, "repository: failed to query order history")
	}
	defer historyRows.Close()

	for historyRows.Next() {
		var h HistoryEntry
		err := historyRows.Scan(
			&h.ID,
			&h.OrderID,
			&h.Status,
			&h.Action,
			&h.Description,
			&h.ActorID,
			&h.Metadata,
			&h.CreatedAt,
		)
		if err != nil {
			return apperr.Persistence(err, "repository: failed to scan history entry")
		}
		if o, ok := index[h.OrderID]; ok {
			o.History = append(o.History, h)
		}
	}
	if err := historyRows.Err(); err != nil {
		return apperr.Persistence(err, "repository: failed iterating history")
	}
	return nil
}

func (r *postgresRepository) GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := loadOrder(ctx, r.db, `o.id = $1`, id)
	if err != nil && errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.NotFound("order %s not found", id)
	}
	return o, err
}

func (r *postgresRepository) GetOrderByNumber(ctx context.Context, orderNumber string) (*Order, error) {
	o, err := loadOrder(ctx, r.db, `o.order_number = $1`, orderNumber)
	if err != nil && errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.NotFound("order %s not found", orderNumber)
	}
	return o, err
}

func (r *postgresRepository) ListOrders(ctx context.Context, filter ListFilter) ([]Order, int, error) {
	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}

	var total int
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM orders WHERE $1::text IS NULL OR status = $1`, status).Scan(&total)
	if err != nil {
		return nil, 0, apperr.Persistence(err, "repository: failed to count orders")
	}

	orders, err := queryOrders(ctx, r.db, `
		SELECT `+orderColumns+` FROM orders o
		WHERE $1::text IS NULL OR o.status = $1
		ORDER BY o.created_at DESC
		LIMIT $2 OFFSET $3
	`, status, filter.Limit, (filter.Page-1)*filter.Limit)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (r *postgresRepository) ListPendingValidation(ctx context.Context) ([]Order, error) {
	return queryOrders(ctx, r.db, `
		SELECT `+orderColumns+` FROM orders o
		WHERE o.status = $1 AND o.requires_validation
		ORDER BY o.created_at ASC
	`, string(StatusPending))
}

func (r *postgresRepository) ListByCustomerPhone(ctx context.Context, phone string) ([]Order, error) {
	return queryOrders(ctx, r.db, `
		SELECT `+orderColumns+` FROM orders o
		WHERE o.customer_phone = $1
		ORDER BY o.created_at DESC
	`, phone)
}

func (r *postgresRepository) CountPendingValidation(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM orders WHERE status = $1 AND requires_validation`,
		string(StatusPending),
	).Scan(&count)
	if err != nil {
		return 0, apperr.Persistence(err, "repository: failed to count pending orders")
	}
	return count, nil
}
