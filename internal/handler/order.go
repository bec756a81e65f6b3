package handler

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/Bernabe-03/oplaisir/internal/apperr"
	"github.com/Bernabe-03/oplaisir/internal/catalog"
	"github.com/Bernabe-03/oplaisir/internal/order"
)

// ActorHeader carries the id of the authenticated caller, set by the gateway.
const ActorHeader = "X-User-ID"

type ItemRequest struct {
	Type        string          `json:"type" validate:"required"`
	ID          string          `json:"id"`
	Name        string          `json:"name" validate:"required"`
	SKU         string          `json:"sku"`
	Description string          `json:"description"`
	Images      []string        `json:"images"`
	Quantity    int             `json:"quantity" validate:"required,gt=0"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	Metadata    map[string]any  `json:"metadata"`
}

type DiscountRequest struct {
	Code   *string         `json:"code,omitempty"`
	Label  *string         `json:"label,omitempty"`
	Amount decimal.Decimal `json:"amount"`
	Type   string          `json:"type" validate:"omitempty,oneof=fixed percentage"`
}

type CreateOrderRequest struct {
	CustomerName       string           `json:"customer_name" validate:"required"`
	CustomerPhone      string           `json:"customer_phone" validate:"required"`
	CustomerEmail      *string          `json:"customer_email,omitempty" validate:"omitempty,email"`
	CustomerAddress    string           `json:"customer_address" validate:"required"`
	CustomerCommune    string           `json:"customer_commune" validate:"required"`
	DeliveryNotes      *string          `json:"delivery_notes,omitempty"`
	Items              []ItemRequest    `json:"items" validate:"required,min=1,dive"`
	Subtotal           *decimal.Decimal `json:"subtotal,omitempty"`
	Discount           *DiscountRequest `json:"discount,omitempty"`
	DeliveryCost       decimal.Decimal  `json:"delivery_cost"`
	Total              *decimal.Decimal `json:"total,omitempty"`
	PaymentMethod      string           `json:"payment_method" validate:"required,oneof=CASH MOBILE_MONEY CREDIT_CARD BANK_TRANSFER"`
	RequiresValidation *bool            `json:"requires_validation,omitempty"`
	Notes              *string          `json:"notes,omitempty"`
}

// ValidateOrderRequest drives every status transition. Action is checked by
// the order package so unknown verbs come back as INVALID_ACTION.
type ValidateOrderRequest struct {
	Action            string           `json:"action" validate:"required"`
	Reason            *string          `json:"reason,omitempty"`
	DeliveryDate      *time.Time       `json:"delivery_date,omitempty"`
	EstimatedDelivery *time.Time       `json:"estimated_delivery,omitempty"`
	PaidAmount        *decimal.Decimal `json:"paid_amount,omitempty"`
	PaymentReference  *string          `json:"payment_reference,omitempty"`
	DeliveryPerson    *string          `json:"delivery_person,omitempty"`
	TrackingNumber    *string          `json:"tracking_number,omitempty"`
}

type UpdateOrderRequest struct {
	PaymentStatus  *string          `json:"payment_status,omitempty" validate:"omitempty,oneof=PENDING PAID PARTIALLY_PAID FAILED REFUNDED"`
	DeliveryDate   *time.Time       `json:"delivery_date,omitempty"`
	Notes          *string          `json:"notes,omitempty"`
	DiscountAmount *decimal.Decimal `json:"discount_amount,omitempty"`
	DiscountType   *string          `json:"discount_type,omitempty" validate:"omitempty,oneof=fixed percentage"`
	DeliveryCost   *decimal.Decimal `json:"delivery_cost,omitempty"`
}

type PendingCountResponse struct {
	Count int `json:"count"`
}

type OrderHandler struct {
	service  order.Service
	validate *validator.Validate
}

func newValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return validate
}

func NewOrderHandler(service order.Service) *OrderHandler {
	return &OrderHandler{
		service:  service,
		validate: newValidator(),
	}
}

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Post("/orders", h.handleCreateOrder)
	router.Get("/orders", h.handleListOrders)
	router.Get("/orders/pending", h.handleListPendingOrders)
	router.Get("/orders/pending-count", h.handlePendingCount)
	router.Get("/orders/customer/{phone}", h.handleListCustomerOrders)
	router.Get("/orders/number/{orderNumber}", h.handleGetOrderByNumber)
	router.Get("/orders/{id}", h.handleGetOrderByID)
	router.Patch("/orders/{id}", h.handleUpdateOrder)
	router.Post("/orders/{id}/validate", h.handleValidateOrder)
	router.Delete("/orders/{id}", h.handleDeleteOrder)
}

// decodeAndValidate writes the error response itself and reports whether the
// handler may go on.
func (h *OrderHandler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		log.Warn().Err(err).Msg("Failed to decode request body")
		respondWithError(w, http.StatusBadRequest, apperr.CodeInvalidInput, "Invalid request payload")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		respondValidation(w, err)
		return false
	}
	return true
}

func parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, name)
	id, err := uuid.FromString(raw)
	if err != nil {
		log.Warn().Err(err).Str(name, raw).Msg("Failed to parse uuid parameter from URL")
		respondWithError(w, http.StatusBadRequest, apperr.CodeInvalidInput, "Invalid "+name+" parameter")
		return uuid.Nil, false
	}
	return id, true
}

func actorID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(ActorHeader))
}

func (req CreateOrderRequest) toInput() (order.CreateOrderInput, error) {
	input := order.CreateOrderInput{
		CustomerName:       req.CustomerName,
		CustomerPhone:      req.CustomerPhone,
		CustomerEmail:      req.CustomerEmail,
		CustomerAddress:    req.CustomerAddress,
		CustomerCommune:    req.CustomerCommune,
		DeliveryNotes:      req.DeliveryNotes,
		Subtotal:           req.Subtotal,
		DeliveryCost:       req.DeliveryCost,
		Total:              req.Total,
		PaymentMethod:      order.PaymentMethod(req.PaymentMethod),
		RequiresValidation: req.RequiresValidation,
		Notes:              req.Notes,
		Items:              make([]order.ItemInput, 0, len(req.Items)),
	}
	if d := req.Discount; d != nil {
		input.Discount = &order.DiscountInput{
			Code:   d.Code,
			Label:  d.Label,
			Amount: d.Amount,
			Type:   order.DiscountType(d.Type),
		}
	}
	for i, item := range req.Items {
		kind, err := catalog.ParseKind(item.Type)
		if err != nil {
			return order.CreateOrderInput{}, apperr.InvalidInput("items[%d].type: %s", i, apperr.MessageOf(err))
		}
		input.Items = append(input.Items, order.ItemInput{
			Kind:        kind,
			ID:          item.ID,
			Name:        item.Name,
			SKU:         item.SKU,
			Description: item.Description,
			Images:      item.Images,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			TotalPrice:  item.TotalPrice,
			Metadata:    item.Metadata,
		})
	}
	return input, nil
}

func (h *OrderHandler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var requestPayload CreateOrderRequest
	if !h.decodeAndValidate(w, r, &requestPayload) {
		return
	}

	input, err := requestPayload.toInput()
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	created, err := h.service.CreateOrder(r.Context(), input, actorID(r))
	if err != nil {
		log.Error().Err(err).Msg("Failed to create order via service")
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, created)
}

func (h *OrderHandler) handleGetOrderByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	found, err := h.service.GetOrderByID(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get order by id via service")
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, found)
}

func (h *OrderHandler) handleGetOrderByNumber(w http.ResponseWriter, r *http.Request) {
	orderNumber := chi.URLParam(r, "orderNumber")
	if orderNumber == "" {
		respondWithError(w, http.StatusBadRequest, apperr.CodeInvalidInput, "Order number cannot be empty")
		return
	}

	found, err := h.service.GetOrderByNumber(r.Context(), orderNumber)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get order by number via service")
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, found)
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.InvalidInput("%s must be a positive integer", key)
	}
	return n, nil
}

func (h *OrderHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	var filter order.ListFilter
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := order.Status(strings.ToUpper(raw))
		filter.Status = &status
	}
	var err error
	if filter.Page, err = queryInt(r, "page"); err != nil {
		respondWithAppError(w, err)
		return
	}
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		respondWithAppError(w, err)
		return
	}

	page, err := h.service.ListOrders(r.Context(), filter)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list orders via service")
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, page)
}

func (h *OrderHandler) handleListPendingOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListPendingOrders(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list pending orders via service")
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) handlePendingCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.PendingCount(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to count pending orders via service")
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, PendingCountResponse{Count: count})
}

func (h *OrderHandler) handleListCustomerOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListCustomerOrders(r.Context(), chi.URLParam(r, "phone"))
	if err != nil {
		log.Error().Err(err).Msg("Failed to list customer orders via service")
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) handleUpdateOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	var requestPayload UpdateOrderRequest
	if !h.decodeAndValidate(w, r, &requestPayload) {
		return
	}

	patch := order.UpdatePatch{
		DeliveryDate:   requestPayload.DeliveryDate,
		Notes:          requestPayload.Notes,
		DiscountAmount: requestPayload.DiscountAmount,
		DeliveryCost:   requestPayload.DeliveryCost,
	}
	if requestPayload.PaymentStatus != nil {
		ps := order.PaymentStatus(*requestPayload.PaymentStatus)
		patch.PaymentStatus = &ps
	}
	if requestPayload.DiscountType != nil {
		dt := order.DiscountType(*requestPayload.DiscountType)
		patch.DiscountType = &dt
	}

	updated, err := h.service.UpdateOrder(r.Context(), id, patch, actorID(r))
	if err != nil {
		log.Error().Err(err).Msg("Failed to update order via service")
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, updated)
}

func (h *OrderHandler) handleValidateOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	var requestPayload ValidateOrderRequest
	if !h.decodeAndValidate(w, r, &requestPayload) {
		return
	}

	action, err := order.ParseAction(requestPayload.Action)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	params := order.TransitionParams{
		Reason:            requestPayload.Reason,
		DeliveryDate:      requestPayload.DeliveryDate,
		EstimatedDelivery: requestPayload.EstimatedDelivery,
		PaidAmount:        requestPayload.PaidAmount,
		PaymentReference:  requestPayload.PaymentReference,
		DeliveryPerson:    requestPayload.DeliveryPerson,
		TrackingNumber:    requestPayload.TrackingNumber,
	}

	updated, err := h.service.ValidateOrder(r.Context(), id, action, actorID(r), params)
	if err != nil {
		log.Error().Err(err).Stringer("action", action).Msg("Failed to apply order action via service")
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, updated)
}

func (h *OrderHandler) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.DeleteOrder(r.Context(), id); err != nil {
		log.Error().Err(err).Msg("Failed to delete order via service")
		respondWithAppError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
