package order

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"

	"github.com/Bernabe-03/oplaisir/internal/catalog"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusValidated Status = "VALIDATED"
	StatusRejected  Status = "REJECTED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusDelivered Status = "DELIVERED"
)

func (s Status) String() string {
	return string(s)
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusValidated, StatusRejected, StatusCompleted, StatusCancelled, StatusDelivered:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "PENDING"
	PaymentPaid          PaymentStatus = "PAID"
	PaymentPartiallyPaid PaymentStatus = "PARTIALLY_PAID"
	PaymentFailed        PaymentStatus = "FAILED"
	PaymentRefunded      PaymentStatus = "REFUNDED"
)

func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentPending, PaymentPaid, PaymentPartiallyPaid, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "CASH"
	PaymentMobileMoney  PaymentMethod = "MOBILE_MONEY"
	PaymentCreditCard   PaymentMethod = "CREDIT_CARD"
	PaymentBankTransfer PaymentMethod = "BANK_TRANSFER"
)

func (p PaymentMethod) Valid() bool {
	switch p {
	case PaymentCash, PaymentMobileMoney, PaymentCreditCard, PaymentBankTransfer:
		return true
	}
	return false
}

type DiscountType string

const (
	DiscountFixed      DiscountType = "fixed"
	DiscountPercentage DiscountType = "percentage"
)

func (d DiscountType) Valid() bool {
	return d == DiscountFixed || d == DiscountPercentage
}

// Action is a verb accepted by the transition endpoint.
type Action string

const (
	ActionValidate Action = "validate"
	ActionReject   Action = "reject"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
	ActionShip     Action = "ship"
	ActionDeliver  Action = "deliver"
)

func (a Action) String() string {
	return string(a)
}

// History actions that are not transition verbs.
const (
	HistoryCreated = "created"
	HistoryUpdated = "updated"
)

type LineItem struct {
	ID          uuid.UUID       `json:"id"`
	OrderID     uuid.UUID       `json:"order_id"`
	Ref         catalog.Ref     `json:"ref"`
	Name        string          `json:"name"`
	SKU         string          `json:"sku,omitempty"`
	Description string          `json:"description,omitempty"`
	Images      []string        `json:"images"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	Metadata    map[string]any  `json:"metadata"`
	CreatedAt   time.Time       `json:"created_at"`
}

type HistoryEntry struct {
	ID          uuid.UUID      `json:"id"`
	OrderID     uuid.UUID      `json:"order_id"`
	Status      Status         `json:"status"`
	Action      string         `json:"action"`
	Description string         `json:"description"`
	ActorID     string         `json:"actor_id,omitempty"`
	Metadata    map[string]any `json:"metadata"`
	CreatedAt   time.Time      `json:"created_at"`
}

type Order struct {
	ID                 uuid.UUID       `json:"id"`
	OrderNumber        string          `json:"order_number"`
	CustomerName       string          `json:"customer_name"`
	CustomerPhone      string          `json:"customer_phone"`
	CustomerEmail      *string         `json:"customer_email,omitempty"`
	CustomerAddress    string          `json:"customer_address"`
	CustomerCommune    string          `json:"customer_commune"`
	DeliveryNotes      *string         `json:"delivery_notes,omitempty"`
	Items              []LineItem      `json:"items"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	DiscountAmount     decimal.Decimal `json:"discount_amount"`
	DiscountType       DiscountType    `json:"discount_type"`
	DiscountCode       *string         `json:"discount_code,omitempty"`
	DiscountLabel      *string         `json:"discount_label,omitempty"`
	DeliveryCost       decimal.Decimal `json:"delivery_cost"`
	Total              decimal.Decimal `json:"total"`
	PaymentMethod      PaymentMethod   `json:"payment_method"`
	Status             Status          `json:"status"`
	PaymentStatus      PaymentStatus   `json:"payment_status"`
	RequiresValidation bool            `json:"requires_validation"`
	ValidatedBy        *string         `json:"validated_by,omitempty"`
	ValidatedAt        *time.Time      `json:"validated_at,omitempty"`
	RejectionReason    *string         `json:"rejection_reason,omitempty"`
	DeliveryDate       *time.Time      `json:"delivery_date,omitempty"`
	EstimatedDelivery  *time.Time      `json:"estimated_delivery,omitempty"`
	Notes              *string         `json:"notes,omitempty"`
	UserID             *string         `json:"user_id,omitempty"`
	History            []HistoryEntry  `json:"history"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// ItemInput is an order line as the client declared it. ID is kept as text
// because clients sometimes send ids that only make sense after the
// normalizer re-resolves them.
type ItemInput struct {
	Kind        catalog.Kind
	ID          string
	Name        string
	SKU         string
	Description string
	Images      []string
	Quantity    int
	UnitPrice   decimal.Decimal
	TotalPrice  decimal.Decimal
	Metadata    map[string]any
}

type DiscountInput struct {
	Code   *string
	Label  *string
	Amount decimal.Decimal
	Type   DiscountType
}

type CreateOrderInput struct {
	CustomerName       string
	CustomerPhone      string
	CustomerEmail      *string
	CustomerAddress    string
	CustomerCommune    string
	DeliveryNotes      *string
	Items              []ItemInput
	Subtotal           *decimal.Decimal
	Discount           *DiscountInput
	DeliveryCost       decimal.Decimal
	Total              *decimal.Decimal
	PaymentMethod      PaymentMethod
	RequiresValidation *bool
	Notes              *string
}

// TransitionParams are the optional fields that travel with an action.
type TransitionParams struct {
	Reason            *string
	DeliveryDate      *time.Time
	EstimatedDelivery *time.Time
	PaidAmount        *decimal.Decimal
	PaymentReference  *string
	DeliveryPerson    *string
	TrackingNumber    *string
}

// UpdatePatch holds the non-status fields an operator may change. Nil means
// untouched.
type UpdatePatch struct {
	PaymentStatus  *PaymentStatus
	DeliveryDate   *time.Time
	Notes          *string
	DiscountAmount *decimal.Decimal
	DiscountType   *DiscountType
	DeliveryCost   *decimal.Decimal
}

func (p UpdatePatch) Empty() bool {
	return p.PaymentStatus == nil && p.DeliveryDate == nil && p.Notes == nil &&
		p.DiscountAmount == nil && p.DiscountType == nil && p.DeliveryCost == nil
}

// Metadata renders the patch for the audit trail, only listing set fields.
func (p UpdatePatch) Metadata() map[string]any {
	m := make(map[string]any)
	if p.PaymentStatus != nil {
		m["paymentStatus"] = string(*p.PaymentStatus)
	}
	if p.DeliveryDate != nil {
		m["deliveryDate"] = p.DeliveryDate.UTC().Format(time.RFC3339)
	}
	if p.Notes != nil {
		m["notes"] = *p.Notes
	}
	if p.DiscountAmount != nil {
		m["discountAmount"] = p.DiscountAmount.String()
	}
	if p.DiscountType != nil {
		m["discountType"] = string(*p.DiscountType)
	}
	if p.DeliveryCost != nil {
		m["deliveryCost"] = p.DeliveryCost.String()
	}
	return m
}

// StatusChange is what the repository needs to apply one transition
// atomically. Apply mutates the freshly locked order; the repository then
// persists it together with Adjustments, History and an
// order.status.changed event.
type StatusChange struct {
	OrderID        uuid.UUID
	ExpectedStatus Status
	NewStatus      Status
	Adjustments    []catalog.Adjustment
	Apply          func(o *Order)
	History        HistoryEntry
}

type ListFilter struct {
	Status *Status
	Page   int
	Limit  int
}

type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

type Page struct {
	Orders     []Order    `json:"orders"`
	Pagination Pagination `json:"pagination"`
}

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status.changed"
)

type StatusChangedEvent struct {
	Order     *Order `json:"order"`
	OldStatus Status `json:"old_status"`
	NewStatus Status `json:"new_status"`
	ActorID   string `json:"actor_id,omitempty"`
}
