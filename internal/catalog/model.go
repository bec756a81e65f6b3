package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"

	"github.com/Bernabe-03/oplaisir/internal/apperr"
)

// Kind tags which catalog table an item lives in.
type Kind string

const (
	KindProduct Kind = "product"
	KindCoffret Kind = "coffret"
	KindSupport Kind = "support"
)

func (k Kind) String() string {
	return string(k)
}

func (k Kind) Valid() bool {
	switch k {
	case KindProduct, KindCoffret, KindSupport:
		return true
	}
	return false
}

// ParseKind accepts the kind in any case and with surrounding spaces.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", apperr.InvalidInput("unknown item type %q", s)
	}
	return k, nil
}

// Ref points at one catalog record: Product(id) | Coffret(id) | Support(id).
type Ref struct {
	Kind Kind      `json:"type"`
	ID   uuid.UUID `json:"id"`
}

func ProductRef(id uuid.UUID) Ref { return Ref{Kind: KindProduct, ID: id} }
func CoffretRef(id uuid.UUID) Ref { return Ref{Kind: KindCoffret, ID: id} }
func SupportRef(id uuid.UUID) Ref { return Ref{Kind: KindSupport, ID: id} }

func (r Ref) String() string {
	return fmt.Sprintf("%s/%s", r.Kind, r.ID)
}

// LegacyUntrackedStock is the value older rows used in the stock column to
// mean "not stock-tracked". It is still written for untracked supports so
// existing reports keep their numbers, but nothing reads it back.
const LegacyUntrackedStock = 999

// Stock is either Tracked(quantity) or Untracked.
type Stock struct {
	tracked  bool
	quantity int
}

func Tracked(quantity int) Stock {
	return Stock{tracked: true, quantity: quantity}
}

func Untracked() Stock {
	return Stock{}
}

func (s Stock) IsTracked() bool { return s.tracked }

// Quantity is the available count of a tracked stock, zero when untracked.
func (s Stock) Quantity() int { return s.quantity }

// Covers reports whether qty units can be taken. Untracked stock always can.
func (s Stock) Covers(qty int) bool {
	return !s.tracked || s.quantity >= qty
}

func (s Stock) String() string {
	if !s.tracked {
		return "untracked"
	}
	return fmt.Sprintf("%d", s.quantity)
}

// Item is the shared shape of products, coffrets and supports as far as the
// order engine cares.
type Item struct {
	Ref           Ref             `json:"ref"`
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	Stock         Stock           `json:"-"`
	MinStock      int             `json:"min_stock"`
	MaxStock      int             `json:"max_stock"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// PlaceholderSupport carries what an order line knows about a support that is
// missing from the catalog.
type PlaceholderSupport struct {
	Name             string
	SKU              string
	Description      string
	Type             string
	Material         string
	Capacity         int
	Theme            string
	CompatibleThemes []string
	SellingPrice     decimal.Decimal
}

// Adjustment moves the stock of one item by Delta units. Negative deltas
// take stock, positive ones give it back.
type Adjustment struct {
	Ref   Ref
	Delta int
}

// Decrement builds the adjustment taking qty units of ref.
func Decrement(ref Ref, qty int) Adjustment {
	return Adjustment{Ref: ref, Delta: -qty}
}

// Increment builds the adjustment returning qty units of ref.
func Increment(ref Ref, qty int) Adjustment {
	return Adjustment{Ref: ref, Delta: qty}
}
