package order

import (
	"context"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Bernabe-03/oplaisir/internal/catalog"
)

// ClassificationRule looks at a client-declared line and may decide its
// kind. Rules are pure; they never touch the catalog.
type ClassificationRule struct {
	Name   string
	Decide func(item ItemInput) (catalog.Kind, bool)
}

// ClassificationRules run in this order and the last rule that fires wins.
var ClassificationRules = []ClassificationRule{
	{
		Name: "sku-support-prefix",
		Decide: func(item ItemInput) (catalog.Kind, bool) {
			return catalog.KindSupport, hasSupportPrefix(item.SKU)
		},
	},
	{
		Name: "sku-coffret-prefix",
		Decide: func(item ItemInput) (catalog.Kind, bool) {
			return catalog.KindCoffret, strings.HasPrefix(item.SKU, "COF-")
		},
	},
	{
		Name: "name-support",
		Decide: func(item ItemInput) (catalog.Kind, bool) {
			fires := item.Kind == catalog.KindProduct &&
				strings.Contains(strings.ToLower(item.Name), "support")
			return catalog.KindSupport, fires
		},
	},
	{
		Name: "metadata-support",
		Decide: func(item ItemInput) (catalog.Kind, bool) {
			t, _ := item.Metadata["type"].(string)
			return catalog.KindSupport, t == "boite" || t == "support"
		},
	},
}

func hasSupportPrefix(sku string) bool {
	return strings.HasPrefix(sku, "SUP-") || strings.HasPrefix(sku, "SUPP-")
}

// Classification is the outcome of running every rule on one item.
type Classification struct {
	Kind      catalog.Kind
	Fired     []string
	Ambiguous bool
}

// Classify runs the rules against item. With no rule firing the declared
// kind is kept. Ambiguous is set when fired rules disagree on the kind.
func Classify(item ItemInput) Classification {
	c := Classification{Kind: item.Kind}
	var first catalog.Kind
	for _, rule := range ClassificationRules {
		kind, ok := rule.Decide(item)
		if !ok {
			continue
		}
		if len(c.Fired) == 0 {
			first = kind
		} else if kind != first {
			c.Ambiguous = true
		}
		c.Fired = append(c.Fired, rule.Name)
		c.Kind = kind
	}
	return c
}

type NormalizedItem struct {
	ItemInput
	Fired     []string
	Ambiguous bool
}

// Normalizer corrects declared item kinds before stock is checked.
type Normalizer struct {
	catalog catalog.Store
}

func NewNormalizer(store catalog.Store) *Normalizer {
	return &Normalizer{catalog: store}
}

// Normalize never fails: the output has the input's length and order, and
// catalog lookup errors only leave the declared id in place.
func (n *Normalizer) Normalize(ctx context.Context, items []ItemInput) []NormalizedItem {
	out := make([]NormalizedItem, 0, len(items))
	for i, item := range items {
		c := Classify(item)
		normalized := NormalizedItem{ItemInput: item, Fired: c.Fired, Ambiguous: c.Ambiguous}
		normalized.Kind = c.Kind

		if hasSupportPrefix(item.SKU) {
			normalized.ID = n.resolveSupportID(ctx, item)
		}

		if c.Ambiguous {
			log.Warn().
				Int("item_index", i).
				Str("sku", item.SKU).
				Str("name", item.Name).
				Str("declared_kind", item.Kind.String()).
				Str("resolved_kind", c.Kind.String()).
				Strs("rules", c.Fired).
				Msg("normalizer: conflicting classification rules, last one wins")
		} else if c.Kind != item.Kind {
			log.Debug().
				Int("item_index", i).
				Str("sku", item.SKU).
				Str("declared_kind", item.Kind.String()).
				Str("resolved_kind", c.Kind.String()).
				Msg("normalizer: item kind corrected")
		}

		out = append(out, normalized)
	}
	return out
}

func (n *Normalizer) resolveSupportID(ctx context.Context, item ItemInput) string {
	if id, err := uuid.FromString(item.ID); err == nil {
		support, err := n.catalog.FindByID(ctx, catalog.SupportRef(id))
		if err == nil {
			return support.Ref.ID.String()
		}
		log.Debug().Err(err).Str("item_id", item.ID).Msg("normalizer: support lookup by id failed")
	}

	support, err := n.catalog.FindBySKU(ctx, catalog.KindSupport, item.SKU)
	if err == nil {
		return support.Ref.ID.String()
	}
	log.Debug().Err(err).Str("sku", item.SKU).Msg("normalizer: support lookup by sku failed")

	return item.ID
}
