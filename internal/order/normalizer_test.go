package order_test

import (
	"context"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bernabe-03/oplaisir/internal/catalog"
	"github.com/Bernabe-03/oplaisir/internal/order"
	"github.com/Bernabe-03/oplaisir/internal/storage/memory"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		item          order.ItemInput
		wantKind      catalog.Kind
		wantFired     []string
		wantAmbiguous bool
	}{
		{
			name:     "no_rule_keeps_declared",
			item:     order.ItemInput{Kind: catalog.KindCoffret, Name: "Coffret Douceur", SKU: "CDX-1"},
			wantKind: catalog.KindCoffret,
		},
		{
			name:      "sup_prefix",
			item:      order.ItemInput{Kind: catalog.KindProduct, Name: "Boite", SKU: "SUP-001"},
			wantKind:  catalog.KindSupport,
			wantFired: []string{"sku-support-prefix"},
		},
		{
			name:      "supp_prefix",
			item:      order.ItemInput{Kind: catalog.KindProduct, Name: "Boite", SKU: "SUPP-001"},
			wantKind:  catalog.KindSupport,
			wantFired: []string{"sku-support-prefix"},
		},
		{
			name:      "cof_prefix",
			item:      order.ItemInput{Kind: catalog.KindProduct, Name: "Coffret", SKU: "COF-9"},
			wantKind:  catalog.KindCoffret,
			wantFired: []string{"sku-coffret-prefix"},
		},
		{
			name:      "name_mentions_support",
			item:      order.ItemInput{Kind: catalog.KindProduct, Name: "Grand SUPPORT bois"},
			wantKind:  catalog.KindSupport,
			wantFired: []string{"name-support"},
		},
		{
			name:     "name_rule_needs_declared_product",
			item:     order.ItemInput{Kind: catalog.KindCoffret, Name: "Coffret avec support"},
			wantKind: catalog.KindCoffret,
		},
		{
			name:      "metadata_boite",
			item:      order.ItemInput{Kind: catalog.KindProduct, Name: "Emballage", Metadata: map[string]any{"type": "boite"}},
			wantKind:  catalog.KindSupport,
			wantFired: []string{"metadata-support"},
		},
		{
			name:          "coffret_sku_with_support_name_is_ambiguous",
			item:          order.ItemInput{Kind: catalog.KindProduct, Name: "Support coffret", SKU: "COF-3"},
			wantKind:      catalog.KindSupport,
			wantFired:     []string{"sku-coffret-prefix", "name-support"},
			wantAmbiguous: true,
		},
		{
			name:      "agreeing_rules_are_not_ambiguous",
			item:      order.ItemInput{Kind: catalog.KindProduct, Name: "Support doré", SKU: "SUP-4", Metadata: map[string]any{"type": "support"}},
			wantKind:  catalog.KindSupport,
			wantFired: []string{"sku-support-prefix", "name-support", "metadata-support"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := order.Classify(tt.item)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantFired, got.Fired)
			assert.Equal(t, tt.wantAmbiguous, got.Ambiguous)
		})
	}
}

func TestNormalizer_ResolvesSupportIDs(t *testing.T) {
	store := memory.New()
	support := catalog.Item{
		Ref:   catalog.SupportRef(uuid.Must(uuid.NewV4())),
		SKU:   "SUP-042",
		Name:  "Panier rotin",
		Stock: catalog.Tracked(8),
	}
	store.SeedItem(support)
	n := order.NewNormalizer(store)

	out := n.Normalize(context.Background(), []order.ItemInput{
		{Kind: catalog.KindProduct, ID: "stale-product-id", Name: "Panier", SKU: "SUP-042", Quantity: 1},
		{Kind: catalog.KindSupport, ID: support.Ref.ID.String(), Name: "Panier", SKU: "SUP-042", Quantity: 1},
		{Kind: catalog.KindProduct, ID: "keep-me", Name: "Panier", SKU: "SUP-999", Quantity: 1},
		{Kind: catalog.KindProduct, ID: "plain", Name: "Moët", SKU: "PRD-1", Quantity: 1},
	})

	require.Len(t, out, 4)
	assert.Equal(t, catalog.KindSupport, out[0].Kind)
	assert.Equal(t, support.Ref.ID.String(), out[0].ID)
	assert.Equal(t, support.Ref.ID.String(), out[1].ID)
	assert.Equal(t, "keep-me", out[2].ID)
	assert.Equal(t, catalog.KindProduct, out[3].Kind)
	assert.Equal(t, "plain", out[3].ID)
}

func TestNormalizer_Idempotent(t *testing.T) {
	store := memory.New()
	n := order.NewNormalizer(store)
	ctx := context.Background()

	input := []order.ItemInput{
		{Kind: catalog.KindProduct, ID: "a", Name: "Support doré"},
		{Kind: catalog.KindProduct, ID: "b", Name: "Coffret", SKU: "COF-1"},
		{Kind: catalog.KindCoffret, ID: "c", Name: "Emballage", SKU: "COF-2", Metadata: map[string]any{"type": "boite"}},
		{Kind: catalog.KindProduct, ID: "d", Name: "Moët", SKU: "SUPP-7"},
		{Kind: catalog.KindProduct, ID: "e", Name: "Ruinart"},
	}

	once := n.Normalize(ctx, input)
	again := make([]order.ItemInput, 0, len(once))
	for _, item := range once {
		again = append(again, item.ItemInput)
	}
	twice := n.Normalize(ctx, again)

	require.Len(t, twice, len(once))
	for i := range once {
		assert.Equal(t, once[i].Kind, twice[i].Kind, "item %d", i)
		assert.Equal(t, once[i].ID, twice[i].ID, "item %d", i)
	}
	assert.True(t, once[2].Ambiguous)
}
