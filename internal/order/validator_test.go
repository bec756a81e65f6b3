package order_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bernabe-03/oplaisir/internal/apperr"
	"github.com/Bernabe-03/oplaisir/internal/catalog"
	"github.com/Bernabe-03/oplaisir/internal/order"
	"github.com/Bernabe-03/oplaisir/internal/storage/memory"
)

func normalized(items ...order.ItemInput) []order.NormalizedItem {
	out := make([]order.NormalizedItem, 0, len(items))
	for _, item := range items {
		out = append(out, order.NormalizedItem{ItemInput: item})
	}
	return out
}

func TestStockValidator_Validate(t *testing.T) {
	store := memory.New()
	product := catalog.Item{Ref: catalog.ProductRef(uuid.Must(uuid.NewV4())), Name: "Moët", Stock: catalog.Tracked(2)}
	coffret := catalog.Item{Ref: catalog.CoffretRef(uuid.Must(uuid.NewV4())), Name: "Coffret Or", Stock: catalog.Tracked(0)}
	basket := catalog.Item{Ref: catalog.SupportRef(uuid.Must(uuid.NewV4())), Name: "Panier rotin", SKU: "SUPP-RT", Stock: catalog.Untracked()}
	store.SeedItem(product)
	store.SeedItem(coffret)
	store.SeedItem(basket)
	v := order.NewStockValidator(store)
	ctx := context.Background()

	tests := []struct {
		name    string
		items   []order.ItemInput
		wantErr error
		wantRef []catalog.Ref
	}{
		{
			name:    "enough_stock",
			items:   []order.ItemInput{{Kind: catalog.KindProduct, ID: product.Ref.ID.String(), Name: "Moët", Quantity: 2}},
			wantRef: []catalog.Ref{product.Ref},
		},
		{
			name:    "over_stock",
			items:   []order.ItemInput{{Kind: catalog.KindProduct, ID: product.Ref.ID.String(), Name: "Moët", Quantity: 3}},
			wantErr: apperr.ErrInsufficientStock,
		},
		{
			name:    "empty_coffret",
			items:   []order.ItemInput{{Kind: catalog.KindCoffret, ID: coffret.Ref.ID.String(), Name: "Coffret Or", Quantity: 1}},
			wantErr: apperr.ErrInsufficientStock,
		},
		{
			name:    "product_id_not_uuid",
			items:   []order.ItemInput{{Kind: catalog.KindProduct, ID: "moet", Name: "Moët", Quantity: 1}},
			wantErr: apperr.ErrNotFound,
		},
		{
			name:    "support_by_sku",
			items:   []order.ItemInput{{Kind: catalog.KindSupport, ID: "x", SKU: "SUPP-RT", Name: "Panier", Quantity: 50}},
			wantRef: []catalog.Ref{basket.Ref},
		},
		{
			name:    "support_by_name_without_support_word",
			items:   []order.ItemInput{{Kind: catalog.KindSupport, ID: "x", Name: "Support panier rotin", Quantity: 1}},
			wantRef: []catalog.Ref{basket.Ref},
		},
		{
			name:    "unknown_support_without_sup_prefix",
			items:   []order.ItemInput{{Kind: catalog.KindSupport, ID: "x", SKU: "SUPP-NOPE", Name: "Présentoir", Quantity: 1}},
			wantErr: apperr.ErrNotFound,
		},
		{
			name: "first_violation_stops",
			items: []order.ItemInput{
				{Kind: catalog.KindCoffret, ID: coffret.Ref.ID.String(), Name: "Coffret Or", Quantity: 1},
				{Kind: catalog.KindProduct, ID: "moet", Name: "Moët", Quantity: 1},
			},
			wantErr: apperr.ErrInsufficientStock,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved, err := v.Validate(ctx, normalized(tt.items...))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), err.Error())
				return
			}
			require.NoError(t, err)
			require.Len(t, resolved, len(tt.wantRef))
			for i, ref := range tt.wantRef {
				assert.Equal(t, ref, resolved[i].Ref)
			}
		})
	}
}

func TestStockValidator_PlaceholderIsReused(t *testing.T) {
	store := memory.New()
	v := order.NewStockValidator(store)
	ctx := context.Background()

	line := order.ItemInput{
		Kind:      catalog.KindSupport,
		ID:        "legacy",
		SKU:       "SUP-NEW",
		Name:      "Boite étoile",
		Quantity:  2,
		UnitPrice: decimal.NewFromInt(1500),
		Metadata:  map[string]any{"material": "kraft", "capacity": float64(3)},
	}

	first, err := v.Validate(ctx, normalized(line))
	require.NoError(t, err)
	second, err := v.Validate(ctx, normalized(line))
	require.NoError(t, err)

	assert.Equal(t, first[0].Ref, second[0].Ref)
	assert.False(t, first[0].Item.Stock.IsTracked())
	assert.True(t, decimal.NewFromInt(1500).Equal(first[0].Item.SellingPrice))
}
