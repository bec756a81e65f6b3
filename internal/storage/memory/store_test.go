package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bernabe-03/oplaisir/internal/apperr"
	"github.com/Bernabe-03/oplaisir/internal/catalog"
	"github.com/Bernabe-03/oplaisir/internal/order"
)

func TestStore_ApplyAdjustmentsIsAllOrNothing(t *testing.T) {
	s := New()
	a := catalog.Item{Ref: catalog.ProductRef(uuid.Must(uuid.NewV4())), Name: "A", Stock: catalog.Tracked(5)}
	b := catalog.Item{Ref: catalog.CoffretRef(uuid.Must(uuid.NewV4())), Name: "B", Stock: catalog.Tracked(1)}
	u := catalog.Item{Ref: catalog.SupportRef(uuid.Must(uuid.NewV4())), Name: "U", Stock: catalog.Untracked()}
	s.SeedItem(a)
	s.SeedItem(b)
	s.SeedItem(u)

	err := s.applyAdjustments([]catalog.Adjustment{
		catalog.Decrement(a.Ref, 2),
		catalog.Decrement(u.Ref, 50),
		catalog.Decrement(b.Ref, 2),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInsufficientStock))

	got, _ := s.Item(a.Ref)
	assert.Equal(t, catalog.Tracked(5), got.Stock)

	err = s.applyAdjustments([]catalog.Adjustment{catalog.Decrement(a.Ref, 2), catalog.Decrement(a.Ref, 3)})
	require.NoError(t, err)
	got, _ = s.Item(a.Ref)
	assert.Equal(t, catalog.Tracked(0), got.Stock)

	err = s.applyAdjustments([]catalog.Adjustment{catalog.Increment(catalog.ProductRef(uuid.Must(uuid.NewV4())), 1)})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	got, _ = s.Item(u.Ref)
	assert.False(t, got.Stock.IsTracked())
}

func TestStore_OrderNumbersAreDaily(t *testing.T) {
	s := New()
	ctx := context.Background()
	day1 := time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC)

	var numbers []string
	for _, at := range []time.Time{day1, day1, day2, day1} {
		o := &order.Order{Status: order.StatusPending, CreatedAt: at}
		require.NoError(t, s.CreateOrder(ctx, o))
		numbers = append(numbers, o.OrderNumber)
	}
	assert.Equal(t, []string{"CMD-251231-0001", "CMD-251231-0002", "CMD-260101-0001", "CMD-251231-0003"}, numbers)
}

func TestStore_ApplyStatusChangeChecksExpectedStatus(t *testing.T) {
	s := New()
	ctx := context.Background()
	o := &order.Order{Status: order.StatusPending, CreatedAt: time.Now()}
	require.NoError(t, s.CreateOrder(ctx, o))

	_, err := s.ApplyStatusChange(ctx, order.StatusChange{
		OrderID:        o.ID,
		ExpectedStatus: order.StatusValidated,
		NewStatus:      order.StatusCompleted,
		Apply:          func(o *order.Order) { o.Status = order.StatusCompleted },
	})
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	updated, err := s.ApplyStatusChange(ctx, order.StatusChange{
		OrderID:        o.ID,
		ExpectedStatus: order.StatusPending,
		NewStatus:      order.StatusRejected,
		Apply:          func(o *order.Order) { o.Status = order.StatusRejected },
		History:        order.HistoryEntry{Status: order.StatusRejected, Action: "rejected", CreatedAt: time.Now()},
	})
	require.NoError(t, err)
	assert.Equal(t, order.StatusRejected, updated.Status)
	require.Len(t, updated.History, 1)
	assert.Equal(t, o.ID, updated.History[0].OrderID)

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, order.EventOrderCreated, msgs[0].Type)
	assert.Equal(t, order.EventOrderStatusChanged, msgs[1].Type)
}

func TestStore_PlaceholderSupportIsIdempotentBySKU(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := catalog.PlaceholderSupport{Name: "Boite", SKU: "SUP-77"}

	first, err := s.CreatePlaceholderSupport(ctx, p)
	require.NoError(t, err)
	second, err := s.CreatePlaceholderSupport(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, first.Ref, second.Ref)

	found, err := s.FindBySKU(ctx, catalog.KindSupport, "SUP-77")
	require.NoError(t, err)
	assert.Equal(t, first.Ref, found.Ref)

	matches, err := s.SearchSupportsByName(ctx, "boi")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}
