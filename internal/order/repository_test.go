package order_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bernabe-03/oplaisir/internal/apperr"
	"github.com/Bernabe-03/oplaisir/internal/catalog"
	"github.com/Bernabe-03/oplaisir/internal/order"
)

// setupPostgres connects to TEST_DATABASE_URL, migrates it and empties the
// tables the tests touch. Tests are skipped when the variable is unset.
func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	m, err := migrate.New("file://../../migrations", "pgx5://"+strings.TrimPrefix(strings.TrimPrefix(dsn, "postgres://"), "postgresql://"))
	require.NoError(t, err)
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	_, _ = m.Close()

	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)

	truncate := func() {
		_, err := pool.Exec(context.Background(),
			"TRUNCATE TABLE order_history, order_items, orders, order_counters, outbox_events, products, supports RESTART IDENTITY CASCADE")
		if err != nil {
			t.Fatalf("Failed to truncate tables: %v", err)
		}
	}
	truncate()
	t.Cleanup(func() {
		truncate()
		pool.Close()
	})
	return pool
}

func insertProduct(t *testing.T, pool *pgxpool.Pool, sku string, stock int) uuid.UUID {
	t.Helper()
	id := uuid.Must(uuid.NewV4())
	_, err := pool.Exec(context.Background(),
		`INSERT INTO products (id, sku, name, stock, selling_price) VALUES ($1, $2, $3, $4, 5000)`,
		id, sku, "Produit "+sku, stock)
	require.NoError(t, err)
	return id
}

func productStock(t *testing.T, pool *pgxpool.Pool, id uuid.UUID) int {
	t.Helper()
	var stock int
	require.NoError(t, pool.QueryRow(context.Background(), `SELECT stock FROM products WHERE id = $1`, id).Scan(&stock))
	return stock
}

func newPostgresService(pool *pgxpool.Pool) order.Service {
	return order.NewService(order.Deps{
		Orders:  order.NewRepository(pool),
		Catalog: catalog.NewRepository(pool),
	})
}

func productOrder(id uuid.UUID, qty int) order.CreateOrderInput {
	return order.CreateOrderInput{
		CustomerName:    "Awa Koné",
		CustomerPhone:   "+2250700000000",
		CustomerAddress: "Rue des Jardins",
		CustomerCommune: "Cocody",
		Items: []order.ItemInput{{
			Kind:      catalog.KindProduct,
			ID:        id.String(),
			Name:      "Bougie",
			Quantity:  qty,
			UnitPrice: decimal.NewFromInt(5000),
		}},
		DeliveryCost:  decimal.NewFromInt(1500),
		PaymentMethod: order.PaymentCash,
	}
}

func TestPostgresRepository_Lifecycle(t *testing.T) {
	pool := setupPostgres(t)
	svc := newPostgresService(pool)
	ctx := context.Background()
	productID := insertProduct(t, pool, "BOUG-001", 10)

	created, err := svc.CreateOrder(ctx, productOrder(productID, 3), "")
	require.NoError(t, err)
	assert.Regexp(t, `^CMD-\d{6}-0001$`, created.OrderNumber)
	assert.Equal(t, 10, productStock(t, pool, productID))

	second, err := svc.CreateOrder(ctx, productOrder(productID, 1), "")
	require.NoError(t, err)
	assert.Regexp(t, `^CMD-\d{6}-0002$`, second.OrderNumber)

	validated, err := svc.ValidateOrder(ctx, created.ID, order.ActionValidate, "admin-1", order.TransitionParams{})
	require.NoError(t, err)
	assert.Equal(t, order.StatusValidated, validated.Status)
	assert.Equal(t, 7, productStock(t, pool, productID))

	cancelled, err := svc.ValidateOrder(ctx, created.ID, order.ActionCancel, "admin-1", order.TransitionParams{})
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, cancelled.Status)
	assert.Equal(t, 10, productStock(t, pool, productID))

	fetched, err := svc.GetOrderByNumber(ctx, created.OrderNumber)
	require.NoError(t, err)
	require.Len(t, fetched.Items, 1)
	assert.Len(t, fetched.History, 3)

	var events int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM outbox_events`).Scan(&events))
	assert.Equal(t, 4, events)

	count, err := svc.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, svc.DeleteOrder(ctx, second.ID))
	_, err = svc.GetOrderByID(ctx, second.ID)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestPostgresRepository_ConcurrentValidationNeverOversells(t *testing.T) {
	pool := setupPostgres(t)
	svc := newPostgresService(pool)
	ctx := context.Background()
	productID := insertProduct(t, pool, "BOUG-002", 5)

	first, err := svc.CreateOrder(ctx, productOrder(productID, 3), "")
	require.NoError(t, err)
	second, err := svc.CreateOrder(ctx, productOrder(productID, 3), "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []uuid.UUID{first.ID, second.ID} {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			_, errs[i] = svc.ValidateOrder(ctx, id, order.ActionValidate, "admin-1", order.TransitionParams{})
		}(i, id)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, apperr.CodeInsufficientStock, apperr.CodeOf(err))
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 2, productStock(t, pool, productID))
}

func TestPostgresRepository_SearchSupportsMatchesWildcardsLiterally(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()
	for sku, name := range map[string]string{"SUP-001": "Pochette 100% lin", "SUP-002": "Pochette 1000 lin", "SUP-003": "Boite_ronde"} {
		_, err := pool.Exec(ctx, `INSERT INTO supports (id, sku, name) VALUES ($1, $2, $3)`, uuid.Must(uuid.NewV4()), sku, name)
		require.NoError(t, err)
	}
	store := catalog.NewRepository(pool)

	found, err := store.SearchSupportsByName(ctx, "100%")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Pochette 100% lin", found[0].Name)

	found, err = store.SearchSupportsByName(ctx, "e_1")
	require.NoError(t, err)
	assert.Empty(t, found)

	found, err = store.SearchSupportsByName(ctx, "boite_")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Boite_ronde", found[0].Name)
}
