package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/Bernabe-03/oplaisir/internal/apperr"
)

// Store is the read side of the three catalog tables plus the one write the
// order engine is allowed outside a transition: creating a placeholder
// support.
type Store interface {
	FindByID(ctx context.Context, ref Ref) (Item, error)
	FindBySKU(ctx context.Context, kind Kind, sku string) (Item, error)
	SearchSupportsByName(ctx context.Context, fragment string) ([]Item, error)
	CreatePlaceholderSupport(ctx context.Context, p PlaceholderSupport) (Item, error)
}

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// tableFor is the single place a Kind turns into SQL.
func tableFor(kind Kind) (string, error) {
	switch kind {
	case KindProduct:
		return "products", nil
	case KindCoffret:
		return "coffrets", nil
	case KindSupport:
		return "supports", nil
	}
	return "", fmt.Errorf("catalog: unknown item kind %q", kind)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Store {
	return &postgresRepository{db: db}
}

func selectItem(table string) string {
	return `SELECT id, sku, name, stock, stock_tracked, min_stock, max_stock,
		purchase_price, selling_price, created_at, updated_at
		FROM ` + table
}

func scanItem(row pgx.Row, kind Kind) (Item, error) {
	var (
		item     Item
		quantity int
		tracked  bool
	)
	err := row.Scan(
		&item.Ref.ID,
		&item.SKU,
		&item.Name,
		&quantity,
		&tracked,
		&item.MinStock,
		&item.MaxStock,
		&item.PurchasePrice,
		&item.SellingPrice,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Item{}, err
	}
	item.Ref.Kind = kind
	if tracked {
		item.Stock = Tracked(quantity)
	} else {
		item.Stock = Untracked()
	}
	return item, nil
}

func (r *postgresRepository) FindByID(ctx context.Context, ref Ref) (Item, error) {
	table, err := tableFor(ref.Kind)
	if err != nil {
		return Item{}, apperr.InvalidInput("%v", err)
	}
	item, err := scanItem(r.db.QueryRow(ctx, selectItem(table)+` WHERE id = $1`, ref.ID), ref.Kind)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, apperr.NotFound("%s %s not found", ref.Kind, ref.ID)
		}
		return Item{}, apperr.Persistence(err, "failed to load %s", ref.Kind)
	}
	return item, nil
}

func (r *postgresRepository) FindBySKU(ctx context.Context, kind Kind, sku string) (Item, error) {
	table, err := tableFor(kind)
	if err != nil {
		return Item{}, apperr.InvalidInput("%v", err)
	}
	item, err := scanItem(r.db.QueryRow(ctx, selectItem(table)+` WHERE sku = $1`, sku), kind)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, apperr.NotFound("%s with sku %q not found", kind, sku)
		}
		return Item{}, apperr.Persistence(err, "failed to load %s by sku", kind)
	}
	return item, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds an ILIKE pattern matching fragment literally
// anywhere in the value.
func containsPattern(fragment string) string {
	return "%" + likeEscaper.Replace(fragment) + "%"
}

func (r *postgresRepository) SearchSupportsByName(ctx context.Context, fragment string) ([]Item, error) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, selectItem("supports")+` WHERE name ILIKE $1 ESCAPE '\' ORDER BY created_at`, containsPattern(fragment))
	if err != nil {
		return nil, apperr.Persistence(err, "failed to search supports")
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		item, err := scanItem(rows, KindSupport)
		if err != nil {
			return nil, apperr.Persistence(err, "failed to scan support")
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence(err, "failed iterating supports")
	}
	return items, nil
}

func (r *postgresRepository) CreatePlaceholderSupport(ctx context.Context, p PlaceholderSupport) (Item, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return Item{}, apperr.Persistence(err, "failed to generate support id")
	}
	themes, err := json.Marshal(p.CompatibleThemes)
	if err != nil {
		return Item{}, apperr.Persistence(err, "failed to encode compatible themes")
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO supports (id, sku, name, description, type, material, capacity, theme,
			compatible_themes, stock, stock_tracked, min_stock, max_stock, purchase_price,
			selling_price, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, false, 0, 0, 0, $11, 'actif', $12, $12)
	`
	_, err = r.db.Exec(ctx, query,
		id, p.SKU, p.Name, p.Description, p.Type, p.Material, p.Capacity, p.Theme,
		themes, LegacyUntrackedStock, p.SellingPrice, now,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			// Another order created the same placeholder first.
			return r.FindBySKU(ctx, KindSupport, p.SKU)
		}
		return Item{}, apperr.Persistence(err, "failed to create placeholder support")
	}

	log.Info().Stringer("support_id", id).Str("sku", p.SKU).Msg("repository: placeholder support created")

	return Item{
		Ref:          SupportRef(id),
		SKU:          p.SKU,
		Name:         p.Name,
		Stock:        Untracked(),
		SellingPrice: p.SellingPrice,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// ApplyAdjustments runs every adjustment against q, which must be the
// caller's transaction. Each statement is conditional so concurrent writers
// can never push a tracked stock below zero; untracked rows are left alone.
func ApplyAdjustments(ctx context.Context, q Querier, adjustments []Adjustment) error {
	for _, adj := range adjustments {
		if adj.Delta == 0 {
			continue
		}
		table, err := tableFor(adj.Ref.Kind)
		if err != nil {
			return apperr.InvalidInput("%v", err)
		}

		// stock + delta keeps one statement for both directions; the guard only
		// bites for decrements.
		query := `UPDATE ` + table + `
			SET stock = stock + $2, updated_at = now()
			WHERE id = $1 AND stock_tracked AND stock + $2 >= 0`
		tag, err := q.Exec(ctx, query, adj.Ref.ID, adj.Delta)
		if err != nil {
			return apperr.Persistence(err, "failed to adjust %s stock", adj.Ref.Kind)
		}
		if tag.RowsAffected() == 1 {
			continue
		}

		var (
			tracked bool
			stock   int
			name    string
		)
		err = q.QueryRow(ctx, `SELECT stock_tracked, stock, name FROM `+table+` WHERE id = $1`, adj.Ref.ID).
			Scan(&tracked, &stock, &name)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.NotFound("%s %s not found", adj.Ref.Kind, adj.Ref.ID)
			}
			return apperr.Persistence(err, "failed to inspect %s stock", adj.Ref.Kind)
		}
		if !tracked {
			continue
		}
		return apperr.InsufficientStock("insufficient stock for %s: available %d, requested %d", name, stock, -adj.Delta)
	}
	return nil
}
