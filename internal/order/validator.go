package order

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Bernabe-03/oplaisir/internal/apperr"
	"github.com/Bernabe-03/oplaisir/internal/catalog"
)

const placeholderDescription = "Support temporaire créé automatiquement"

// ResolvedItem is a normalized line bound to a concrete catalog record.
type ResolvedItem struct {
	NormalizedItem
	Ref  catalog.Ref
	Item catalog.Item
}

// StockValidator binds each normalized line to its catalog record and checks
// availability. It stops at the first violation.
type StockValidator struct {
	catalog catalog.Store
}

func NewStockValidator(store catalog.Store) *StockValidator {
	return &StockValidator{catalog: store}
}

func (v *StockValidator) Validate(ctx context.Context, items []NormalizedItem) ([]ResolvedItem, error) {
	resolved := make([]ResolvedItem, 0, len(items))
	for _, item := range items {
		var (
			found catalog.Item
			err   error
		)
		switch item.Kind {
		case catalog.KindProduct, catalog.KindCoffret:
			found, err = v.findTracked(ctx, item)
		case catalog.KindSupport:
			found, err = v.findSupport(ctx, item)
		default:
			err = apperr.InvalidInput("unknown item type %q for %s", item.Kind, item.Name)
		}
		if err != nil {
			return nil, err
		}

		if !found.Stock.Covers(item.Quantity) {
			return nil, apperr.InsufficientStock("insufficient stock for %s: available %d, requested %d",
				found.Name, found.Stock.Quantity(), item.Quantity)
		}

		resolved = append(resolved, ResolvedItem{NormalizedItem: item, Ref: found.Ref, Item: found})
	}
	return resolved, nil
}

func (v *StockValidator) findTracked(ctx context.Context, item NormalizedItem) (catalog.Item, error) {
	id, err := uuid.FromString(item.ID)
	if err != nil {
		return catalog.Item{}, apperr.NotFound("%s %s not found", item.Kind, item.Name)
	}
	found, err := v.catalog.FindByID(ctx, catalog.Ref{Kind: item.Kind, ID: id})
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return catalog.Item{}, apperr.NotFound("%s %s not found", item.Kind, item.Name)
		}
		return catalog.Item{}, fmt.Errorf("validator: failed to load %s: %w", item.Kind, err)
	}
	return found, nil
}

// findSupport tries id, SKU, then fuzzy name, and finally creates a
// placeholder for SUP- SKUs.
func (v *StockValidator) findSupport(ctx context.Context, item NormalizedItem) (catalog.Item, error) {
	if id, err := uuid.FromString(item.ID); err == nil {
		found, err := v.catalog.FindByID(ctx, catalog.SupportRef(id))
		if err == nil {
			return found, nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return catalog.Item{}, fmt.Errorf("validator: failed to load support: %w", err)
		}
	}

	if item.SKU != "" {
		found, err := v.catalog.FindBySKU(ctx, catalog.KindSupport, item.SKU)
		if err == nil {
			return found, nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return catalog.Item{}, fmt.Errorf("validator: failed to load support by sku: %w", err)
		}
	}

	if found, ok, err := v.searchSupportByName(ctx, item.Name); err != nil {
		return catalog.Item{}, err
	} else if ok {
		log.Info().Str("name", item.Name).Stringer("support_id", found.Ref.ID).Msg("validator: support matched by similar name")
		return found, nil
	}

	if !strings.HasPrefix(item.SKU, "SUP-") {
		return catalog.Item{}, apperr.NotFound("support %q (id %s, sku %s) not found", item.Name, item.ID, item.SKU)
	}

	log.Warn().Str("name", item.Name).Str("sku", item.SKU).Msg("validator: support not found, creating placeholder")
	created, err := v.catalog.CreatePlaceholderSupport(ctx, placeholderFor(item))
	if err != nil {
		return catalog.Item{}, fmt.Errorf("validator: failed to create placeholder support: %w", err)
	}
	return created, nil
}

var supportWord = regexp.MustCompile(`(?i)support`)

func (v *StockValidator) searchSupportByName(ctx context.Context, name string) (catalog.Item, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return catalog.Item{}, false, nil
	}
	candidates := []string{name}
	if stripped := strings.TrimSpace(supportWord.ReplaceAllString(name, "")); stripped != "" && stripped != name {
		candidates = append(candidates, stripped)
	}
	for _, fragment := range candidates {
		matches, err := v.catalog.SearchSupportsByName(ctx, fragment)
		if err != nil {
			return catalog.Item{}, false, fmt.Errorf("validator: failed to search supports: %w", err)
		}
		if len(matches) > 0 {
			return matches[0], true, nil
		}
	}
	return catalog.Item{}, false, nil
}

func placeholderFor(item NormalizedItem) catalog.PlaceholderSupport {
	p := catalog.PlaceholderSupport{
		Name:             item.Name,
		SKU:              item.SKU,
		Description:      item.Description,
		Type:             metaString(item.Metadata, "type", "boite"),
		Material:         metaString(item.Metadata, "material", "carton"),
		Capacity:         metaInt(item.Metadata, "capacity", 1),
		Theme:            metaString(item.Metadata, "theme", "standard"),
		CompatibleThemes: metaStrings(item.Metadata, "compatibleThemes", []string{"standard"}),
		SellingPrice:     item.UnitPrice,
	}
	if p.Description == "" {
		p.Description = placeholderDescription
	}
	return p
}

func metaString(m map[string]any, key, fallback string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func metaInt(m map[string]any, key string, fallback int) int {
	switch v := m[key].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func metaStrings(m map[string]any, key string, fallback []string) []string {
	switch v := m[key].(type) {
	case []string:
		if len(v) > 0 {
			return v
		}
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}
