package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/storefront/checkout-service/internal/catalog/domain"
	"github.com/storefront/checkout-service/internal/store"
)

// Repository is the read-only variant projection. Catalog management lives
// elsewhere; the checkout core only ever looks variants up by id.
type Repository struct {
	store *store.Store
}

func NewRepository(s *store.Store) *Repository {
	return &Repository{store: s}
}

func (r *Repository) Get(ctx context.Context, variantID string) (domain.Variant, error) {
	var v domain.Variant
	err := r.store.DB(ctx).QueryRow(ctx, `
		SELECT v.id, v.product_id, v.sku, p.title, v.title, v.currency, v.price_minor
		FROM product_variants v
		JOIN products p ON p.id = v.product_id
		WHERE v.id = $1`, variantID,
	).Scan(&v.ID, &v.ProductID, &v.SKU, &v.ProductTitle, &v.Title, &v.Currency, &v.PriceMinor)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Variant{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Variant{}, err
	}
	return v, nil
}
