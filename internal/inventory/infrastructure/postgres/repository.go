package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/storefront/checkout-service/internal/inventory/application"
	"github.com/storefront/checkout-service/internal/inventory/domain"
	"github.com/storefront/checkout-service/internal/store"
)

type Repository struct {
	store *store.Store
}

func NewRepository(s *store.Store) *Repository {
	return &Repository{store: s}
}

func (r *Repository) Quantity(ctx context.Context, variantID string) (int, error) {
	var qty int
	err := r.store.DB(ctx).QueryRow(ctx,
		`SELECT quantity FROM inventory_stock WHERE variant_id=$1`, variantID,
	).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return qty, err
}

func (r *Repository) QuantityForUpdate(ctx context.Context, variantID string) (int, error) {
	var qty int
	err := r.store.DB(ctx).QueryRow(ctx,
		`SELECT quantity FROM inventory_stock WHERE variant_id=$1 FOR UPDATE`, variantID,
	).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return qty, err
}

func (r *Repository) Adjust(ctx context.Context, variantID string, delta int) error {
	ct, err := r.store.DB(ctx).Exec(ctx,
		`UPDATE inventory_stock SET quantity = quantity + $2, updated_at = now()
		 WHERE variant_id = $1 AND quantity + $2 >= 0`, variantID, delta)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return application.ErrInsufficientStock
	}
	return nil
}

func (r *Repository) AppendMovement(ctx context.Context, m domain.Movement) error {
	_, err := r.store.DB(ctx).Exec(ctx,
		`INSERT INTO inventory_movements (id, variant_id, delta, reason, ref_id, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		m.ID, m.VariantID, m.Delta, m.Reason, m.RefID, m.CreatedAt)
	return err
}
