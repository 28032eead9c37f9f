package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/storefront/checkout-service/internal/cart/domain"
	"github.com/storefront/checkout-service/internal/store"
)

type Repository struct {
	store *store.Store
}

func NewRepository(s *store.Store) *Repository {
	return &Repository{store: s}
}

func (r *Repository) FindOpen(ctx context.Context, userID string) (domain.Cart, error) {
	var c domain.Cart
	err := r.store.DB(ctx).QueryRow(ctx, `
		SELECT id, user_id, COALESCE(currency, ''), is_checked_out, created_at, updated_at
		FROM carts WHERE user_id=$1 AND is_checked_out=false`, userID,
	).Scan(&c.ID, &c.UserID, &c.Currency, &c.CheckedOut, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Cart{}, store.ErrNotFound
	}
	return c, err
}

func (r *Repository) Create(ctx context.Context, userID, currency string) (domain.Cart, error) {
	now := time.Now().UTC()
	c := domain.Cart{
		ID:        uuid.NewString(),
		UserID:    userID,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := r.store.DB(ctx).Exec(ctx, `
		INSERT INTO carts (id, user_id, currency, is_checked_out, created_at, updated_at)
		VALUES ($1,$2,$3,false,$4,$4)`, c.ID, c.UserID, c.Currency, now)
	if err != nil {
		return domain.Cart{}, err
	}
	return c, nil
}

func (r *Repository) SetCurrency(ctx context.Context, cartID, currency string) error {
	_, err := r.store.DB(ctx).Exec(ctx,
		`UPDATE carts SET currency=$2, updated_at=now() WHERE id=$1`, cartID, currency)
	return err
}

func (r *Repository) Item(ctx context.Context, cartID, variantID string) (domain.Item, error) {
	var item domain.Item
	err := r.store.DB(ctx).QueryRow(ctx,
		`SELECT id, cart_id, variant_id, quantity FROM cart_items WHERE cart_id=$1 AND variant_id=$2`,
		cartID, variantID,
	).Scan(&item.ID, &item.CartID, &item.VariantID, &item.Quantity)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Item{}, store.ErrNotFound
	}
	return item, err
}

func (r *Repository) UpsertItem(ctx context.Context, cartID, variantID string, quantity int) error {
	_, err := r.store.DB(ctx).Exec(ctx, `
		INSERT INTO cart_items (id, cart_id, variant_id, quantity)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (cart_id, variant_id) DO UPDATE SET quantity=EXCLUDED.quantity`,
		uuid.NewString(), cartID, variantID, quantity)
	return err
}

func (r *Repository) DeleteItem(ctx context.Context, cartID, itemID string) error {
	ct, err := r.store.DB(ctx).Exec(ctx,
		`DELETE FROM cart_items WHERE id=$1 AND cart_id=$2`, itemID, cartID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *Repository) Items(ctx context.Context, cartID string) ([]domain.Item, error) {
	rows, err := r.store.DB(ctx).Query(ctx,
		`SELECT id, cart_id, variant_id, quantity FROM cart_items WHERE cart_id=$1 ORDER BY variant_id`, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(&item.ID, &item.CartID, &item.VariantID, &item.Quantity); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ByID resolves a cart regardless of owner; the checkout orchestrator checks
// ownership itself.
func (r *Repository) ByID(ctx context.Context, cartID string) (domain.Cart, error) {
	var c domain.Cart
	err := r.store.DB(ctx).QueryRow(ctx, `
		SELECT id, user_id, COALESCE(currency, ''), is_checked_out, created_at, updated_at
		FROM carts WHERE id=$1`, cartID,
	).Scan(&c.ID, &c.UserID, &c.Currency, &c.CheckedOut, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Cart{}, store.ErrNotFound
	}
	return c, err
}

func (r *Repository) MarkCheckedOut(ctx context.Context, cartID, orderID string) error {
	ct, err := r.store.DB(ctx).Exec(ctx, `
		UPDATE carts SET is_checked_out=true, checked_out_order_id=$2, updated_at=now()
		WHERE id=$1 AND is_checked_out=false`, cartID, orderID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *Repository) ClearItems(ctx context.Context, cartID string) error {
	_, err := r.store.DB(ctx).Exec(ctx, `DELETE FROM cart_items WHERE cart_id=$1`, cartID)
	return err
}
