package application

import (
	"context"

	cartdomain "github.com/storefront/checkout-service/internal/cart/domain"
	catalogdomain "github.com/storefront/checkout-service/internal/catalog/domain"
)

type CartRepository interface {
	// FindOpen returns the user's open cart or store.ErrNotFound.
	FindOpen(ctx context.Context, userID string) (cartdomain.Cart, error)
	Create(ctx context.Context, userID, currency string) (cartdomain.Cart, error)
	SetCurrency(ctx context.Context, cartID, currency string) error
	// Item returns the line for (cartID, variantID) or store.ErrNotFound.
	Item(ctx context.Context, cartID, variantID string) (cartdomain.Item, error)
	UpsertItem(ctx context.Context, cartID, variantID string, quantity int) error
	// DeleteItem removes the line by id, scoped to the cart; store.ErrNotFound
	// when no such line belongs to the cart.
	DeleteItem(ctx context.Context, cartID, itemID string) error
	Items(ctx context.Context, cartID string) ([]cartdomain.Item, error)
}

type VariantReader interface {
	Get(ctx context.Context, variantID string) (catalogdomain.Variant, error)
}

// StockReader is the ledger's read surface used for soft checks and views.
type StockReader interface {
	Available(ctx context.Context, variantID string) (int, error)
}
