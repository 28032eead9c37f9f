package application

import (
	"context"

	cartdomain "github.com/storefront/checkout-service/internal/cart/domain"
	catalogdomain "github.com/storefront/checkout-service/internal/catalog/domain"
	"github.com/storefront/checkout-service/internal/order/domain"
)

type OrderRepository interface {
	Create(ctx context.Context, o domain.Order) error
	CreatePayment(ctx context.Context, p domain.Payment) error
	// ByID returns the order with items, or store.ErrNotFound.
	ByID(ctx context.Context, orderID string) (domain.Order, error)
	// ListByUser returns one page, newest first, plus the total count.
	ListByUser(ctx context.Context, userID string, page, limit int) ([]domain.Order, int, error)
}

// CartStore is the orchestrator's view of carts: resolve, freeze, close.
type CartStore interface {
	ByID(ctx context.Context, cartID string) (cartdomain.Cart, error)
	Items(ctx context.Context, cartID string) ([]cartdomain.Item, error)
	MarkCheckedOut(ctx context.Context, cartID, orderID string) error
	ClearItems(ctx context.Context, cartID string) error
}

type VariantReader interface {
	Get(ctx context.Context, variantID string) (catalogdomain.Variant, error)
}

// Ledger is the inventory contract: Reserve validates under lock, Commit
// decrements and records the movement. Both run in the caller's transaction.
type Ledger interface {
	Reserve(ctx context.Context, variantID string, qty int) error
	Commit(ctx context.Context, variantID string, qty int, reason, refID string) error
}

// OutboxAppender records an event in the same transaction as the business
// write it describes.
type OutboxAppender interface {
	Append(ctx context.Context, aggregateType, aggregateID, eventType string, payload []byte, traceparent string) error
}
