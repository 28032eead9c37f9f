package application

import (
	"context"

	"github.com/storefront/checkout-service/internal/inventory/domain"
)

type StockRepository interface {
	// Quantity reads available stock without locking; for soft checks and views.
	Quantity(ctx context.Context, variantID string) (int, error)
	// QuantityForUpdate reads stock under a row lock. Only valid inside a
	// transaction; callers that intend to decrement must read through this.
	QuantityForUpdate(ctx context.Context, variantID string) (int, error)
	// Adjust applies delta to the stock row, failing when it would go negative.
	Adjust(ctx context.Context, variantID string, delta int) error
	AppendMovement(ctx context.Context, m domain.Movement) error
}
