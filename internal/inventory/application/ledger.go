package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/storefront/checkout-service/internal/inventory/domain"
)

var ErrInsufficientStock = errors.New("insufficient stock")

// Ledger owns every write to inventory stock. It has no transaction of its
// own: all operations run inside the caller's transaction, so a stock
// decrement and its movement row commit or roll back together.
type Ledger struct {
	stocks StockRepository
}

func NewLedger(stocks StockRepository) *Ledger {
	return &Ledger{stocks: stocks}
}

// Available reads current stock without locking. Missing stock rows count as
// zero.
func (l *Ledger) Available(ctx context.Context, variantID string) (int, error) {
	return l.stocks.Quantity(ctx, variantID)
}

// Reserve checks, under a row lock, that qty units are available. It writes
// nothing; the lock holds until the caller's transaction ends, so a
// subsequent Commit in the same transaction cannot be raced past zero.
func (l *Ledger) Reserve(ctx context.Context, variantID string, qty int) error {
	available, err := l.stocks.QuantityForUpdate(ctx, variantID)
	if err != nil {
		return err
	}
	if qty > available {
		return fmt.Errorf("variant %s: %w (requested %d, available %d)", variantID, ErrInsufficientStock, qty, available)
	}
	return nil
}

// Commit decrements stock by qty and appends the compensating movement in the
// caller's transaction. The decrement is guarded: stock never goes negative
// regardless of interleaving.
func (l *Ledger) Commit(ctx context.Context, variantID string, qty int, reason, refID string) error {
	if err := l.stocks.Adjust(ctx, variantID, -qty); err != nil {
		return err
	}
	return l.stocks.AppendMovement(ctx, domain.Movement{
		ID:        uuid.NewString(),
		VariantID: variantID,
		Delta:     -qty,
		Reason:    reason,
		RefID:     refID,
		CreatedAt: time.Now().UTC(),
	})
}

// Restock adds qty units with a positive movement.
func (l *Ledger) Restock(ctx context.Context, variantID string, qty int, reason, refID string) error {
	if err := l.stocks.Adjust(ctx, variantID, qty); err != nil {
		return err
	}
	return l.stocks.AppendMovement(ctx, domain.Movement{
		ID:        uuid.NewString(),
		VariantID: variantID,
		Delta:     qty,
		Reason:    reason,
		RefID:     refID,
		CreatedAt: time.Now().UTC(),
	})
}
