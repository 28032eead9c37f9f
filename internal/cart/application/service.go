package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/storefront/checkout-service/internal/cart/domain"
	inventory "github.com/storefront/checkout-service/internal/inventory/application"
	"github.com/storefront/checkout-service/internal/store"
	"github.com/storefront/checkout-service/pkg/cache"
	"github.com/storefront/checkout-service/pkg/idempotency"
)

var (
	ErrInvalidQuantity  = errors.New("quantity must be positive")
	ErrVariantNotFound  = errors.New("product variant not found")
	ErrOutOfStock       = errors.New("variant is out of stock")
	ErrCurrencyMismatch = errors.New("cart currency does not match variant currency")
	ErrCartNotFound     = errors.New("active cart not found")
	ErrItemNotFound     = errors.New("cart item not found")
)

// Service is the cart manager. Adding an item is a soft reservation only:
// stock is checked at mutation time but not decremented, checkout is the
// authoritative check.
type Service struct {
	log      *slog.Logger
	tx       store.TxManager
	carts    CartRepository
	variants VariantReader
	stocks   StockReader
	guard    *idempotency.Guard
	cache    cache.Cache
	cacheTTL time.Duration
}

func NewService(
	log *slog.Logger,
	tx store.TxManager,
	carts CartRepository,
	variants VariantReader,
	stocks StockReader,
	guard *idempotency.Guard,
	c cache.Cache,
	cacheTTL time.Duration,
) *Service {
	return &Service{
		log:      log,
		tx:       tx,
		carts:    carts,
		variants: variants,
		stocks:   stocks,
		guard:    guard,
		cache:    c,
		cacheTTL: cacheTTL,
	}
}

// GetCart returns the user's open cart view, or an empty view when none
// exists. Reading never creates a cart.
func (s *Service) GetCart(ctx context.Context, userID string) (domain.View, error) {
	key := domain.CacheKey(userID)
	if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var view domain.View
		if err := json.Unmarshal(raw, &view); err == nil {
			return view, nil
		}
	} else if err != nil {
		s.log.Warn("cart cache read failed", "user_id", userID, "err", err)
	}

	cart, err := s.carts.FindOpen(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.EmptyView(userID), nil
	}
	if err != nil {
		return domain.View{}, err
	}

	view, err := s.buildView(ctx, cart)
	if err != nil {
		return domain.View{}, err
	}
	s.cacheView(ctx, key, view)
	return view, nil
}

// AddItem merges quantity units of a variant into the user's open cart,
// creating the cart on first add. The whole mutation runs in one transaction;
// an idempotency key makes retries return the stored view without a second
// side effect.
func (s *Service) AddItem(ctx context.Context, userID, variantID string, quantity int, idemKey string) (domain.View, error) {
	if quantity <= 0 {
		return domain.View{}, ErrInvalidQuantity
	}

	scope := "cart:add-item:" + userID
	hash := idempotency.Hash(map[string]any{
		"user_id":    userID,
		"variant_id": variantID,
		"quantity":   quantity,
	})

	if stored, err := s.guard.Before(ctx, idemKey, scope, hash); err != nil {
		return domain.View{}, err
	} else if stored != nil {
		var view domain.View
		if err := json.Unmarshal(stored, &view); err != nil {
			return domain.View{}, fmt.Errorf("decode stored response: %w", err)
		}
		s.cacheView(ctx, domain.CacheKey(userID), view)
		return view, nil
	}

	var view domain.View
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		variant, err := s.variants.Get(ctx, variantID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrVariantNotFound
		}
		if err != nil {
			return err
		}

		available, err := s.stocks.Available(ctx, variantID)
		if err != nil {
			return err
		}
		if available <= 0 {
			return ErrOutOfStock
		}

		cart, err := s.carts.FindOpen(ctx, userID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			cart, err = s.carts.Create(ctx, userID, variant.Currency)
			if err != nil {
				return err
			}
		case err != nil:
			return err
		case cart.Currency != "" && cart.Currency != variant.Currency:
			return ErrCurrencyMismatch
		case cart.Currency == "":
			if err := s.carts.SetCurrency(ctx, cart.ID, variant.Currency); err != nil {
				return err
			}
			cart.Currency = variant.Currency
		}

		existing := 0
		item, err := s.carts.Item(ctx, cart.ID, variantID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err == nil {
			existing = item.Quantity
		}

		if existing+quantity > available {
			return fmt.Errorf("%w: available %d", inventory.ErrInsufficientStock, available)
		}

		if err := s.carts.UpsertItem(ctx, cart.ID, variantID, existing+quantity); err != nil {
			return err
		}

		view, err = s.buildView(ctx, cart)
		return err
	})
	if err != nil {
		return domain.View{}, err
	}

	raw := s.cacheView(ctx, domain.CacheKey(userID), view)
	if err := s.guard.After(ctx, idemKey, scope, hash, raw); err != nil {
		s.log.Warn("idempotency record store failed", "user_id", userID, "err", err)
	}
	return view, nil
}

// RemoveItem deletes one line from the user's open cart.
func (s *Service) RemoveItem(ctx context.Context, userID, itemID string) (domain.View, error) {
	var view domain.View
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		cart, err := s.carts.FindOpen(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrCartNotFound
		}
		if err != nil {
			return err
		}

		if err := s.carts.DeleteItem(ctx, cart.ID, itemID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrItemNotFound
			}
			return err
		}

		view, err = s.buildView(ctx, cart)
		return err
	})
	if err != nil {
		return domain.View{}, err
	}

	s.cacheView(ctx, domain.CacheKey(userID), view)
	return view, nil
}

// buildView assembles the cart projection by explicit id lookups: items, then
// variant and stock per line.
func (s *Service) buildView(ctx context.Context, cart domain.Cart) (domain.View, error) {
	items, err := s.carts.Items(ctx, cart.ID)
	if err != nil {
		return domain.View{}, err
	}

	view := domain.View{
		ID:       cart.ID,
		UserID:   cart.UserID,
		Currency: cart.Currency,
		Items:    make([]domain.ItemView, 0, len(items)),
	}
	for _, item := range items {
		variant, err := s.variants.Get(ctx, item.VariantID)
		if err != nil {
			return domain.View{}, fmt.Errorf("variant %s: %w", item.VariantID, err)
		}
		available, err := s.stocks.Available(ctx, item.VariantID)
		if err != nil {
			return domain.View{}, err
		}

		line := domain.ItemView{
			ID:             item.ID,
			VariantID:      item.VariantID,
			ProductID:      variant.ProductID,
			ProductTitle:   variant.ProductTitle,
			VariantTitle:   variant.Title,
			Currency:       variant.Currency,
			UnitPrice:      variant.PriceMinor,
			Quantity:       item.Quantity,
			Subtotal:       variant.PriceMinor * int64(item.Quantity),
			AvailableStock: available,
		}
		view.Items = append(view.Items, line)
		view.TotalQuantity += line.Quantity
		view.SubtotalAmount += line.Subtotal
	}
	return view, nil
}

// cacheView writes the view through to the cache and returns its serialized
// form. Cache failures are logged, never surfaced: the store is the truth.
func (s *Service) cacheView(ctx context.Context, key string, view domain.View) []byte {
	raw, err := json.Marshal(view)
	if err != nil {
		return nil
	}
	if err := s.cache.Set(ctx, key, raw, s.cacheTTL); err != nil {
		s.log.Warn("cart cache write failed", "key", key, "err", err)
	}
	return raw
}
