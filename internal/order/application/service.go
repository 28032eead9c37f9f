package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	cartdomain "github.com/storefront/checkout-service/internal/cart/domain"
	inventorydomain "github.com/storefront/checkout-service/internal/inventory/domain"
	"github.com/storefront/checkout-service/internal/order/domain"
	"github.com/storefront/checkout-service/internal/store"
	"github.com/storefront/checkout-service/pkg/cache"
	"github.com/storefront/checkout-service/pkg/idempotency"
)

var (
	ErrCartNotAvailable = errors.New("cart not available for checkout")
	ErrItemsMismatch    = errors.New("order items do not match cart contents")
	ErrCurrencyMismatch = errors.New("currency does not match cart")
	ErrAmountMismatch   = errors.New("declared amount does not match computation")
	ErrOrderNotFound    = errors.New("order not found")
)

type DeclaredItem struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

type CheckoutRequest struct {
	CartID         string         `json:"cart_id"`
	Items          []DeclaredItem `json:"items"`
	Currency       string         `json:"currency"`
	SubtotalAmount int64          `json:"subtotal_amount"`
	ShippingAmount int64          `json:"shipping_amount"`
	DiscountAmount int64          `json:"discount_amount"`
	TotalAmount    int64          `json:"total_amount"`
	PaymentMethod  string         `json:"payment_method,omitempty"`
	Traceparent    string         `json:"-"`
}

type ListPage struct {
	Data  []domain.Order `json:"data"`
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
	Total int            `json:"total"`
}

// Service is the checkout orchestrator plus the order read side.
type Service struct {
	log      *slog.Logger
	tx       store.TxManager
	orders   OrderRepository
	carts    CartStore
	variants VariantReader
	ledger   Ledger
	outbox   OutboxAppender
	guard    *idempotency.Guard
	cache    cache.Cache
	cacheTTL time.Duration
}

func NewService(
	log *slog.Logger,
	tx store.TxManager,
	orders OrderRepository,
	carts CartStore,
	variants VariantReader,
	ledger Ledger,
	ob OutboxAppender,
	guard *idempotency.Guard,
	c cache.Cache,
	cacheTTL time.Duration,
) *Service {
	return &Service{
		log:      log,
		tx:       tx,
		orders:   orders,
		carts:    carts,
		variants: variants,
		ledger:   ledger,
		outbox:   ob,
		guard:    guard,
		cache:    c,
		cacheTTL: cacheTTL,
	}
}

// Checkout converts the cart into an order in one transaction: validation,
// inventory decrement, order + snapshot creation, cart close and the outbox
// event all commit or roll back together.
func (s *Service) Checkout(ctx context.Context, userID string, req CheckoutRequest, idemKey string) (domain.Order, error) {
	declared, err := declaredSet(req.Items)
	if err != nil {
		return domain.Order{}, err
	}

	scope := "orders:checkout:" + userID
	hash := checkoutHash(userID, req)

	if stored, err := s.guard.Before(ctx, idemKey, scope, hash); err != nil {
		return domain.Order{}, err
	} else if stored != nil {
		var order domain.Order
		if err := json.Unmarshal(stored, &order); err != nil {
			return domain.Order{}, fmt.Errorf("decode stored response: %w", err)
		}
		return order, nil
	}

	var order domain.Order
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		cart, err := s.carts.ByID(ctx, req.CartID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrCartNotAvailable
		}
		if err != nil {
			return err
		}
		if cart.UserID != userID || cart.CheckedOut {
			return ErrCartNotAvailable
		}

		items, err := s.carts.Items(ctx, req.CartID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return ErrCartNotAvailable
		}

		if err := matchDeclared(declared, items); err != nil {
			return err
		}
		if cart.Currency != "" && cart.Currency != req.Currency {
			return ErrCurrencyMismatch
		}

		// Cart items arrive sorted by variant id; keeping that order for the
		// locked stock reads gives every checkout the same lock order.
		sort.Slice(items, func(i, j int) bool { return items[i].VariantID < items[j].VariantID })

		order = domain.Order{
			ID:             uuid.NewString(),
			Code:           domain.NewCode(),
			UserID:         userID,
			CartID:         cart.ID,
			Status:         domain.StatusPendingPayment,
			Currency:       req.Currency,
			ShippingAmount: req.ShippingAmount,
			DiscountAmount: req.DiscountAmount,
			PlacedAt:       time.Now().UTC(),
		}

		var subtotal int64
		for _, item := range items {
			variant, err := s.variants.Get(ctx, item.VariantID)
			if err != nil {
				return fmt.Errorf("variant %s: %w", item.VariantID, err)
			}
			if variant.Currency != req.Currency {
				return ErrCurrencyMismatch
			}

			lineTotal := variant.PriceMinor * int64(item.Quantity)
			subtotal += lineTotal
			order.Items = append(order.Items, domain.Item{
				ID:           uuid.NewString(),
				OrderID:      order.ID,
				VariantID:    item.VariantID,
				SKU:          variant.SKU,
				ProductTitle: variant.ProductTitle,
				VariantTitle: variant.Title,
				UnitPrice:    variant.PriceMinor,
				Quantity:     item.Quantity,
				LineTotal:    lineTotal,
			})
		}

		if subtotal != req.SubtotalAmount {
			return fmt.Errorf("%w: subtotal %d, declared %d", ErrAmountMismatch, subtotal, req.SubtotalAmount)
		}
		total := subtotal + req.ShippingAmount - req.DiscountAmount
		if total != req.TotalAmount {
			return fmt.Errorf("%w: total %d, declared %d", ErrAmountMismatch, total, req.TotalAmount)
		}
		order.SubtotalAmount = subtotal
		order.TotalAmount = total

		for _, item := range items {
			if err := s.ledger.Reserve(ctx, item.VariantID, item.Quantity); err != nil {
				return err
			}
		}

		if err := s.orders.Create(ctx, order); err != nil {
			return err
		}
		for _, item := range items {
			if err := s.ledger.Commit(ctx, item.VariantID, item.Quantity, inventorydomain.ReasonOrderPlaced, order.ID); err != nil {
				return err
			}
		}

		if req.PaymentMethod != "" {
			payment := domain.Payment{
				ID:        uuid.NewString(),
				OrderID:   order.ID,
				Provider:  req.PaymentMethod,
				Status:    domain.PaymentStatusPending,
				Amount:    total,
				Currency:  req.Currency,
				CreatedAt: order.PlacedAt,
			}
			if err := s.orders.CreatePayment(ctx, payment); err != nil {
				return err
			}
		}

		if err := s.carts.MarkCheckedOut(ctx, cart.ID, order.ID); err != nil {
			return err
		}
		if err := s.carts.ClearItems(ctx, cart.ID); err != nil {
			return err
		}

		payload, err := json.Marshal(domain.Placed{
			OrderID:     order.ID,
			Code:        order.Code,
			UserID:      userID,
			TotalAmount: order.TotalAmount,
			Currency:    order.Currency,
		})
		if err != nil {
			return err
		}
		return s.outbox.Append(ctx, "order", order.ID, "OrderPlaced", payload, req.Traceparent)
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.refreshCaches(ctx, userID, order)

	raw, _ := json.Marshal(order)
	if err := s.guard.After(ctx, idemKey, scope, hash, raw); err != nil {
		s.log.Warn("idempotency record store failed", "user_id", userID, "err", err)
	}

	s.log.Info("order placed", "order_id", order.ID, "code", order.Code, "user_id", userID, "total", order.TotalAmount)
	return order, nil
}

// GetForUser returns one order with ownership enforced.
func (s *Service) GetForUser(ctx context.Context, userID, orderID string) (domain.Order, error) {
	key := domain.DetailCacheKey(orderID)
	if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var order domain.Order
		if err := json.Unmarshal(raw, &order); err == nil {
			if order.UserID != userID {
				return domain.Order{}, ErrOrderNotFound
			}
			return order, nil
		}
	}

	order, err := s.orders.ByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Order{}, ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}
	if order.UserID != userID {
		return domain.Order{}, ErrOrderNotFound
	}

	if raw, err := json.Marshal(order); err == nil {
		if err := s.cache.Set(ctx, key, raw, s.cacheTTL); err != nil {
			s.log.Warn("order cache write failed", "key", key, "err", err)
		}
	}
	return order, nil
}

// ListForUser returns one page of the user's orders, newest first. Pages are
// cached individually and tracked through the user's list index so a checkout
// can drop every variant at once.
func (s *Service) ListForUser(ctx context.Context, userID string, page, limit int) (ListPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	key := domain.ListPageKey(userID, page, limit)
	if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var cached ListPage
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
	}

	orders, total, err := s.orders.ListByUser(ctx, userID, page, limit)
	if err != nil {
		return ListPage{}, err
	}
	result := ListPage{Data: orders, Page: page, Limit: limit, Total: total}
	if result.Data == nil {
		result.Data = []domain.Order{}
	}

	if raw, err := json.Marshal(result); err == nil {
		if err := s.cache.Set(ctx, key, raw, s.cacheTTL); err == nil {
			index := cache.NewIndex(s.cache, domain.ListIndexKey(userID), s.cacheTTL)
			if err := index.Track(ctx, key); err != nil {
				s.log.Warn("order list index track failed", "user_id", userID, "err", err)
			}
		}
	}
	return result, nil
}

// refreshCaches runs after the checkout transaction commits: the cart view
// and every cached order list page are stale, the new order detail is fresh.
func (s *Service) refreshCaches(ctx context.Context, userID string, order domain.Order) {
	if err := s.cache.Del(ctx, cartdomain.CacheKey(userID)); err != nil {
		s.log.Warn("cart cache invalidation failed", "user_id", userID, "err", err)
	}
	index := cache.NewIndex(s.cache, domain.ListIndexKey(userID), s.cacheTTL)
	if err := index.Invalidate(ctx); err != nil {
		s.log.Warn("order list invalidation failed", "user_id", userID, "err", err)
	}
	if raw, err := json.Marshal(order); err == nil {
		if err := s.cache.Set(ctx, domain.DetailCacheKey(order.ID), raw, s.cacheTTL); err != nil {
			s.log.Warn("order cache write failed", "order_id", order.ID, "err", err)
		}
	}
}

func declaredSet(items []DeclaredItem) (map[string]int, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: payload has no items", ErrItemsMismatch)
	}
	declared := make(map[string]int, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: non-positive quantity for variant %s", ErrItemsMismatch, item.VariantID)
		}
		if _, dup := declared[item.VariantID]; dup {
			return nil, fmt.Errorf("%w: duplicate variant %s", ErrItemsMismatch, item.VariantID)
		}
		declared[item.VariantID] = item.Quantity
	}
	return declared, nil
}

// matchDeclared requires exact set equality between the declared items and
// the cart lines, in membership and quantity. This rejects checkouts of a
// stale or tampered cart view.
func matchDeclared(declared map[string]int, items []cartdomain.Item) error {
	if len(declared) != len(items) {
		return fmt.Errorf("%w: cart has %d lines, payload has %d", ErrItemsMismatch, len(items), len(declared))
	}
	for _, item := range items {
		qty, ok := declared[item.VariantID]
		if !ok {
			return fmt.Errorf("%w: variant %s missing from payload", ErrItemsMismatch, item.VariantID)
		}
		if qty != item.Quantity {
			return fmt.Errorf("%w: variant %s quantity (cart %d, payload %d)", ErrItemsMismatch, item.VariantID, item.Quantity, qty)
		}
	}
	return nil
}

// checkoutHash digests the normalized request with items sorted by variant
// id, so the digest is stable across payload ordering.
func checkoutHash(userID string, req CheckoutRequest) string {
	items := make([]DeclaredItem, len(req.Items))
	copy(items, req.Items)
	sort.Slice(items, func(i, j int) bool { return items[i].VariantID < items[j].VariantID })

	lines := make([]map[string]any, 0, len(items))
	for _, item := range items {
		lines = append(lines, map[string]any{"variant_id": item.VariantID, "quantity": item.Quantity})
	}
	return idempotency.Hash(map[string]any{
		"user_id":         userID,
		"cart_id":         req.CartID,
		"items":           lines,
		"currency":        req.Currency,
		"subtotal_amount": req.SubtotalAmount,
		"shipping_amount": req.ShippingAmount,
		"discount_amount": req.DiscountAmount,
		"total_amount":    req.TotalAmount,
		"payment_method":  req.PaymentMethod,
	})
}
