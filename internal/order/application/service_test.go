package application

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	cartdomain "github.com/storefront/checkout-service/internal/cart/domain"
	catalogdomain "github.com/storefront/checkout-service/internal/catalog/domain"
	inventory "github.com/storefront/checkout-service/internal/inventory/application"
	inventorydomain "github.com/storefront/checkout-service/internal/inventory/domain"
	"github.com/storefront/checkout-service/internal/order/domain"
	"github.com/storefront/checkout-service/internal/store"
	"github.com/storefront/checkout-service/pkg/cache"
	"github.com/storefront/checkout-service/pkg/idempotency"
	"github.com/storefront/checkout-service/pkg/logging"
)

type memTx struct{}

func (memTx) WithTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

type memVariants struct {
	variants map[string]catalogdomain.Variant
}

func (m *memVariants) Get(_ context.Context, id string) (catalogdomain.Variant, error) {
	v, ok := m.variants[id]
	if !ok {
		return catalogdomain.Variant{}, store.ErrNotFound
	}
	return v, nil
}

type memStocks struct {
	qty       map[string]int
	movements []inventorydomain.Movement
}

func (m *memStocks) Quantity(_ context.Context, id string) (int, error)          { return m.qty[id], nil }
func (m *memStocks) QuantityForUpdate(_ context.Context, id string) (int, error) { return m.qty[id], nil }

func (m *memStocks) Adjust(_ context.Context, id string, delta int) error {
	if m.qty[id]+delta < 0 {
		return inventory.ErrInsufficientStock
	}
	m.qty[id] += delta
	return nil
}

func (m *memStocks) AppendMovement(_ context.Context, mv inventorydomain.Movement) error {
	m.movements = append(m.movements, mv)
	return nil
}

type memCarts struct {
	carts map[string]cartdomain.Cart
	items map[string][]cartdomain.Item
}

func (m *memCarts) ByID(_ context.Context, cartID string) (cartdomain.Cart, error) {
	c, ok := m.carts[cartID]
	if !ok {
		return cartdomain.Cart{}, store.ErrNotFound
	}
	return c, nil
}

func (m *memCarts) Items(_ context.Context, cartID string) ([]cartdomain.Item, error) {
	items := append([]cartdomain.Item(nil), m.items[cartID]...)
	sort.Slice(items, func(i, j int) bool { return items[i].VariantID < items[j].VariantID })
	return items, nil
}

func (m *memCarts) MarkCheckedOut(_ context.Context, cartID, orderID string) error {
	c, ok := m.carts[cartID]
	if !ok || c.CheckedOut {
		return store.ErrNotFound
	}
	c.CheckedOut = true
	m.carts[cartID] = c
	return nil
}

func (m *memCarts) ClearItems(_ context.Context, cartID string) error {
	m.items[cartID] = nil
	return nil
}

type memOrders struct {
	orders   map[string]domain.Order
	payments []domain.Payment
}

func (m *memOrders) Create(_ context.Context, o domain.Order) error {
	m.orders[o.ID] = o
	return nil
}

func (m *memOrders) CreatePayment(_ context.Context, p domain.Payment) error {
	m.payments = append(m.payments, p)
	return nil
}

func (m *memOrders) ByID(_ context.Context, orderID string) (domain.Order, error) {
	o, ok := m.orders[orderID]
	if !ok {
		return domain.Order{}, store.ErrNotFound
	}
	return o, nil
}

func (m *memOrders) ListByUser(_ context.Context, userID string, page, limit int) ([]domain.Order, int, error) {
	var all []domain.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			all = append(all, o)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].PlacedAt.After(all[j].PlacedAt) })
	total := len(all)
	start := (page - 1) * limit
	if start >= total {
		return nil, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

type outboxEntry struct {
	aggregateID string
	eventType   string
	payload     []byte
}

type memOutbox struct {
	entries []outboxEntry
}

func (m *memOutbox) Append(_ context.Context, _, aggregateID, eventType string, payload []byte, _ string) error {
	m.entries = append(m.entries, outboxEntry{aggregateID: aggregateID, eventType: eventType, payload: payload})
	return nil
}

type memRecords struct {
	records map[string]idempotency.Record
}

func (m *memRecords) Get(_ context.Context, key string) (idempotency.Record, error) {
	rec, ok := m.records[key]
	if !ok {
		return idempotency.Record{}, store.ErrNotFound
	}
	return rec, nil
}

func (m *memRecords) Put(_ context.Context, rec idempotency.Record) error {
	m.records[rec.Key] = rec
	return nil
}

type fixture struct {
	svc    *Service
	carts  *memCarts
	stocks *memStocks
	orders *memOrders
	outbox *memOutbox
	cache  *cache.Memory
}

// setup seeds user-1 with an open cart: 5 x var-1 (150000 IDR each).
func setup(t *testing.T) *fixture {
	t.Helper()
	variants := &memVariants{variants: map[string]catalogdomain.Variant{
		"var-1": {ID: "var-1", ProductID: "prod-1", SKU: "SKU-1", ProductTitle: "Sneaker", Title: "Size 42", Currency: "IDR", PriceMinor: 150000},
		"var-2": {ID: "var-2", ProductID: "prod-1", SKU: "SKU-2", ProductTitle: "Sneaker", Title: "Size 43", Currency: "IDR", PriceMinor: 175000},
	}}
	stocks := &memStocks{qty: map[string]int{"var-1": 10, "var-2": 4}}
	carts := &memCarts{
		carts: map[string]cartdomain.Cart{
			"cart-1": {ID: "cart-1", UserID: "user-1", Currency: "IDR"},
		},
		items: map[string][]cartdomain.Item{
			"cart-1": {{ID: "item-1", CartID: "cart-1", VariantID: "var-1", Quantity: 5}},
		},
	}
	orders := &memOrders{orders: make(map[string]domain.Order)}
	ob := &memOutbox{}
	records := &memRecords{records: make(map[string]idempotency.Record)}
	guard := idempotency.NewGuard(records, func(err error) bool { return errors.Is(err, store.ErrNotFound) })
	mem := cache.NewMemory()
	t.Cleanup(mem.Close)

	svc := NewService(logging.New(), memTx{}, orders, carts, variants, inventory.NewLedger(stocks), ob, guard, mem, time.Minute)
	return &fixture{svc: svc, carts: carts, stocks: stocks, orders: orders, outbox: ob, cache: mem}
}

func validRequest() CheckoutRequest {
	return CheckoutRequest{
		CartID:         "cart-1",
		Items:          []DeclaredItem{{VariantID: "var-1", Quantity: 5}},
		Currency:       "IDR",
		SubtotalAmount: 750000,
		TotalAmount:    750000,
	}
}

func TestCheckoutHappyPath(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	order, err := f.svc.Checkout(ctx, "user-1", validRequest(), "")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	if order.Status != domain.StatusPendingPayment {
		t.Fatalf("status %q, want PENDING_PAYMENT", order.Status)
	}
	if order.TotalAmount != 750000 || !order.Reconciles() {
		t.Fatalf("totals do not reconcile: %+v", order)
	}
	if !strings.HasPrefix(order.Code, "ORD-") || len(order.Code) != 14 {
		t.Fatalf("unexpected order code %q", order.Code)
	}
	if len(order.Items) != 1 || order.Items[0].UnitPrice != 150000 || order.Items[0].Quantity != 5 {
		t.Fatalf("bad item snapshot: %+v", order.Items)
	}

	if f.stocks.qty["var-1"] != 5 {
		t.Fatalf("stock after checkout %d, want 5", f.stocks.qty["var-1"])
	}
	if len(f.stocks.movements) != 1 || f.stocks.movements[0].Delta != -5 || f.stocks.movements[0].Reason != inventorydomain.ReasonOrderPlaced {
		t.Fatalf("bad movement log: %+v", f.stocks.movements)
	}
	if f.stocks.movements[0].RefID != order.ID {
		t.Fatalf("movement not linked to order: %+v", f.stocks.movements[0])
	}

	if !f.carts.carts["cart-1"].CheckedOut {
		t.Fatalf("cart must be closed after checkout")
	}
	if len(f.carts.items["cart-1"]) != 0 {
		t.Fatalf("cart items must be cleared after checkout")
	}

	if len(f.outbox.entries) != 1 || f.outbox.entries[0].eventType != "OrderPlaced" {
		t.Fatalf("expected one OrderPlaced event, got %+v", f.outbox.entries)
	}
}

func TestCheckoutWithShippingAndDiscount(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	req := validRequest()
	req.ShippingAmount = 25000
	req.DiscountAmount = 50000
	req.TotalAmount = 725000

	order, err := f.svc.Checkout(ctx, "user-1", req, "")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if order.TotalAmount != 725000 || !order.Reconciles() {
		t.Fatalf("totals do not reconcile: %+v", order)
	}
}

func TestCheckoutCreatesPendingPayment(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	req := validRequest()
	req.PaymentMethod = "bank_transfer"

	order, err := f.svc.Checkout(ctx, "user-1", req, "")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if len(f.orders.payments) != 1 {
		t.Fatalf("expected one payment, got %d", len(f.orders.payments))
	}
	p := f.orders.payments[0]
	if p.OrderID != order.ID || p.Status != domain.PaymentStatusPending || p.Amount != order.TotalAmount {
		t.Fatalf("bad payment: %+v", p)
	}
}

func TestCheckoutSubtotalMismatch(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	req := validRequest()
	req.SubtotalAmount = 700000
	req.TotalAmount = 700000

	_, err := f.svc.Checkout(ctx, "user-1", req, "")
	if !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("got %v, want ErrAmountMismatch", err)
	}
	if len(f.orders.orders) != 0 {
		t.Fatalf("no order may exist after failed checkout")
	}
	if f.stocks.qty["var-1"] != 10 {
		t.Fatalf("stock must be unchanged, got %d", f.stocks.qty["var-1"])
	}
	if f.carts.carts["cart-1"].CheckedOut {
		t.Fatalf("cart must stay open after failed checkout")
	}
}

func TestCheckoutTotalMismatch(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	req := validRequest()
	req.TotalAmount = 800000

	if _, err := f.svc.Checkout(ctx, "user-1", req, ""); !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("got %v, want ErrAmountMismatch", err)
	}
}

func TestCheckoutItemsMismatch(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	cases := map[string]CheckoutRequest{
		"empty payload": func() CheckoutRequest {
			r := validRequest()
			r.Items = nil
			return r
		}(),
		"duplicate variant": func() CheckoutRequest {
			r := validRequest()
			r.Items = []DeclaredItem{{VariantID: "var-1", Quantity: 3}, {VariantID: "var-1", Quantity: 2}}
			return r
		}(),
		"wrong quantity": func() CheckoutRequest {
			r := validRequest()
			r.Items = []DeclaredItem{{VariantID: "var-1", Quantity: 4}}
			return r
		}(),
		"unknown variant": func() CheckoutRequest {
			r := validRequest()
			r.Items = []DeclaredItem{{VariantID: "var-2", Quantity: 5}}
			return r
		}(),
		"extra line": func() CheckoutRequest {
			r := validRequest()
			r.Items = append(r.Items, DeclaredItem{VariantID: "var-2", Quantity: 1})
			return r
		}(),
	}

	for name, req := range cases {
		if _, err := f.svc.Checkout(ctx, "user-1", req, ""); !errors.Is(err, ErrItemsMismatch) {
			t.Errorf("%s: got %v, want ErrItemsMismatch", name, err)
		}
	}
	if len(f.orders.orders) != 0 || f.stocks.qty["var-1"] != 10 {
		t.Fatalf("failed checkouts must leave no side effects")
	}
}

func TestCheckoutCartNotAvailable(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	// Wrong owner.
	if _, err := f.svc.Checkout(ctx, "user-2", validRequest(), ""); !errors.Is(err, ErrCartNotAvailable) {
		t.Fatalf("foreign cart: got %v", err)
	}

	// Unknown cart.
	req := validRequest()
	req.CartID = "cart-404"
	if _, err := f.svc.Checkout(ctx, "user-1", req, ""); !errors.Is(err, ErrCartNotAvailable) {
		t.Fatalf("unknown cart: got %v", err)
	}

	// Already checked out.
	c := f.carts.carts["cart-1"]
	c.CheckedOut = true
	f.carts.carts["cart-1"] = c
	if _, err := f.svc.Checkout(ctx, "user-1", validRequest(), ""); !errors.Is(err, ErrCartNotAvailable) {
		t.Fatalf("closed cart: got %v", err)
	}

	// Empty cart.
	c.CheckedOut = false
	f.carts.carts["cart-1"] = c
	f.carts.items["cart-1"] = nil
	if _, err := f.svc.Checkout(ctx, "user-1", validRequest(), ""); !errors.Is(err, ErrCartNotAvailable) {
		t.Fatalf("empty cart: got %v", err)
	}
}

func TestCheckoutCurrencyMismatch(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	req := validRequest()
	req.Currency = "USD"
	if _, err := f.svc.Checkout(ctx, "user-1", req, ""); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("got %v, want ErrCurrencyMismatch", err)
	}
}

func TestCheckoutInsufficientStock(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.stocks.qty["var-1"] = 3

	_, err := f.svc.Checkout(ctx, "user-1", validRequest(), "")
	if !errors.Is(err, inventory.ErrInsufficientStock) {
		t.Fatalf("got %v, want ErrInsufficientStock", err)
	}
	if !strings.Contains(err.Error(), "var-1") {
		t.Fatalf("error must name the offending variant: %v", err)
	}
	if len(f.orders.orders) != 0 || f.stocks.qty["var-1"] != 3 {
		t.Fatalf("failed checkout must leave no side effects")
	}
}

func TestCheckoutIdempotentReplay(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	first, err := f.svc.Checkout(ctx, "user-1", validRequest(), "key-1")
	if err != nil {
		t.Fatalf("first checkout: %v", err)
	}

	replay, err := f.svc.Checkout(ctx, "user-1", validRequest(), "key-1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.ID != first.ID || replay.Code != first.Code || replay.TotalAmount != first.TotalAmount {
		t.Fatalf("replay returned a different order: %+v vs %+v", replay, first)
	}
	if len(f.orders.orders) != 1 {
		t.Fatalf("replay created a second order")
	}
	if f.stocks.qty["var-1"] != 5 {
		t.Fatalf("replay decremented stock twice: %d", f.stocks.qty["var-1"])
	}
	if len(f.outbox.entries) != 1 {
		t.Fatalf("replay emitted a second event")
	}
}

func TestCheckoutKeyReuseDifferentPayload(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	if _, err := f.svc.Checkout(ctx, "user-1", validRequest(), "key-1"); err != nil {
		t.Fatalf("first checkout: %v", err)
	}

	req := validRequest()
	req.PaymentMethod = "credit_card"
	if _, err := f.svc.Checkout(ctx, "user-1", req, "key-1"); !errors.Is(err, idempotency.ErrPayloadMismatch) {
		t.Fatalf("got %v, want ErrPayloadMismatch", err)
	}
}

func TestGetForUserOwnership(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	order, err := f.svc.Checkout(ctx, "user-1", validRequest(), "")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	got, err := f.svc.GetForUser(ctx, "user-1", order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.ID != order.ID {
		t.Fatalf("got %q, want %q", got.ID, order.ID)
	}

	if _, err := f.svc.GetForUser(ctx, "user-2", order.ID); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("foreign order: got %v", err)
	}
	if _, err := f.svc.GetForUser(ctx, "user-1", "order-404"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("unknown order: got %v", err)
	}
}

func TestListForUserInvalidatedByCheckout(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	page, err := f.svc.ListForUser(ctx, "user-1", 1, 20)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 0 {
		t.Fatalf("expected empty history, got %d", page.Total)
	}

	if _, err := f.svc.Checkout(ctx, "user-1", validRequest(), ""); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	// The cached empty page must have been dropped via the list index.
	page, err = f.svc.ListForUser(ctx, "user-1", 1, 20)
	if err != nil {
		t.Fatalf("list after checkout: %v", err)
	}
	if page.Total != 1 || len(page.Data) != 1 {
		t.Fatalf("stale list page survived checkout: %+v", page)
	}
}
