package domain

import (
	"crypto/rand"
	"fmt"
	"time"
)

const (
	StatusPendingPayment = "PENDING_PAYMENT"
	StatusPaid           = "PAID"
	StatusCancelled      = "CANCELLED"

	PaymentStatusPending = "PENDING"
)

// Order is the immutable result of a checkout. Amounts are minor currency
// units and must reconcile: Total == Subtotal + Shipping - Discount.
type Order struct {
	ID             string    `json:"id"`
	Code           string    `json:"code"`
	UserID         string    `json:"user_id"`
	CartID         string    `json:"cart_id"`
	Status         string    `json:"status"`
	Currency       string    `json:"currency"`
	SubtotalAmount int64     `json:"subtotal_amount"`
	ShippingAmount int64     `json:"shipping_amount"`
	DiscountAmount int64     `json:"discount_amount"`
	TotalAmount    int64     `json:"total_amount"`
	PlacedAt       time.Time `json:"placed_at"`
	Items          []Item    `json:"items"`
}

// Item is a snapshot of the variant at order time, deliberately decoupled
// from the live catalog so later edits never alter historical orders.
type Item struct {
	ID           string `json:"id"`
	OrderID      string `json:"order_id"`
	VariantID    string `json:"variant_id"`
	SKU          string `json:"sku"`
	ProductTitle string `json:"product_title"`
	VariantTitle string `json:"variant_title"`
	UnitPrice    int64  `json:"unit_price"`
	Quantity     int    `json:"quantity"`
	LineTotal    int64  `json:"line_total"`
}

type Payment struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Provider  string    `json:"provider"`
	Status    string    `json:"status"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
}

// Placed is the outbox event payload announcing a committed checkout.
type Placed struct {
	OrderID     string `json:"order_id"`
	Code        string `json:"code"`
	UserID      string `json:"user_id"`
	TotalAmount int64  `json:"total_amount"`
	Currency    string `json:"currency"`
}

// Reconciles reports whether the order's money totals add up.
func (o Order) Reconciles() bool {
	return o.TotalAmount == o.SubtotalAmount+o.ShippingAmount-o.DiscountAmount
}

const codeAlphabet = "ABCDEFGHJKMNPQRSTVWXYZ0123456789"

// NewCode generates a human-readable order code. Uniqueness is enforced by
// the orders.code constraint; a collision aborts and reruns the checkout
// transaction with a fresh code.
func NewCode() string {
	buf := make([]byte, 10)
	_, _ = rand.Read(buf)
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return "ORD-" + string(buf)
}

func DetailCacheKey(orderID string) string {
	return "orders:detail:" + orderID
}

func ListIndexKey(userID string) string {
	return "orders:user:" + userID + ":list:index"
}

func ListPageKey(userID string, page, limit int) string {
	return fmt.Sprintf("orders:user:%s:list:p%d:l%d", userID, page, limit)
}
