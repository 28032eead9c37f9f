package domain

import "time"

// Cart is the single open pre-purchase container per user. Currency is pinned
// by the first item added and never changes afterwards; a checked-out cart is
// closed forever.
type Cart struct {
	ID         string
	UserID     string
	Currency   string
	CheckedOut bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Item is one variant line. (CartID, VariantID) is unique; re-adding a
// variant merges quantities instead of duplicating rows.
type Item struct {
	ID        string
	CartID    string
	VariantID string
	Quantity  int
}

// View is the materialized cart projection returned to callers and cached.
// Amounts are minor currency units.
type View struct {
	ID             string     `json:"id,omitempty"`
	UserID         string     `json:"user_id"`
	Currency       string     `json:"currency,omitempty"`
	Items          []ItemView `json:"items"`
	TotalQuantity  int        `json:"total_quantity"`
	SubtotalAmount int64      `json:"subtotal_amount"`
}

type ItemView struct {
	ID             string `json:"id"`
	VariantID      string `json:"variant_id"`
	ProductID      string `json:"product_id"`
	ProductTitle   string `json:"product_title"`
	VariantTitle   string `json:"variant_title"`
	Currency       string `json:"currency"`
	UnitPrice      int64  `json:"unit_price"`
	Quantity       int    `json:"quantity"`
	Subtotal       int64  `json:"subtotal"`
	AvailableStock int    `json:"available_stock"`
}

// EmptyView is the well-defined value for a user with no open cart.
func EmptyView(userID string) View {
	return View{UserID: userID, Items: []ItemView{}}
}

// CacheKey is the read-through cache key for a user's cart view.
func CacheKey(userID string) string {
	return "cart:user:" + userID
}
