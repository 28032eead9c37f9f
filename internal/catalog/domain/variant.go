package domain

// Variant is a purchasable SKU-level unit. Price is in minor currency units
// (e.g. cents); variants referenced by an order line are never mutated, order
// items snapshot their fields instead.
type Variant struct {
	ID           string
	ProductID    string
	SKU          string
	ProductTitle string
	Title        string
	Currency     string
	PriceMinor   int64
}
