package domain

import "time"

// Movement reasons. The movement log is append-only: summing deltas for a
// variant reconciles against its current stock.
const (
	ReasonOrderPlaced = "ORDER_PLACED"
	ReasonRestock     = "RESTOCK"
)

// Movement records one stock change and its cause. RefID links the movement
// to the order or operation that caused it.
type Movement struct {
	ID        string
	VariantID string
	Delta     int
	Reason    string
	RefID     string
	CreatedAt time.Time
}
