package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other side, used when building an unwind order.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// LegState tracks one leg's order lifecycle at its venue.
type LegState string

const (
	LegSubmitted       LegState = "submitted"
	LegAcknowledged    LegState = "acknowledged"
	LegPartiallyFilled LegState = "partially_filled"
	LegFilled          LegState = "filled"
	LegRejected        LegState = "rejected"
	LegCancelled       LegState = "cancelled"
)

// Terminal reports whether the leg can no longer produce fills.
func (s LegState) Terminal() bool {
	switch s {
	case LegFilled, LegRejected, LegCancelled:
		return true
	default:
		return false
	}
}

// Leg is one side of a two-sided arbitrage execution, placed at a specific
// venue. Owned exclusively by the execution coordinator of its transaction.
type Leg struct {
	OrderID      string
	Venue        string
	Symbol       string
	Side         OrderSide
	Quantity     float64
	LimitPrice   float64
	State        LegState
	FilledQty    float64
	AvgFillPrice float64
	SubmittedAt  time.Time
	CompletedAt  time.Time
}

// Filled reports whether the leg ended with its full quantity executed.
func (l Leg) Filled() bool { return l.State == LegFilled }
