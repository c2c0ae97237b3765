package domain

import (
	"context"
	"fmt"
)

// OrderRequest describes a marketable limit order for one leg.
type OrderRequest struct {
	Venue      string
	Symbol     string
	Side       OrderSide
	Quantity   float64
	LimitPrice float64
}

// OrderHandle identifies a submitted order at its venue for polling/cancel.
type OrderHandle struct {
	Venue   string
	OrderID string
}

// FillStatus is the broker's view of an order when polled.
type FillStatus struct {
	State        LegState
	FilledQty    float64
	AvgFillPrice float64
}

// Broker is the narrow contract the execution coordinator depends on. Venue
// client implementations (authentication, rate limiting, wire formats) live
// behind it and are never referenced directly by the core.
type Broker interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderHandle, error)
	PollFillStatus(ctx context.Context, h OrderHandle) (FillStatus, error)
	Cancel(ctx context.Context, h OrderHandle) error
}

// BrokerError is a rejection or failure reported by a venue. It is non-fatal
// to the process but drives the unwind protocol.
type BrokerError struct {
	Venue     string
	Code      string
	Message   string
	Retryable bool
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker %s: %s: %s", e.Venue, e.Code, e.Message)
}

// Feed is the market data collaborator: a stream of raw ticks for the given
// symbols. Reconnection and backoff are the implementation's responsibility;
// the core only requires per-connection ordering (cross-connection reordering
// is handled by the normalizer's monotonicity discard).
type Feed interface {
	Venue() string
	Subscribe(ctx context.Context, symbols []string) (<-chan RawTick, error)
}
