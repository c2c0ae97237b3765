package domain

import (
	"context"
	"time"
)

// QuoteCache mirrors the latest normalized quote per (venue, symbol) so
// external monitors can read prices without touching the in-process book.
type QuoteCache interface {
	SetQuote(ctx context.Context, q Quote) error
	GetQuote(ctx context.Context, venue, symbol string) (Quote, error)
	GetVenueQuotes(ctx context.Context, symbol string) ([]Quote, error)
}

// StreamMessage is a single durable bus message.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus is ephemeral pub/sub plus a durable, ordered stream. The engine
// publishes its structured events through it; consumers (monitors, dashboards)
// make no assumption about the transport.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// LockManager provides distributed mutual exclusion so that at most one
// process runs the trade cycle against shared capital at a time.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
