// Package book holds the quote normalizer and the consolidated cross-venue
// book: the single shared view of the latest valid quote per (venue, symbol).
package book

import (
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Normalize converts a raw venue tick into a canonical Quote. It returns
// domain.ErrMalformedTick (wrapped with the offending field) when the tick
// cannot be trusted: missing identifiers, non-positive prices or sizes, a
// self-crossed market, or a zero timestamp. Out-of-order ticks are not its
// concern; the book's ingest path discards those.
func Normalize(t domain.RawTick) (domain.Quote, error) {
	switch {
	case t.Venue == "" || t.Symbol == "":
		return domain.Quote{}, fmt.Errorf("%w: missing venue or symbol", domain.ErrMalformedTick)
	case t.BidPrice <= 0 || t.AskPrice <= 0:
		return domain.Quote{}, fmt.Errorf("%w: non-positive price (bid=%f ask=%f)", domain.ErrMalformedTick, t.BidPrice, t.AskPrice)
	case t.BidSize <= 0 || t.AskSize <= 0:
		return domain.Quote{}, fmt.Errorf("%w: non-positive size (bid=%f ask=%f)", domain.ErrMalformedTick, t.BidSize, t.AskSize)
	case t.BidPrice >= t.AskPrice:
		return domain.Quote{}, fmt.Errorf("%w: crossed market (bid=%f >= ask=%f)", domain.ErrMalformedTick, t.BidPrice, t.AskPrice)
	case t.Timestamp.IsZero():
		return domain.Quote{}, fmt.Errorf("%w: zero timestamp", domain.ErrMalformedTick)
	}

	return domain.Quote{
		Venue:      t.Venue,
		Symbol:     t.Symbol,
		BidPrice:   t.BidPrice,
		BidSize:    t.BidSize,
		AskPrice:   t.AskPrice,
		AskSize:    t.AskSize,
		ObservedAt: t.Timestamp,
	}, nil
}

// Normalizer validates raw ticks and feeds the consolidated book. Malformed
// and out-of-order ticks are logged and dropped; the feed is never blocked
// and never sees an error.
type Normalizer struct {
	book   *Book
	sink   domain.EventSink
	logger *slog.Logger
}

// NewNormalizer creates a normalizer writing into the given book.
func NewNormalizer(book *Book, sink domain.EventSink, logger *slog.Logger) *Normalizer {
	if sink == nil {
		sink = domain.NopSink{}
	}
	return &Normalizer{
		book:   book,
		sink:   sink,
		logger: logger.With(slog.String("component", "normalizer")),
	}
}

// Handle processes one raw tick. It returns true when the tick was applied to
// the book, false when it was dropped (malformed or out of order).
func (n *Normalizer) Handle(t domain.RawTick) bool {
	q, err := Normalize(t)
	if err != nil {
		n.logger.Warn("tick dropped",
			slog.String("venue", t.Venue),
			slog.String("symbol", t.Symbol),
			slog.String("error", err.Error()),
		)
		n.sink.Emit(domain.EventQuoteDropped, map[string]any{
			"venue":  t.Venue,
			"symbol": t.Symbol,
			"reason": err.Error(),
		})
		return false
	}
	if !n.book.Ingest(q) {
		// Superseded by a newer observation; silent per-tick, debug only.
		n.logger.Debug("tick discarded",
			slog.String("venue", q.Venue),
			slog.String("symbol", q.Symbol),
			slog.String("reason", domain.ErrStaleTick.Error()),
			slog.Time("observed_at", q.ObservedAt),
		)
		return false
	}
	return true
}
