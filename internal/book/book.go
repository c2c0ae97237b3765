package book

import (
	"sync"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Book is the consolidated cross-venue book: at most one Quote per
// (venue, symbol), always the one with the highest ObservedAt seen so far.
// Many feed goroutines ingest concurrently while the detector reads; all
// access goes through the methods below, readers never observe a torn entry.
type Book struct {
	staleness time.Duration

	mu     sync.RWMutex
	quotes map[string]map[string]domain.Quote // symbol -> venue -> quote
}

// New creates a Book. Quotes older than staleness relative to the query time
// are excluded from BestCrossed (treated as absent, not deleted).
func New(staleness time.Duration) *Book {
	return &Book{
		staleness: staleness,
		quotes:    make(map[string]map[string]domain.Quote),
	}
}

// Ingest stores q unless a quote with an equal or newer ObservedAt is already
// held for (venue, symbol). It returns true when the quote was applied.
func (b *Book) Ingest(q domain.Quote) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	byVenue, ok := b.quotes[q.Symbol]
	if !ok {
		byVenue = make(map[string]domain.Quote)
		b.quotes[q.Symbol] = byVenue
	}
	if prev, ok := byVenue[q.Venue]; ok && !q.ObservedAt.After(prev.ObservedAt) {
		return false
	}
	byVenue[q.Venue] = q
	return true
}

// Quote returns the stored quote for (venue, symbol), stale or not.
func (b *Book) Quote(venue, symbol string) (domain.Quote, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.quotes[symbol][venue]
	return q, ok
}

// Snapshot returns all stored quotes for a symbol, including stale ones.
func (b *Book) Snapshot(symbol string) []domain.Quote {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.Quote, 0, len(b.quotes[symbol]))
	for _, q := range b.quotes[symbol] {
		out = append(out, q)
	}
	return out
}

// BestCrossed returns the highest bid and lowest ask for symbol across all
// venues holding a non-stale quote at now. The second return is false when
// fewer than one fresh bid and one fresh ask exist.
func (b *Book) BestCrossed(symbol string, now time.Time) (domain.BestQuote, bool) {
	cutoff := now.Add(-b.staleness)

	b.mu.RLock()
	defer b.mu.RUnlock()

	best := domain.BestQuote{Symbol: symbol}
	for venue, q := range b.quotes[symbol] {
		if q.ObservedAt.Before(cutoff) {
			continue
		}
		if best.BidVenue == "" || q.BidPrice > best.BidPrice {
			best.BidVenue = venue
			best.BidPrice = q.BidPrice
			best.BidSize = q.BidSize
			best.BidObservedAt = q.ObservedAt
		}
		if best.AskVenue == "" || q.AskPrice < best.AskPrice {
			best.AskVenue = venue
			best.AskPrice = q.AskPrice
			best.AskSize = q.AskSize
			best.AskObservedAt = q.ObservedAt
		}
	}
	if best.BidVenue == "" || best.AskVenue == "" {
		return domain.BestQuote{}, false
	}
	return best, true
}
