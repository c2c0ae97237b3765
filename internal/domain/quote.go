package domain

import "time"

// Quote is the canonical, normalized view of one venue's market for a symbol.
// A Quote is immutable once created; a newer observation supersedes it in the
// consolidated book, it is never mutated in place.
type Quote struct {
	Venue      string
	Symbol     string
	BidPrice   float64
	BidSize    float64
	AskPrice   float64
	AskSize    float64
	ObservedAt time.Time
}

// RawTick is the venue-shaped input to the normalizer. Feeds deliver it as-is;
// validation happens in the normalizer, never in the feed.
type RawTick struct {
	Venue     string
	Symbol    string
	BidPrice  float64
	BidSize   float64
	AskPrice  float64
	AskSize   float64
	Timestamp time.Time
}

// BestQuote is the answer to a best-crossed query: the highest bid and lowest
// ask for a symbol across all venues holding a non-stale quote.
type BestQuote struct {
	Symbol        string
	BidVenue      string
	BidPrice      float64
	BidSize       float64
	AskVenue      string
	AskPrice      float64
	AskSize       float64
	BidObservedAt time.Time
	AskObservedAt time.Time
}
