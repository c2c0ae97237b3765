package domain

import "time"

// Opportunity is a detected cross-venue price discrepancy: buy on BuyVenue at
// BuyPrice (its best ask), sell on SellVenue at SellPrice (its best bid).
// Opportunities are immutable, produced once by the detector and consumed once
// by the risk ledger's authorization step. Past ExpiresAt an opportunity is
// stale and must be discarded, never executed.
type Opportunity struct {
	ID                 string
	Symbol             string
	BuyVenue           string
	SellVenue          string
	BuyPrice           float64
	SellPrice          float64
	MaxQuantity        float64
	EstimatedNetProfit float64
	DetectedAt         time.Time
	ExpiresAt          time.Time
}

// Expired reports whether the opportunity's validity window has passed.
func (o Opportunity) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// GrossSpread is the raw per-unit edge before costs.
func (o Opportunity) GrossSpread() float64 {
	return o.SellPrice - o.BuyPrice
}
