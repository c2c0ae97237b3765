// Package detect scans the consolidated book for cross-venue spreads that
// survive the modeled round-trip costs and emits candidate opportunities.
package detect

// CostModel estimates round-trip execution costs for a two-leg trade: a flat
// per-venue fee in basis points of notional on each leg, plus a slippage
// fraction of the gross spread. The model is supplied by configuration, the
// detector never infers one.
type CostModel struct {
	PerVenueFeeBps map[string]float64
	DefaultFeeBps  float64
	SlippageFrac   float64
}

// feeBps returns the configured fee for a venue, falling back to the default.
func (m CostModel) feeBps(venue string) float64 {
	if bps, ok := m.PerVenueFeeBps[venue]; ok {
		return bps
	}
	return m.DefaultFeeBps
}

// RoundTripCost returns the estimated per-unit cost of buying qty at buyPrice
// on buyVenue and selling at sellPrice on sellVenue.
func (m CostModel) RoundTripCost(buyVenue, sellVenue string, buyPrice, sellPrice float64) float64 {
	buyFee := buyPrice * m.feeBps(buyVenue) / 10000
	sellFee := sellPrice * m.feeBps(sellVenue) / 10000
	slippage := (sellPrice - buyPrice) * m.SlippageFrac
	if slippage < 0 {
		slippage = 0
	}
	return buyFee + sellFee + slippage
}
