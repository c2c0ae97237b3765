package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

func testOpportunity(id string, qty, buyPrice float64) domain.Opportunity {
	now := time.Now()
	return domain.Opportunity{
		ID:          id,
		Symbol:      "BTC-USD",
		BuyVenue:    "alpha",
		SellVenue:   "beta",
		BuyPrice:    buyPrice,
		SellPrice:   buyPrice + 0.5,
		MaxQuantity: qty,
		DetectedAt:  now,
		ExpiresAt:   now.Add(500 * time.Millisecond),
	}
}

func newTestLedger(limits Limits) *Ledger {
	return NewLedger(limits, nil, slog.Default())
}

func TestLedger_AuthorizeCommitsCapital(t *testing.T) {
	l := newTestLedger(Limits{PerSymbolCapital: 10_000, GlobalCapital: 50_000})

	opp := testOpportunity("opp-1", 10, 100)
	res, denial := l.Authorize(opp, time.Now())
	require.Nil(t, denial)

	assert.Equal(t, "opp-1", res.OpportunityID)
	assert.Equal(t, domain.ReservationHeld, res.State)
	assert.Equal(t, 1000.0, res.CapitalCommitted)
	assert.Equal(t, 1000.0, l.CommittedCapital("BTC-USD"))
	assert.Equal(t, 1000.0, l.GlobalCommitted())
}

func TestLedger_AuthorizeExpiredDenied(t *testing.T) {
	l := newTestLedger(Limits{PerSymbolCapital: 10_000, GlobalCapital: 50_000})

	opp := testOpportunity("opp-1", 10, 100)
	_, denial := l.Authorize(opp, opp.ExpiresAt.Add(time.Millisecond))
	require.NotNil(t, denial)
	assert.Equal(t, domain.DenialExpired, denial.Reason)
	assert.Zero(t, l.GlobalCommitted())
}

func TestLedger_AuthorizePerSymbolLimit(t *testing.T) {
	l := newTestLedger(Limits{PerSymbolCapital: 1500, GlobalCapital: 50_000})
	now := time.Now()

	_, denial := l.Authorize(testOpportunity("opp-1", 10, 100), now)
	require.Nil(t, denial)

	// A second 1000 against a 1500 per-symbol limit must be refused.
	_, denial = l.Authorize(testOpportunity("opp-2", 10, 100), now)
	require.NotNil(t, denial)
	assert.Equal(t, domain.DenialLimitExceeded, denial.Reason)
	assert.Equal(t, 1000.0, l.CommittedCapital("BTC-USD"))
}

func TestLedger_AuthorizeGlobalLimit(t *testing.T) {
	l := newTestLedger(Limits{PerSymbolCapital: 5000, GlobalCapital: 1500})
	now := time.Now()

	_, denial := l.Authorize(testOpportunity("opp-1", 10, 100), now)
	require.Nil(t, denial)

	_, denial = l.Authorize(testOpportunity("opp-2", 10, 100), now)
	require.NotNil(t, denial)
	assert.Equal(t, domain.DenialInsufficientCapital, denial.Reason)
}

func TestLedger_AuthorizeDuplicateReservation(t *testing.T) {
	l := newTestLedger(Limits{PerSymbolCapital: 10_000, GlobalCapital: 50_000})
	now := time.Now()

	opp := testOpportunity("opp-1", 10, 100)
	_, denial := l.Authorize(opp, now)
	require.Nil(t, denial)

	_, denial = l.Authorize(opp, now)
	require.NotNil(t, denial)
	assert.Equal(t, 1000.0, l.GlobalCommitted())
}

// Two concurrent authorizations against capital that can only fund one must
// never jointly over-commit, regardless of interleaving.
func TestLedger_ConcurrentAuthorizationNeverOvercommits(t *testing.T) {
	const (
		workers  = 32
		capital  = 1000.0 // per opportunity
		limit    = 5000.0 // funds exactly 5
		expected = 5
	)
	l := newTestLedger(Limits{PerSymbolCapital: limit, GlobalCapital: limit})
	now := time.Now()

	var wg sync.WaitGroup
	granted := make(chan domain.Reservation, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			opp := testOpportunity(fmt.Sprintf("opp-%d", i), 10, capital/10)
			if res, denial := l.Authorize(opp, now); denial == nil {
				granted <- res
			}
		}(i)
	}
	wg.Wait()
	close(granted)

	var count int
	for range granted {
		count++
	}
	assert.Equal(t, expected, count)
	assert.Equal(t, limit, l.GlobalCommitted())
}

func TestLedger_ReleaseFreesCapitalOnce(t *testing.T) {
	l := newTestLedger(Limits{PerSymbolCapital: 10_000, GlobalCapital: 50_000})
	now := time.Now()

	opp := testOpportunity("opp-1", 10, 100)
	_, denial := l.Authorize(opp, now)
	require.Nil(t, denial)
	require.Equal(t, 1000.0, l.GlobalCommitted())

	l.Release("opp-1", ReleaseOutcome{})
	assert.Zero(t, l.GlobalCommitted())
	assert.Zero(t, l.CommittedCapital("BTC-USD"))

	// Releasing again, or releasing an unknown id, is a no-op.
	l.Release("opp-1", ReleaseOutcome{})
	l.Release("never-existed", ReleaseOutcome{})
	assert.Zero(t, l.GlobalCommitted())
}

func TestLedger_ReleaseAppliesFills(t *testing.T) {
	l := newTestLedger(Limits{PerSymbolCapital: 10_000, GlobalCapital: 50_000})
	now := time.Now()

	_, denial := l.Authorize(testOpportunity("opp-1", 10, 100), now)
	require.Nil(t, denial)

	l.Release("opp-1", ReleaseOutcome{
		Fills: []Fill{
			{Venue: "alpha", Symbol: "BTC-USD", Side: domain.OrderSideBuy, Quantity: 10, Price: 100},
			{Venue: "beta", Symbol: "BTC-USD", Side: domain.OrderSideSell, Quantity: 10, Price: 100.5},
		},
		RealizedPnL: 5,
	})

	long := l.Position("alpha", "BTC-USD")
	assert.Equal(t, 10.0, long.Quantity)
	assert.Equal(t, 100.0, long.AverageCost)

	short := l.Position("beta", "BTC-USD")
	assert.Equal(t, -10.0, short.Quantity)

	assert.Len(t, l.Positions(), 2)
}

func TestLedger_NetQuantityLimit(t *testing.T) {
	l := newTestLedger(Limits{PerSymbolCapital: 100_000, GlobalCapital: 100_000, PerSymbolNetQty: 15})
	now := time.Now()

	// Seed an existing long of 10 on alpha via a released fill.
	_, denial := l.Authorize(testOpportunity("seed", 10, 100), now)
	require.Nil(t, denial)
	l.Release("seed", ReleaseOutcome{Fills: []Fill{
		{Venue: "alpha", Symbol: "BTC-USD", Side: domain.OrderSideBuy, Quantity: 10, Price: 100},
	}})

	// Another 10 on alpha would project net 20 > 15.
	_, denial = l.Authorize(testOpportunity("opp-2", 10, 100), now)
	require.NotNil(t, denial)
	assert.Equal(t, domain.DenialLimitExceeded, denial.Reason)

	// 4 keeps both projections within the limit.
	_, denial = l.Authorize(testOpportunity("opp-3", 4, 100), now)
	assert.Nil(t, denial)
}

func TestLedger_WeightedAverageCost(t *testing.T) {
	l := newTestLedger(Limits{PerSymbolCapital: 100_000, GlobalCapital: 100_000})
	now := time.Now()

	for i, price := range []float64{100, 110} {
		id := fmt.Sprintf("opp-%d", i)
		_, denial := l.Authorize(testOpportunity(id, 10, price), now)
		require.Nil(t, denial)
		l.Release(id, ReleaseOutcome{Fills: []Fill{
			{Venue: "alpha", Symbol: "BTC-USD", Side: domain.OrderSideBuy, Quantity: 10, Price: price},
		}})
	}

	pos := l.Position("alpha", "BTC-USD")
	assert.Equal(t, 20.0, pos.Quantity)
	assert.InDelta(t, 105.0, pos.AverageCost, 1e-9)
}
