// Package sim provides an in-process venue for paper trading: a random-walk
// quote feed and a broker with configurable fill behaviour. It lets the whole
// pipeline run end to end with no external venue connectivity.
package sim

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// FeedConfig controls the synthetic quote stream for one venue.
type FeedConfig struct {
	Venue        string
	Interval     time.Duration // time between ticks per symbol
	BasePrice    float64       // starting mid price
	Drift        float64       // max per-tick mid move, fraction of mid
	Spread       float64       // half-spread, fraction of mid
	Skew         float64       // constant venue bias, fraction of mid
	MinSize      float64
	MaxSize      float64
	MalformedPct float64 // fraction of ticks emitted with a crossed book
	Seed         int64
}

func (c *FeedConfig) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = 100 * time.Millisecond
	}
	if c.BasePrice <= 0 {
		c.BasePrice = 100
	}
	if c.Drift <= 0 {
		c.Drift = 0.001
	}
	if c.Spread <= 0 {
		c.Spread = 0.0005
	}
	if c.MinSize <= 0 {
		c.MinSize = 1
	}
	if c.MaxSize < c.MinSize {
		c.MaxSize = c.MinSize * 10
	}
}

// Feed is a synthetic quote source implementing domain.Feed. Each symbol
// follows an independent random walk around the configured base price; the
// venue skew makes cross-venue spreads appear and disappear over time.
type Feed struct {
	cfg    FeedConfig
	logger *slog.Logger

	mu   sync.Mutex
	rng  *rand.Rand
	mids map[string]float64
}

// NewFeed creates a synthetic feed for one venue.
func NewFeed(cfg FeedConfig, logger *slog.Logger) *Feed {
	cfg.setDefaults()
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Feed{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "sim_feed"), slog.String("venue", cfg.Venue)),
		rng:    rand.New(rand.NewSource(seed)),
		mids:   make(map[string]float64),
	}
}

// Venue returns the simulated venue identifier.
func (f *Feed) Venue() string { return f.cfg.Venue }

// Subscribe starts one generator goroutine producing ticks for all symbols on
// a shared channel. The channel closes when ctx is cancelled.
func (f *Feed) Subscribe(ctx context.Context, symbols []string) (<-chan domain.RawTick, error) {
	out := make(chan domain.RawTick, 64)
	f.mu.Lock()
	for _, sym := range symbols {
		if _, ok := f.mids[sym]; !ok {
			f.mids[sym] = f.cfg.BasePrice * (1 + f.cfg.Skew)
		}
	}
	f.mu.Unlock()

	go func() {
		defer close(out)
		ticker := time.NewTicker(f.cfg.Interval)
		defer ticker.Stop()
		f.logger.Info("synthetic feed started", slog.Int("symbols", len(symbols)))
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, sym := range symbols {
					select {
					case out <- f.nextTick(sym):
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}

// nextTick advances the symbol's random walk one step and renders a quote.
func (f *Feed) nextTick(symbol string) domain.RawTick {
	f.mu.Lock()
	defer f.mu.Unlock()

	mid := f.mids[symbol]
	mid *= 1 + (f.rng.Float64()*2-1)*f.cfg.Drift
	if floor := f.cfg.BasePrice * 0.5; mid < floor {
		mid = floor
	}
	f.mids[symbol] = mid

	half := mid * f.cfg.Spread
	bid := mid - half
	ask := mid + half
	if f.cfg.MalformedPct > 0 && f.rng.Float64() < f.cfg.MalformedPct {
		bid, ask = ask, bid
	}

	size := func() float64 {
		return f.cfg.MinSize + f.rng.Float64()*(f.cfg.MaxSize-f.cfg.MinSize)
	}
	return domain.RawTick{
		Venue:     f.cfg.Venue,
		Symbol:    symbol,
		BidPrice:  bid,
		BidSize:   size(),
		AskPrice:  ask,
		AskSize:   size(),
		Timestamp: time.Now(),
	}
}

var _ domain.Feed = (*Feed)(nil)
