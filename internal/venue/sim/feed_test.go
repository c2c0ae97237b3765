package sim

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeed_ProducesWellFormedTicks(t *testing.T) {
	f := NewFeed(FeedConfig{
		Venue:     "sim-alpha",
		Interval:  time.Millisecond,
		BasePrice: 100,
		Drift:     0.001,
		Spread:    0.0005,
		MinSize:   1,
		MaxSize:   10,
		Seed:      1,
	}, slog.Default())
	assert.Equal(t, "sim-alpha", f.Venue())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks, err := f.Subscribe(ctx, []string{"BTC-USD", "ETH-USD"})
	require.NoError(t, err)

	seen := make(map[string]int)
	for i := 0; i < 20; i++ {
		select {
		case tick := <-ticks:
			assert.Equal(t, "sim-alpha", tick.Venue)
			assert.Contains(t, []string{"BTC-USD", "ETH-USD"}, tick.Symbol)
			assert.Less(t, tick.BidPrice, tick.AskPrice)
			assert.GreaterOrEqual(t, tick.BidSize, 1.0)
			assert.LessOrEqual(t, tick.BidSize, 10.0)
			assert.False(t, tick.Timestamp.IsZero())
			seen[tick.Symbol]++
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for tick")
		}
	}
	assert.Len(t, seen, 2)
}

func TestFeed_SkewShiftsMid(t *testing.T) {
	f := NewFeed(FeedConfig{
		Venue:     "sim-beta",
		Interval:  time.Millisecond,
		BasePrice: 100,
		Drift:     0.0001,
		Spread:    0.0005,
		Skew:      0.05,
		Seed:      1,
	}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks, err := f.Subscribe(ctx, []string{"BTC-USD"})
	require.NoError(t, err)

	select {
	case tick := <-ticks:
		mid := (tick.BidPrice + tick.AskPrice) / 2
		// The walk starts at base*(1+skew) and moves at most drift per step.
		assert.InDelta(t, 105.0, mid, 105.0*0.001)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tick")
	}
}

func TestFeed_MalformedTicksCrossTheBook(t *testing.T) {
	f := NewFeed(FeedConfig{
		Venue:        "sim-alpha",
		Interval:     time.Millisecond,
		BasePrice:    100,
		MalformedPct: 1,
		Seed:         1,
	}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks, err := f.Subscribe(ctx, []string{"BTC-USD"})
	require.NoError(t, err)

	select {
	case tick := <-ticks:
		// With MalformedPct=1 every tick arrives self-crossed, the shape the
		// normalizer must refuse.
		assert.Greater(t, tick.BidPrice, tick.AskPrice)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tick")
	}
}

func TestFeed_ChannelClosesOnCancel(t *testing.T) {
	f := NewFeed(FeedConfig{Venue: "sim-alpha", Interval: time.Millisecond, Seed: 1}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	ticks, err := f.Subscribe(ctx, []string{"BTC-USD"})
	require.NoError(t, err)
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ticks:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("tick channel never closed")
		}
	}
}
