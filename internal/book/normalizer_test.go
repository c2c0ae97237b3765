package book

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// captureSink records emitted events for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []string
}

func (s *captureSink) Emit(event string, _ map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *captureSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func validTick() domain.RawTick {
	return domain.RawTick{
		Venue:     "alpha",
		Symbol:    "BTC-USD",
		BidPrice:  100.0,
		BidSize:   5,
		AskPrice:  100.2,
		AskSize:   5,
		Timestamp: time.Now(),
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.RawTick)
		ok     bool
	}{
		{"valid", func(*domain.RawTick) {}, true},
		{"missing venue", func(r *domain.RawTick) { r.Venue = "" }, false},
		{"missing symbol", func(r *domain.RawTick) { r.Symbol = "" }, false},
		{"zero bid", func(r *domain.RawTick) { r.BidPrice = 0 }, false},
		{"negative ask", func(r *domain.RawTick) { r.AskPrice = -1 }, false},
		{"zero bid size", func(r *domain.RawTick) { r.BidSize = 0 }, false},
		{"zero ask size", func(r *domain.RawTick) { r.AskSize = 0 }, false},
		{"crossed", func(r *domain.RawTick) { r.BidPrice = 100.5; r.AskPrice = 100.2 }, false},
		{"locked", func(r *domain.RawTick) { r.BidPrice = 100.2; r.AskPrice = 100.2 }, false},
		{"zero timestamp", func(r *domain.RawTick) { r.Timestamp = time.Time{} }, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tick := validTick()
			tc.mutate(&tick)

			q, err := Normalize(tick)
			if !tc.ok {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrMalformedTick)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tick.Venue, q.Venue)
			assert.Equal(t, tick.Timestamp, q.ObservedAt)
		})
	}
}

func TestNormalizer_HandleDropsMalformed(t *testing.T) {
	b := New(2 * time.Second)
	sink := &captureSink{}
	n := NewNormalizer(b, sink, slog.Default())

	tick := validTick()
	tick.AskPrice = tick.BidPrice // crossed

	assert.False(t, n.Handle(tick))
	assert.Equal(t, []string{domain.EventQuoteDropped}, sink.names())

	// Nothing reached the book.
	_, ok := b.Quote("alpha", "BTC-USD")
	assert.False(t, ok)
}

func TestNormalizer_HandleDropsOutOfOrder(t *testing.T) {
	b := New(2 * time.Second)
	sink := &captureSink{}
	n := NewNormalizer(b, sink, slog.Default())

	tick := validTick()
	require.True(t, n.Handle(tick))

	older := tick
	older.Timestamp = tick.Timestamp.Add(-time.Second)
	older.BidPrice = 99.0
	assert.False(t, n.Handle(older))

	// Out-of-order is silent on the event sink, only malformed ticks emit.
	assert.Empty(t, sink.names())

	q, ok := b.Quote("alpha", "BTC-USD")
	require.True(t, ok)
	assert.Equal(t, 100.0, q.BidPrice)
}
