package sim

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

func buyOrder() domain.OrderRequest {
	return domain.OrderRequest{
		Venue:      "sim-alpha",
		Symbol:     "BTC-USD",
		Side:       domain.OrderSideBuy,
		Quantity:   10,
		LimitPrice: 100,
	}
}

// fullFillBroker always fills, with a pinned clock so resolution is driven by
// the test instead of real sleeps.
func fullFillBroker(t *testing.T) (*Broker, *time.Time) {
	t.Helper()
	b := NewBroker(BrokerConfig{
		Venue:     "sim-alpha",
		FillDelay: 50 * time.Millisecond,
		FillPct:   1,
		Seed:      1,
	}, slog.Default())
	now := time.Now()
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBroker_FillAfterDelay(t *testing.T) {
	b, now := fullFillBroker(t)
	ctx := context.Background()

	h, err := b.SubmitOrder(ctx, buyOrder())
	require.NoError(t, err)
	assert.Equal(t, "sim-alpha", h.Venue)
	assert.NotEmpty(t, h.OrderID)

	// Before the fill delay the order is merely acknowledged.
	st, err := b.PollFillStatus(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, domain.LegAcknowledged, st.State)
	assert.Zero(t, st.FilledQty)

	*now = now.Add(60 * time.Millisecond)
	st, err = b.PollFillStatus(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, domain.LegFilled, st.State)
	assert.Equal(t, 10.0, st.FilledQty)
	// SlipFrac is zero, so the fill lands exactly on the limit.
	assert.Equal(t, 100.0, st.AvgFillPrice)
}

func TestBroker_AlwaysReject(t *testing.T) {
	b := NewBroker(BrokerConfig{Venue: "sim-alpha", RejectPct: 1, Seed: 1}, slog.Default())

	_, err := b.SubmitOrder(context.Background(), buyOrder())
	require.Error(t, err)
	var berr *domain.BrokerError
	require.True(t, errors.As(err, &berr))
	assert.Equal(t, "rejected", berr.Code)
}

func TestBroker_PartialFill(t *testing.T) {
	b := NewBroker(BrokerConfig{
		Venue:      "sim-alpha",
		FillDelay:  time.Millisecond,
		PartialPct: 1,
		Seed:       1,
	}, slog.Default())
	now := time.Now()
	b.now = func() time.Time { return now }
	ctx := context.Background()

	h, err := b.SubmitOrder(ctx, buyOrder())
	require.NoError(t, err)

	now = now.Add(time.Second)
	st, err := b.PollFillStatus(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, domain.LegPartiallyFilled, st.State)
	assert.Greater(t, st.FilledQty, 0.0)
	assert.Less(t, st.FilledQty, 10.0)
}

func TestBroker_CancelBeforeResolution(t *testing.T) {
	b, now := fullFillBroker(t)
	ctx := context.Background()

	h, err := b.SubmitOrder(ctx, buyOrder())
	require.NoError(t, err)

	require.NoError(t, b.Cancel(ctx, h))

	// Even past the fill delay, a cancelled order never fills.
	*now = now.Add(time.Second)
	st, err := b.PollFillStatus(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, domain.LegCancelled, st.State)
	assert.Zero(t, st.FilledQty)
}

func TestBroker_CancelAfterResolutionLoses(t *testing.T) {
	b, now := fullFillBroker(t)
	ctx := context.Background()

	h, err := b.SubmitOrder(ctx, buyOrder())
	require.NoError(t, err)

	*now = now.Add(time.Second)
	require.NoError(t, b.Cancel(ctx, h))

	st, err := b.PollFillStatus(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, domain.LegFilled, st.State)
	assert.Equal(t, 10.0, st.FilledQty)
}

func TestBroker_UnknownOrder(t *testing.T) {
	b, _ := fullFillBroker(t)
	_, err := b.PollFillStatus(context.Background(), domain.OrderHandle{Venue: "sim-alpha", OrderID: "nope"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
