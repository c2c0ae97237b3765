package exec

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/risk"
)

// orderScript decides how one submitted order behaves: it reports
// acknowledged until resolveAfter has elapsed, then the final status.
type orderScript struct {
	resolveAfter time.Duration
	final        domain.FillStatus
}

// fakeBroker is a scripted venue. Successive SubmitOrder calls consume
// successive scripts; the last script repeats.
type fakeBroker struct {
	venue     string
	submitErr error

	mu       sync.Mutex
	seq      int
	scripts  []orderScript
	orders   map[string]fakeOrder
	cancels  int
	requests []domain.OrderRequest
}

type fakeOrder struct {
	at     time.Time
	script orderScript
}

func newFakeBroker(venue string, scripts ...orderScript) *fakeBroker {
	return &fakeBroker{
		venue:   venue,
		scripts: scripts,
		orders:  make(map[string]fakeOrder),
	}
}

func (b *fakeBroker) SubmitOrder(_ context.Context, req domain.OrderRequest) (domain.OrderHandle, error) {
	if b.submitErr != nil {
		return domain.OrderHandle{}, b.submitErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.seq
	if idx >= len(b.scripts) {
		idx = len(b.scripts) - 1
	}
	b.seq++
	id := fmt.Sprintf("%s-%d", b.venue, b.seq)
	b.orders[id] = fakeOrder{at: time.Now(), script: b.scripts[idx]}
	b.requests = append(b.requests, req)
	return domain.OrderHandle{Venue: b.venue, OrderID: id}, nil
}

func (b *fakeBroker) PollFillStatus(_ context.Context, h domain.OrderHandle) (domain.FillStatus, error) {
	b.mu.Lock()
	o, ok := b.orders[h.OrderID]
	b.mu.Unlock()
	if !ok {
		return domain.FillStatus{}, domain.ErrNotFound
	}
	if time.Since(o.at) < o.script.resolveAfter {
		return domain.FillStatus{State: domain.LegAcknowledged}, nil
	}
	return o.script.final, nil
}

func (b *fakeBroker) Cancel(context.Context, domain.OrderHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancels++
	return nil
}

func (b *fakeBroker) submitted() []domain.OrderRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.OrderRequest(nil), b.requests...)
}

func (b *fakeBroker) cancelsSeen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancels
}

// fakeReleaser records every Release call.
type fakeReleaser struct {
	mu    sync.Mutex
	ids   []string
	calls []risk.ReleaseOutcome
}

func (r *fakeReleaser) Release(id string, out risk.ReleaseOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	r.calls = append(r.calls, out)
}

func (r *fakeReleaser) outcomes() []risk.ReleaseOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]risk.ReleaseOutcome(nil), r.calls...)
}

// recordSink captures emitted events with their fields.
type recordSink struct {
	mu     sync.Mutex
	events []string
	fields []map[string]any
}

func (s *recordSink) Emit(event string, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	s.fields = append(s.fields, fields)
}

func (s *recordSink) count(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e == event {
			n++
		}
	}
	return n
}

func (s *recordSink) fieldsOf(event string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []map[string]any
	for i, e := range s.events {
		if e == event {
			out = append(out, s.fields[i])
		}
	}
	return out
}

func filled(qty, price float64) domain.FillStatus {
	return domain.FillStatus{State: domain.LegFilled, FilledQty: qty, AvgFillPrice: price}
}

func rejected() domain.FillStatus {
	return domain.FillStatus{State: domain.LegRejected}
}

func execOpportunity() (domain.Opportunity, domain.Reservation) {
	now := time.Now()
	opp := domain.Opportunity{
		ID:          "opp-1",
		Symbol:      "BTC-USD",
		BuyVenue:    "alpha",
		SellVenue:   "beta",
		BuyPrice:    100.0,
		SellPrice:   100.5,
		MaxQuantity: 10,
		DetectedAt:  now,
		ExpiresAt:   now.Add(500 * time.Millisecond),
	}
	res := domain.Reservation{
		OpportunityID:    opp.ID,
		Symbol:           opp.Symbol,
		Quantity:         10,
		CapitalCommitted: 1000,
		State:            domain.ReservationHeld,
		CreatedAt:        now,
	}
	return opp, res
}

func testConfig() Config {
	return Config{
		LegSubmitTimeout: 60 * time.Millisecond,
		UnwindTimeout:    60 * time.Millisecond,
		LimitTolerance:   0.001,
		PollInterval:     5 * time.Millisecond,
		ReconcileDelay:   50 * time.Millisecond,
	}
}

func newTestCoordinator(brokers map[string]domain.Broker, rel *fakeReleaser, sink domain.EventSink) *Coordinator {
	return NewCoordinator(brokers, testConfig(), rel, nil, nil, sink, slog.Default())
}

func TestCoordinator_BothFilled(t *testing.T) {
	alpha := newFakeBroker("alpha", orderScript{final: filled(10, 100.0)})
	beta := newFakeBroker("beta", orderScript{final: filled(10, 100.5)})
	rel := &fakeReleaser{}
	sink := &recordSink{}
	c := newTestCoordinator(map[string]domain.Broker{"alpha": alpha, "beta": beta}, rel, sink)

	opp, res := execOpportunity()
	tx := c.Execute(context.Background(), opp, res)
	c.Wait()

	assert.Equal(t, domain.TxBothFilled, tx.State)
	assert.InDelta(t, 5.0, tx.RealizedPnL, 1e-9)
	assert.Equal(t, domain.LegFilled, tx.BuyLeg.State)
	assert.Equal(t, domain.LegFilled, tx.SellLeg.State)
	assert.Nil(t, tx.UnwindLeg)

	// Marketable limits carry the configured tolerance.
	buyReqs := alpha.submitted()
	require.Len(t, buyReqs, 1)
	assert.InDelta(t, 100.1, buyReqs[0].LimitPrice, 1e-9)
	sellReqs := beta.submitted()
	require.Len(t, sellReqs, 1)
	assert.InDelta(t, 100.3995, sellReqs[0].LimitPrice, 1e-9)

	// Exactly one release, carrying both fills.
	outs := rel.outcomes()
	require.Len(t, outs, 1)
	assert.Len(t, outs[0].Fills, 2)
	assert.InDelta(t, 5.0, outs[0].RealizedPnL, 1e-9)

	assert.Equal(t, 1, sink.count(domain.EventExecutionDone))
	assert.Equal(t, 2, sink.count(domain.EventLegFilled))
	assert.Zero(t, sink.count(domain.EventFatalAlert))
}

func TestCoordinator_BothFailed(t *testing.T) {
	alpha := newFakeBroker("alpha")
	alpha.submitErr = &domain.BrokerError{Venue: "alpha", Code: "rejected", Message: "no"}
	beta := newFakeBroker("beta")
	beta.submitErr = &domain.BrokerError{Venue: "beta", Code: "rejected", Message: "no"}
	rel := &fakeReleaser{}
	sink := &recordSink{}
	c := newTestCoordinator(map[string]domain.Broker{"alpha": alpha, "beta": beta}, rel, sink)

	opp, res := execOpportunity()
	tx := c.Execute(context.Background(), opp, res)
	c.Wait()

	assert.Equal(t, domain.TxBothFailed, tx.State)
	assert.Zero(t, tx.RealizedPnL)

	outs := rel.outcomes()
	require.Len(t, outs, 1)
	assert.Empty(t, outs[0].Fills)
}

func TestCoordinator_OneFilledUnwound(t *testing.T) {
	// Buy fills; sell is rejected on submit. The long on alpha must be sold
	// back there.
	alpha := newFakeBroker("alpha", orderScript{final: filled(10, 100.0)})
	beta := newFakeBroker("beta")
	beta.submitErr = &domain.BrokerError{Venue: "beta", Code: "rejected", Message: "no"}
	rel := &fakeReleaser{}
	sink := &recordSink{}
	c := newTestCoordinator(map[string]domain.Broker{"alpha": alpha, "beta": beta}, rel, sink)

	opp, res := execOpportunity()
	tx := c.Execute(context.Background(), opp, res)
	c.Wait()

	assert.Equal(t, domain.TxUnwound, tx.State)
	require.NotNil(t, tx.UnwindLeg)
	assert.Equal(t, "alpha", tx.UnwindLeg.Venue)
	assert.Equal(t, domain.OrderSideSell, tx.UnwindLeg.Side)
	assert.Equal(t, 10.0, tx.UnwindLeg.Quantity)

	// Buy at 100, unwind sell at 100: flat.
	assert.InDelta(t, 0.0, tx.RealizedPnL, 1e-9)

	// alpha saw the buy and then the unwind sell.
	reqs := alpha.submitted()
	require.Len(t, reqs, 2)
	assert.Equal(t, domain.OrderSideBuy, reqs[0].Side)
	assert.Equal(t, domain.OrderSideSell, reqs[1].Side)

	// The release includes both the original fill and the unwind fill.
	outs := rel.outcomes()
	require.Len(t, outs, 1)
	assert.Len(t, outs[0].Fills, 2)

	assert.Equal(t, 1, sink.count(domain.EventUnwindStarted))
	assert.Equal(t, 1, sink.count(domain.EventUnwindDone))
	assert.Zero(t, sink.count(domain.EventFatalAlert))
}

func TestCoordinator_UnwindTimeoutIsFatal(t *testing.T) {
	// Buy fills immediately; the unwind order never reaches a terminal state
	// inside the unwind timeout.
	alpha := newFakeBroker("alpha",
		orderScript{final: filled(10, 100.0)},
		orderScript{resolveAfter: time.Hour, final: filled(10, 100.0)},
	)
	beta := newFakeBroker("beta")
	beta.submitErr = &domain.BrokerError{Venue: "beta", Code: "rejected", Message: "no"}
	rel := &fakeReleaser{}
	sink := &recordSink{}
	c := newTestCoordinator(map[string]domain.Broker{"alpha": alpha, "beta": beta}, rel, sink)

	opp, res := execOpportunity()
	tx := c.Execute(context.Background(), opp, res)
	c.Wait()

	assert.Equal(t, domain.TxUnwindFailed, tx.State)
	assert.Equal(t, 1, sink.count(domain.EventFatalAlert))

	// The reservation is still released exactly once; the inconsistent
	// position is an operator problem, not a leaked hold.
	require.Len(t, rel.outcomes(), 1)
}

func TestCoordinator_LateFillRaisesReconciliation(t *testing.T) {
	// The buy leg never confirms inside the timeout but fills at the venue
	// afterwards. The transaction goes terminal without it; the delayed probe
	// must surface the late fill as an alert instead of absorbing it.
	alpha := newFakeBroker("alpha", orderScript{resolveAfter: 250 * time.Millisecond, final: filled(6, 100.0)})
	beta := newFakeBroker("beta", orderScript{final: filled(10, 100.5)})
	rel := &fakeReleaser{}
	sink := &recordSink{}
	cfg := testConfig()
	cfg.LegSubmitTimeout = 100 * time.Millisecond
	cfg.ReconcileDelay = 300 * time.Millisecond
	c := NewCoordinator(map[string]domain.Broker{"alpha": alpha, "beta": beta}, cfg, rel, nil, nil, sink, slog.Default())

	opp, res := execOpportunity()
	tx := c.Execute(context.Background(), opp, res)

	// Sell filled alone, so the short was bought back on beta.
	assert.Equal(t, domain.TxUnwound, tx.State)
	assert.True(t, tx.BuyLeg.CompletedAt.After(tx.BuyLeg.SubmittedAt))
	assert.Equal(t, 1, alpha.cancelsSeen())

	// Wait blocks until the reconciliation probe has run.
	c.Wait()
	assert.Equal(t, 1, sink.count(domain.EventReconciliation))
}

func TestCoordinator_ExpiredOpportunityNeverSubmits(t *testing.T) {
	// Authorization can precede execution by a while when the execution pool
	// is saturated. An opportunity that crossed its validity window in the
	// queue must die before any order reaches a venue.
	alpha := newFakeBroker("alpha", orderScript{final: filled(10, 100.0)})
	beta := newFakeBroker("beta", orderScript{final: filled(10, 100.5)})
	rel := &fakeReleaser{}
	sink := &recordSink{}
	c := newTestCoordinator(map[string]domain.Broker{"alpha": alpha, "beta": beta}, rel, sink)

	opp, res := execOpportunity()
	opp.ExpiresAt = time.Now().Add(-time.Second)
	tx := c.Execute(context.Background(), opp, res)
	c.Wait()

	assert.Equal(t, domain.TxBothFailed, tx.State)
	assert.Empty(t, alpha.submitted())
	assert.Empty(t, beta.submitted())
	assert.Zero(t, sink.count(domain.EventLegSubmitted))

	// The reservation is still released exactly once, with zero impact.
	outs := rel.outcomes()
	require.Len(t, outs, 1)
	assert.Empty(t, outs[0].Fills)
	assert.Zero(t, outs[0].RealizedPnL)
	assert.Equal(t, 1, sink.count(domain.EventExecutionDone))
}

func TestCoordinator_PartialUnwindFillIsAccounted(t *testing.T) {
	// Buy fills; sell is rejected. The unwind sell is cancelled by the venue
	// after flattening only part of the position: fatal, but the partial fill
	// moved money and must reach the release and the recorded outcome.
	alpha := newFakeBroker("alpha",
		orderScript{final: filled(10, 100.0)},
		orderScript{final: domain.FillStatus{State: domain.LegCancelled, FilledQty: 4, AvgFillPrice: 99.5}},
	)
	beta := newFakeBroker("beta")
	beta.submitErr = &domain.BrokerError{Venue: "beta", Code: "rejected", Message: "no"}
	rel := &fakeReleaser{}
	sink := &recordSink{}
	c := newTestCoordinator(map[string]domain.Broker{"alpha": alpha, "beta": beta}, rel, sink)

	opp, res := execOpportunity()
	tx := c.Execute(context.Background(), opp, res)
	c.Wait()

	assert.Equal(t, domain.TxUnwindFailed, tx.State)
	require.NotNil(t, tx.UnwindLeg)
	assert.Equal(t, domain.LegCancelled, tx.UnwindLeg.State)
	assert.Equal(t, 4.0, tx.UnwindLeg.FilledQty)
	assert.Equal(t, 99.5, tx.UnwindLeg.AvgFillPrice)
	assert.Equal(t, 1, sink.count(domain.EventFatalAlert))

	// The release carries the original fill and the partial unwind fill, so
	// the positions show the 6 still long on alpha.
	outs := rel.outcomes()
	require.Len(t, outs, 1)
	require.Len(t, outs[0].Fills, 2)
	unwindFill := outs[0].Fills[1]
	assert.Equal(t, domain.OrderSideSell, unwindFill.Side)
	assert.Equal(t, 4.0, unwindFill.Quantity)
	assert.Equal(t, 99.5, unwindFill.Price)
}

func TestCoordinator_NoBrokerForVenue(t *testing.T) {
	beta := newFakeBroker("beta", orderScript{final: filled(10, 100.5)})
	rel := &fakeReleaser{}
	sink := &recordSink{}
	// alpha is missing entirely; its leg is rejected locally and the sell
	// fill is unwound on beta.
	c := newTestCoordinator(map[string]domain.Broker{"beta": beta}, rel, sink)

	opp, res := execOpportunity()
	tx := c.Execute(context.Background(), opp, res)
	c.Wait()

	assert.Equal(t, domain.LegRejected, tx.BuyLeg.State)
	assert.Equal(t, domain.TxUnwound, tx.State)
	require.NotNil(t, tx.UnwindLeg)
	assert.Equal(t, "beta", tx.UnwindLeg.Venue)
	assert.Equal(t, domain.OrderSideBuy, tx.UnwindLeg.Side)

	// The local rejection names the missing venue as its reason.
	failed := sink.fieldsOf(domain.EventLegFailed)
	require.NotEmpty(t, failed)
	assert.Equal(t, domain.ErrUnknownVenue.Error(), failed[0]["error"])
}
