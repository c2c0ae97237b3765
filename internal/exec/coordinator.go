package exec

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/risk"
)

// Releaser frees a reservation and applies confirmed fills. Implemented by
// the risk ledger.
type Releaser interface {
	Release(opportunityID string, outcome risk.ReleaseOutcome)
}

// BestPricer supplies the current best crossed prices, used to price the
// compensating unwind order. Implemented by the consolidated book.
type BestPricer interface {
	BestCrossed(symbol string, now time.Time) (domain.BestQuote, bool)
}

// Config holds the coordinator's protocol timeouts and pricing tolerance.
type Config struct {
	LegSubmitTimeout time.Duration
	UnwindTimeout    time.Duration
	LimitTolerance   float64 // marketable-limit cushion, fraction of price
	PollInterval     time.Duration
	ReconcileDelay   time.Duration // delay before re-polling a timed-out leg
}

// Coordinator executes one authorized opportunity at a time per call: it
// places both legs in parallel, tracks fills, runs the unwind protocol on
// partial failure, and releases the reservation exactly once. Multiple
// coordinator calls for different opportunities run concurrently; each
// transaction and its legs are owned by exactly one call.
type Coordinator struct {
	brokers  map[string]domain.Broker
	cfg      Config
	ledger   Releaser
	book     BestPricer
	outcomes domain.OutcomeStore
	sink     domain.EventSink
	logger   *slog.Logger
	now      func() time.Time

	wg sync.WaitGroup // outstanding reconciliation probes
}

// NewCoordinator creates a coordinator submitting through the given brokers,
// keyed by venue name.
func NewCoordinator(
	brokers map[string]domain.Broker,
	cfg Config,
	ledger Releaser,
	book BestPricer,
	outcomes domain.OutcomeStore,
	sink domain.EventSink,
	logger *slog.Logger,
) *Coordinator {
	if sink == nil {
		sink = domain.NopSink{}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 20 * time.Millisecond
	}
	return &Coordinator{
		brokers:  brokers,
		cfg:      cfg,
		ledger:   ledger,
		book:     book,
		outcomes: outcomes,
		sink:     sink,
		logger:   logger.With(slog.String("component", "exec_coordinator")),
		now:      time.Now,
	}
}

// Wait blocks until all outstanding reconciliation probes have finished.
// Called on shutdown so late-fill checks are not abandoned.
func (c *Coordinator) Wait() { c.wg.Wait() }

// legResult is the private bookkeeping for one leg during execution.
type legResult struct {
	leg       domain.Leg
	handle    domain.OrderHandle
	submitted bool
	timedOut  bool // gave up before the venue confirmed a terminal state
}

// Execute runs the two-leg protocol for an authorized opportunity to a
// terminal state. The reservation is released exactly once, on every path.
func (c *Coordinator) Execute(ctx context.Context, opp domain.Opportunity, res domain.Reservation) domain.ExecutionTransaction {
	log := c.logger.With(
		slog.String("opportunity_id", opp.ID),
		slog.String("symbol", opp.Symbol),
	)

	tx := domain.ExecutionTransaction{
		OpportunityID: opp.ID,
		Symbol:        opp.Symbol,
		State:         domain.TxAuthorized,
		StartedAt:     c.now(),
	}

	// Authorization happened earlier; the opportunity may have sat in the
	// execution queue past its validity window since. Prices that old are
	// not worth trading on, so expiry ends the transaction before any
	// order reaches a venue.
	if opp.Expired(c.now()) {
		log.Warn("opportunity expired before legs were submitted",
			slog.Time("expires_at", opp.ExpiresAt),
		)
		tx.State = c.transition(&tx, EvExpired, log)
		tx.CompletedAt = c.now()
		c.release(&tx)
		c.record(ctx, tx, log)
		return tx
	}

	buy := &legResult{leg: domain.Leg{
		Venue:      opp.BuyVenue,
		Symbol:     opp.Symbol,
		Side:       domain.OrderSideBuy,
		Quantity:   res.Quantity,
		LimitPrice: opp.BuyPrice * (1 + c.cfg.LimitTolerance),
	}}
	sell := &legResult{leg: domain.Leg{
		Venue:      opp.SellVenue,
		Symbol:     opp.Symbol,
		Side:       domain.OrderSideSell,
		Quantity:   res.Quantity,
		LimitPrice: opp.SellPrice * (1 - c.cfg.LimitTolerance),
	}}

	tx.State = c.transition(&tx, EvLegsSubmitted, log)

	g, legCtx := errgroup.WithContext(ctx)
	g.Go(func() error { c.runLeg(legCtx, buy, log); return nil })
	g.Go(func() error { c.runLeg(legCtx, sell, log); return nil })
	_ = g.Wait()

	tx.BuyLeg = buy.leg
	tx.SellLeg = sell.leg

	netQty := buy.leg.FilledQty - sell.leg.FilledQty
	switch {
	case netQty == 0 && buy.leg.Filled() && sell.leg.Filled():
		tx.State = c.transition(&tx, EvBothFilled, log)
		tx.RealizedPnL = (sell.leg.AvgFillPrice - buy.leg.AvgFillPrice) * buy.leg.FilledQty
	case netQty == 0:
		tx.State = c.transition(&tx, EvBothFailed, log)
	default:
		tx.State = c.transition(&tx, EvOneFilled, log)
		c.unwind(ctx, &tx, netQty, log)
	}
	tx.CompletedAt = c.now()

	c.release(&tx)
	c.record(ctx, tx, log)

	// A leg we gave up on may still fill at the venue. Probe once after a
	// delay; a late fill is surfaced, never absorbed.
	for _, lr := range []*legResult{buy, sell} {
		if lr.timedOut {
			c.scheduleReconcile(*lr, tx.State, log)
		}
	}
	return tx
}

// transition applies the state machine edge and emits protocol violations
// loudly rather than silently continuing in a corrupt state.
func (c *Coordinator) transition(tx *domain.ExecutionTransaction, ev TxEvent, log *slog.Logger) domain.TxState {
	next, err := Apply(tx.State, ev)
	if err != nil {
		log.Error("transaction state machine violation", slog.String("error", err.Error()))
		return tx.State
	}
	return next
}

// runLeg submits one leg and polls it to a terminal state, bounded by the
// leg submit timeout. On timeout it cancels, takes one last look, and if the
// venue still has not confirmed, marks the leg cancelled locally and flags it
// for reconciliation.
func (c *Coordinator) runLeg(ctx context.Context, lr *legResult, log *slog.Logger) {
	broker, ok := c.brokers[lr.leg.Venue]
	if !ok {
		lr.leg.State = domain.LegRejected
		lr.leg.CompletedAt = c.now()
		log.Error("no broker for venue", slog.String("venue", lr.leg.Venue))
		c.sink.Emit(domain.EventLegFailed, legFields(lr.leg, domain.ErrUnknownVenue.Error()))
		return
	}

	lr.leg.SubmittedAt = c.now()
	handle, err := broker.SubmitOrder(ctx, domain.OrderRequest{
		Venue:      lr.leg.Venue,
		Symbol:     lr.leg.Symbol,
		Side:       lr.leg.Side,
		Quantity:   lr.leg.Quantity,
		LimitPrice: lr.leg.LimitPrice,
	})
	if err != nil {
		lr.leg.State = domain.LegRejected
		lr.leg.CompletedAt = c.now()
		log.Warn("leg rejected on submit",
			slog.String("venue", lr.leg.Venue),
			slog.String("side", string(lr.leg.Side)),
			slog.String("error", err.Error()),
		)
		c.sink.Emit(domain.EventLegFailed, legFields(lr.leg, err.Error()))
		return
	}
	lr.handle = handle
	lr.submitted = true
	lr.leg.OrderID = handle.OrderID
	lr.leg.State = domain.LegSubmitted
	c.sink.Emit(domain.EventLegSubmitted, legFields(lr.leg, ""))

	status, confirmed := c.pollUntilTerminal(ctx, broker, handle, c.cfg.LegSubmitTimeout)
	if confirmed {
		lr.apply(status, c.now())
		if lr.leg.FilledQty > 0 {
			c.sink.Emit(domain.EventLegFilled, legFields(lr.leg, ""))
		} else {
			c.sink.Emit(domain.EventLegFailed, legFields(lr.leg, "no fill"))
		}
		return
	}

	// Deadline passed without a terminal answer: cancel, then look once more
	// in case the cancel raced a fill.
	cancelCtx, cancel := context.WithTimeout(context.Background(), c.cfg.PollInterval*5)
	defer cancel()
	_ = broker.Cancel(cancelCtx, handle)
	if status, err := broker.PollFillStatus(cancelCtx, handle); err == nil && status.State.Terminal() {
		lr.apply(status, c.now())
		if lr.leg.FilledQty > 0 {
			c.sink.Emit(domain.EventLegFilled, legFields(lr.leg, ""))
			return
		}
	} else {
		lr.timedOut = true
		lr.leg.State = domain.LegCancelled
		lr.leg.CompletedAt = c.now()
	}
	log.Warn("leg timed out",
		slog.String("venue", lr.leg.Venue),
		slog.String("order_id", lr.leg.OrderID),
		slog.Float64("filled_qty", lr.leg.FilledQty),
	)
	c.sink.Emit(domain.EventLegFailed, legFields(lr.leg, domain.ErrOrderTimeout.Error()))
}

// apply copies a terminal broker status into the leg.
func (lr *legResult) apply(status domain.FillStatus, now time.Time) {
	lr.leg.State = status.State
	lr.leg.FilledQty = status.FilledQty
	lr.leg.AvgFillPrice = status.AvgFillPrice
	lr.leg.CompletedAt = now
}

// pollUntilTerminal polls the order until the venue reports a terminal state
// or the timeout elapses. The bool is false on timeout or context error.
func (c *Coordinator) pollUntilTerminal(ctx context.Context, broker domain.Broker, h domain.OrderHandle, timeout time.Duration) (domain.FillStatus, bool) {
	deadline := c.now().Add(timeout)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		status, err := broker.PollFillStatus(ctx, h)
		if err == nil && status.State.Terminal() {
			return status, true
		}
		if c.now().After(deadline) {
			return domain.FillStatus{}, false
		}
		select {
		case <-ctx.Done():
			return domain.FillStatus{}, false
		case <-ticker.C:
		}
	}
}

// unwind flattens the unintended single-sided position left by a partial
// execution: sell what was unexpectedly bought, or buy back what was
// unexpectedly sold, at the best available price, within the unwind timeout.
// An unconfirmed unwind is fatal and never retried automatically; compounding
// an already-inconsistent position is worse than paging a human.
func (c *Coordinator) unwind(ctx context.Context, tx *domain.ExecutionTransaction, netQty float64, log *slog.Logger) {
	tx.State = c.transition(tx, EvUnwindStart, log)

	var filled domain.Leg
	qty := netQty
	if netQty > 0 {
		filled = tx.BuyLeg
	} else {
		filled = tx.SellLeg
		qty = -netQty
	}
	side := filled.Side.Opposite()

	limit := c.unwindLimit(filled, side)
	leg := domain.Leg{
		Venue:      filled.Venue,
		Symbol:     filled.Symbol,
		Side:       side,
		Quantity:   qty,
		LimitPrice: limit,
	}
	c.sink.Emit(domain.EventUnwindStarted, legFields(leg, ""))
	log.Warn("unwinding one-sided position",
		slog.String("venue", leg.Venue),
		slog.String("side", string(side)),
		slog.Float64("quantity", qty),
		slog.Float64("limit", limit),
	)

	broker, ok := c.brokers[leg.Venue]
	if !ok {
		c.unwindFailed(tx, leg, domain.ErrUnknownVenue.Error(), log)
		return
	}

	leg.SubmittedAt = c.now()
	handle, err := broker.SubmitOrder(ctx, domain.OrderRequest{
		Venue:      leg.Venue,
		Symbol:     leg.Symbol,
		Side:       leg.Side,
		Quantity:   leg.Quantity,
		LimitPrice: leg.LimitPrice,
	})
	if err != nil {
		c.unwindFailed(tx, leg, err.Error(), log)
		return
	}
	leg.OrderID = handle.OrderID
	leg.State = domain.LegSubmitted

	status, confirmed := c.pollUntilTerminal(ctx, broker, handle, c.cfg.UnwindTimeout)
	if confirmed {
		// Copy whatever the venue confirmed, even when it is not enough to
		// flatten: a partial unwind fill still moved money and must reach
		// the release and the durable record.
		leg.State = status.State
		leg.FilledQty = status.FilledQty
		leg.AvgFillPrice = status.AvgFillPrice
		leg.CompletedAt = c.now()
	}
	if !confirmed || status.FilledQty < leg.Quantity {
		c.unwindFailed(tx, leg, domain.ErrOrderTimeout.Error(), log)
		return
	}

	tx.UnwindLeg = &leg
	tx.State = c.transition(tx, EvUnwindFilled, log)
	tx.RealizedPnL = c.realizedWithUnwind(tx)

	c.sink.Emit(domain.EventUnwindDone, legFields(leg, ""))
	log.Warn("position unwound",
		slog.Float64("realized_pnl", tx.RealizedPnL),
		slog.Float64("unwind_price", leg.AvgFillPrice),
	)
}

// unwindLimit prices the closing order marketable against the current book,
// falling back to the fill price cushioned by the tolerance when the book has
// nothing fresh for the venue.
func (c *Coordinator) unwindLimit(filled domain.Leg, side domain.OrderSide) float64 {
	if c.book != nil {
		if best, ok := c.book.BestCrossed(filled.Symbol, c.now()); ok {
			if side == domain.OrderSideSell && best.BidPrice > 0 {
				return best.BidPrice * (1 - c.cfg.LimitTolerance)
			}
			if side == domain.OrderSideBuy && best.AskPrice > 0 {
				return best.AskPrice * (1 + c.cfg.LimitTolerance)
			}
		}
	}
	if side == domain.OrderSideSell {
		return filled.AvgFillPrice * (1 - 2*c.cfg.LimitTolerance)
	}
	return filled.AvgFillPrice * (1 + 2*c.cfg.LimitTolerance)
}

// unwindFailed marks the transaction terminally inconsistent and raises the
// fatal alert. External intervention is required from here.
func (c *Coordinator) unwindFailed(tx *domain.ExecutionTransaction, leg domain.Leg, reason string, log *slog.Logger) {
	if !leg.State.Terminal() {
		leg.State = domain.LegCancelled
	}
	tx.UnwindLeg = &leg
	tx.State = c.transition(tx, EvUnwindTimeout, log)

	log.Error("unwind failed, manual intervention required",
		slog.String("venue", leg.Venue),
		slog.String("symbol", leg.Symbol),
		slog.Float64("quantity", leg.Quantity),
		slog.String("reason", reason),
	)
	c.sink.Emit(domain.EventFatalAlert, map[string]any{
		"opportunity_id": tx.OpportunityID,
		"symbol":         tx.Symbol,
		"venue":          leg.Venue,
		"quantity":       leg.Quantity,
		"filled_qty":     leg.FilledQty,
		"side":           string(leg.Side),
		"reason":         reason,
	})
}

// realizedWithUnwind computes the cash result of all fills in the transaction.
func (c *Coordinator) realizedWithUnwind(tx *domain.ExecutionTransaction) float64 {
	pnl := tx.SellLeg.AvgFillPrice*tx.SellLeg.FilledQty - tx.BuyLeg.AvgFillPrice*tx.BuyLeg.FilledQty
	if tx.UnwindLeg != nil {
		if tx.UnwindLeg.Side == domain.OrderSideSell {
			pnl += tx.UnwindLeg.AvgFillPrice * tx.UnwindLeg.FilledQty
		} else {
			pnl -= tx.UnwindLeg.AvgFillPrice * tx.UnwindLeg.FilledQty
		}
	}
	return pnl
}

// release frees the reservation with every confirmed fill, including the
// unwind. Terminal states map to exactly one call; the ledger is idempotent
// besides.
func (c *Coordinator) release(tx *domain.ExecutionTransaction) {
	var fills []risk.Fill
	for _, leg := range []domain.Leg{tx.BuyLeg, tx.SellLeg} {
		if leg.FilledQty > 0 {
			fills = append(fills, risk.Fill{
				Venue:    leg.Venue,
				Symbol:   leg.Symbol,
				Side:     leg.Side,
				Quantity: leg.FilledQty,
				Price:    leg.AvgFillPrice,
			})
		}
	}
	if tx.UnwindLeg != nil && tx.UnwindLeg.FilledQty > 0 {
		fills = append(fills, risk.Fill{
			Venue:    tx.UnwindLeg.Venue,
			Symbol:   tx.UnwindLeg.Symbol,
			Side:     tx.UnwindLeg.Side,
			Quantity: tx.UnwindLeg.FilledQty,
			Price:    tx.UnwindLeg.AvgFillPrice,
		})
	}
	c.ledger.Release(tx.OpportunityID, risk.ReleaseOutcome{
		Fills:       fills,
		RealizedPnL: tx.RealizedPnL,
	})
}

// record durably persists the terminal transaction and emits the summary
// event. Persistence failure is logged, not fatal; the event stream still
// carries the outcome.
func (c *Coordinator) record(ctx context.Context, tx domain.ExecutionTransaction, log *slog.Logger) {
	c.sink.Emit(domain.EventExecutionDone, map[string]any{
		"opportunity_id": tx.OpportunityID,
		"symbol":         tx.Symbol,
		"state":          string(tx.State),
		"realized_pnl":   tx.RealizedPnL,
		"buy_order_id":   tx.BuyLeg.OrderID,
		"sell_order_id":  tx.SellLeg.OrderID,
	})
	if c.outcomes == nil {
		return
	}
	if err := c.outcomes.Record(ctx, tx); err != nil {
		log.Error("outcome record failed", slog.String("error", err.Error()))
	}
}

// scheduleReconcile probes a timed-out leg once, after a delay, against its
// venue. A fill discovered after the transaction went terminal means the
// books disagree with what was released; that is an operator problem, so it
// is surfaced as a reconciliation alert rather than patched over.
func (c *Coordinator) scheduleReconcile(lr legResult, txState domain.TxState, log *slog.Logger) {
	broker, ok := c.brokers[lr.leg.Venue]
	if !ok || !lr.submitted {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		time.Sleep(c.cfg.ReconcileDelay)

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PollInterval*10)
		defer cancel()
		status, err := broker.PollFillStatus(ctx, lr.handle)
		if err != nil || status.FilledQty <= lr.leg.FilledQty {
			return
		}
		log.Error("late fill on reconciled leg",
			slog.String("venue", lr.leg.Venue),
			slog.String("order_id", lr.leg.OrderID),
			slog.Float64("late_filled_qty", status.FilledQty),
			slog.Float64("accounted_qty", lr.leg.FilledQty),
		)
		c.sink.Emit(domain.EventReconciliation, map[string]any{
			"venue":           lr.leg.Venue,
			"symbol":          lr.leg.Symbol,
			"order_id":        lr.leg.OrderID,
			"side":            string(lr.leg.Side),
			"late_filled_qty": status.FilledQty,
			"accounted_qty":   lr.leg.FilledQty,
			"tx_state":        string(txState),
		})
	}()
}

func legFields(leg domain.Leg, errMsg string) map[string]any {
	f := map[string]any{
		"venue":       leg.Venue,
		"symbol":      leg.Symbol,
		"side":        string(leg.Side),
		"order_id":    leg.OrderID,
		"quantity":    leg.Quantity,
		"limit_price": leg.LimitPrice,
		"state":       string(leg.State),
		"filled_qty":  leg.FilledQty,
		"fill_price":  leg.AvgFillPrice,
	}
	if errMsg != "" {
		f["error"] = errMsg
	}
	return f
}
