package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// BrokerConfig controls fill behaviour of the simulated venue.
type BrokerConfig struct {
	Venue      string
	FillDelay  time.Duration // time from submit to resolution
	FillPct    float64       // probability of a full fill
	PartialPct float64       // probability of a partial fill
	RejectPct  float64       // probability of an immediate reject
	SlipFrac   float64       // max fill-price slip toward the limit, fraction
	Seed       int64
}

func (c *BrokerConfig) setDefaults() {
	if c.FillDelay <= 0 {
		c.FillDelay = 50 * time.Millisecond
	}
	if c.FillPct <= 0 && c.PartialPct <= 0 && c.RejectPct <= 0 {
		c.FillPct = 0.9
		c.PartialPct = 0.05
		c.RejectPct = 0.05
	}
}

type simOrder struct {
	req       domain.OrderRequest
	resolveAt time.Time
	outcome   domain.LegState // state once resolveAt passes
	filledQty float64
	fillPrice float64
	cancelled bool
}

// Broker is a simulated venue implementing domain.Broker. Orders resolve to a
// pre-drawn outcome after FillDelay; polling before that reports the order as
// acknowledged. Cancel wins only if it lands before resolution.
type Broker struct {
	cfg    BrokerConfig
	logger *slog.Logger

	mu     sync.Mutex
	rng    *rand.Rand
	orders map[string]*simOrder
	now    func() time.Time
}

// NewBroker creates a simulated broker for one venue.
func NewBroker(cfg BrokerConfig, logger *slog.Logger) *Broker {
	cfg.setDefaults()
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Broker{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "sim_broker"), slog.String("venue", cfg.Venue)),
		rng:    rand.New(rand.NewSource(seed)),
		orders: make(map[string]*simOrder),
		now:    time.Now,
	}
}

// SubmitOrder accepts the order and draws its outcome. Immediate rejects
// return a BrokerError; everything else resolves after the configured delay.
func (b *Broker) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderHandle, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderHandle{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	roll := b.rng.Float64()
	if roll < b.cfg.RejectPct {
		b.logger.Debug("order rejected",
			slog.String("symbol", req.Symbol),
			slog.String("side", string(req.Side)),
		)
		return domain.OrderHandle{}, &domain.BrokerError{
			Venue:   b.cfg.Venue,
			Code:    "rejected",
			Message: "order rejected by venue",
		}
	}

	o := &simOrder{
		req:       req,
		resolveAt: b.now().Add(b.cfg.FillDelay),
	}
	switch {
	case roll < b.cfg.RejectPct+b.cfg.FillPct:
		o.outcome = domain.LegFilled
		o.filledQty = req.Quantity
	case roll < b.cfg.RejectPct+b.cfg.FillPct+b.cfg.PartialPct:
		o.outcome = domain.LegPartiallyFilled
		o.filledQty = req.Quantity * (0.2 + 0.6*b.rng.Float64())
	default:
		o.outcome = domain.LegRejected
	}
	o.fillPrice = b.fillPrice(req)

	id := uuid.New().String()
	b.orders[id] = o
	b.logger.Debug("order accepted",
		slog.String("order_id", id),
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.Float64("quantity", req.Quantity),
		slog.Float64("limit_price", req.LimitPrice),
	)
	return domain.OrderHandle{Venue: b.cfg.Venue, OrderID: id}, nil
}

// PollFillStatus reports the order's current state.
func (b *Broker) PollFillStatus(ctx context.Context, h domain.OrderHandle) (domain.FillStatus, error) {
	if err := ctx.Err(); err != nil {
		return domain.FillStatus{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[h.OrderID]
	if !ok {
		return domain.FillStatus{}, fmt.Errorf("sim: order %s: %w", h.OrderID, domain.ErrNotFound)
	}
	if o.cancelled {
		return domain.FillStatus{State: domain.LegCancelled}, nil
	}
	if b.now().Before(o.resolveAt) {
		return domain.FillStatus{State: domain.LegAcknowledged}, nil
	}
	st := domain.FillStatus{State: o.outcome}
	if o.filledQty > 0 {
		st.FilledQty = o.filledQty
		st.AvgFillPrice = o.fillPrice
	}
	return st, nil
}

// Cancel cancels the order if it has not resolved yet. Cancelling a resolved
// order is a no-op; the caller discovers the fill on its next poll.
func (b *Broker) Cancel(ctx context.Context, h domain.OrderHandle) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[h.OrderID]
	if !ok {
		return fmt.Errorf("sim: order %s: %w", h.OrderID, domain.ErrNotFound)
	}
	if b.now().Before(o.resolveAt) && !o.cancelled {
		o.cancelled = true
		b.logger.Debug("order cancelled", slog.String("order_id", h.OrderID))
	}
	return nil
}

// fillPrice slips the fill from the limit toward a slightly better price.
func (b *Broker) fillPrice(req domain.OrderRequest) float64 {
	slip := req.LimitPrice * b.cfg.SlipFrac * b.rng.Float64()
	if req.Side == domain.OrderSideBuy {
		return req.LimitPrice - slip
	}
	return req.LimitPrice + slip
}

var _ domain.Broker = (*Broker)(nil)
