package detect

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/crossarb/internal/book"
	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Config holds the detector's tunable parameters.
type Config struct {
	Symbols        []string
	MinSpread      float64       // per-unit threshold after costs
	PerTradeCap    float64       // quantity cap per opportunity
	ValidityWindow time.Duration // must be shorter than the book's staleness
	ScanInterval   time.Duration
	Costs          CostModel
}

// Detector periodically scans every symbol of interest and emits candidate
// opportunities, best estimated profit first. A scan can also be nudged by
// Trigger so a fresh quote does not wait out the full interval.
type Detector struct {
	book    *book.Book
	cfg     Config
	out     chan<- domain.Opportunity
	trigger chan struct{}
	sink    domain.EventSink
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a detector writing candidates to out.
func New(b *book.Book, cfg Config, out chan<- domain.Opportunity, sink domain.EventSink, logger *slog.Logger) *Detector {
	if sink == nil {
		sink = domain.NopSink{}
	}
	return &Detector{
		book:    b,
		cfg:     cfg,
		out:     out,
		trigger: make(chan struct{}, 1),
		sink:    sink,
		logger:  logger.With(slog.String("component", "detector")),
		now:     time.Now,
	}
}

// Trigger requests an immediate scan. Non-blocking; a scan already pending
// absorbs the request.
func (d *Detector) Trigger() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// Run scans on every tick of the interval and on every trigger until ctx is
// cancelled.
func (d *Detector) Run(ctx context.Context) error {
	d.logger.Info("detector started",
		slog.Int("symbols", len(d.cfg.Symbols)),
		slog.Duration("interval", d.cfg.ScanInterval),
	)
	defer d.logger.Info("detector stopped")

	ticker := time.NewTicker(d.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.scan(ctx)
		case <-d.trigger:
			d.scan(ctx)
		}
	}
}

// scan evaluates every symbol once and emits qualifying opportunities ordered
// by estimated net profit descending, so capital goes to the best candidates
// first when the shared limit cannot fund them all.
func (d *Detector) scan(ctx context.Context) {
	now := d.now()
	var found []domain.Opportunity
	for _, symbol := range d.cfg.Symbols {
		if opp, ok := d.evaluate(symbol, now); ok {
			found = append(found, opp)
		}
	}
	sort.Slice(found, func(i, j int) bool {
		return found[i].EstimatedNetProfit > found[j].EstimatedNetProfit
	})
	for _, opp := range found {
		d.sink.Emit(domain.EventOpportunityDetected, map[string]any{
			"opportunity_id": opp.ID,
			"symbol":         opp.Symbol,
			"buy_venue":      opp.BuyVenue,
			"sell_venue":     opp.SellVenue,
			"buy_price":      opp.BuyPrice,
			"sell_price":     opp.SellPrice,
			"max_quantity":   opp.MaxQuantity,
			"net_profit":     opp.EstimatedNetProfit,
		})
		select {
		case d.out <- opp:
		case <-ctx.Done():
			return
		}
	}
}

// evaluate builds an opportunity for symbol if the current best crossed
// prices clear the cost-adjusted threshold.
func (d *Detector) evaluate(symbol string, now time.Time) (domain.Opportunity, bool) {
	best, ok := d.book.BestCrossed(symbol, now)
	if !ok || best.BidVenue == best.AskVenue {
		return domain.Opportunity{}, false
	}

	spread := best.BidPrice - best.AskPrice
	if spread <= 0 {
		return domain.Opportunity{}, false
	}
	unitCost := d.cfg.Costs.RoundTripCost(best.AskVenue, best.BidVenue, best.AskPrice, best.BidPrice)
	if spread-unitCost <= d.cfg.MinSpread {
		return domain.Opportunity{}, false
	}

	qty := best.BidSize
	if best.AskSize < qty {
		qty = best.AskSize
	}
	if d.cfg.PerTradeCap > 0 && qty > d.cfg.PerTradeCap {
		qty = d.cfg.PerTradeCap
	}
	if qty <= 0 {
		return domain.Opportunity{}, false
	}

	netProfit := (spread - unitCost) * qty
	if netProfit <= 0 {
		return domain.Opportunity{}, false
	}

	return domain.Opportunity{
		ID:                 uuid.New().String(),
		Symbol:             symbol,
		BuyVenue:           best.AskVenue,
		SellVenue:          best.BidVenue,
		BuyPrice:           best.AskPrice,
		SellPrice:          best.BidPrice,
		MaxQuantity:        qty,
		EstimatedNetProfit: netProfit,
		DetectedAt:         now,
		ExpiresAt:          now.Add(d.cfg.ValidityWindow),
	}, true
}
