package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/crossarb/internal/book"
	"github.com/alanyoungcy/crossarb/internal/detect"
	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/engine"
	"github.com/alanyoungcy/crossarb/internal/exec"
	"github.com/alanyoungcy/crossarb/internal/risk"
	"github.com/alanyoungcy/crossarb/internal/venue/rest"
	"github.com/alanyoungcy/crossarb/internal/venue/sim"
	"github.com/alanyoungcy/crossarb/internal/venue/stream"
)

const (
	// tradeLockKey guards the trade cycle across processes. Capital limits are
	// enforced in-process; two engines reserving against the same accounts
	// would each see only their own ledger.
	tradeLockKey = "crossarb:trade:leader"
	tradeLockTTL = 5 * time.Minute

	eventsChannel = "events"
)

// TradeMode runs the live pipeline against real venues: websocket market data
// in, REST order entry out. When a lock manager is available the trade cycle
// is held behind a distributed lock so at most one process trades the shared
// capital at a time.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	if deps.LockManager != nil {
		unlock, err := deps.LockManager.Acquire(ctx, tradeLockKey, tradeLockTTL)
		if err != nil {
			return fmt.Errorf("app: acquire trade lock: %w", err)
		}
		defer unlock()
		a.logger.Info("trade lock acquired", slog.String("key", tradeLockKey))
	} else {
		a.logger.Warn("no lock manager configured, running trade mode unguarded")
	}

	feeds := make([]domain.Feed, 0, len(a.cfg.Venues))
	brokers := make(map[string]domain.Broker, len(a.cfg.Venues))
	feeBps := make(map[string]float64, len(a.cfg.Venues))
	for _, v := range a.cfg.Venues {
		feeds = append(feeds, stream.NewFeed(v.Name, v.WSURL, a.logger))
		brokers[v.Name] = rest.NewBroker(rest.Config{
			Venue:   v.Name,
			BaseURL: v.BrokerURL,
			APIKey:  v.APIKey,
		}, a.logger)
		feeBps[v.Name] = v.FeeBps
	}

	return a.runPipeline(ctx, deps, feeds, brokers, feeBps)
}

// PaperMode runs the full pipeline against in-process simulated venues. The
// venues carry opposite price skews so cross-venue spreads actually appear,
// and a small fraction of malformed ticks keeps the normalizer's drop path
// exercised.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	names, fees := a.paperVenues()

	// Skew the venues to either side of the shared mid by 1.5x the detection
	// threshold, so the simulated spread oscillates across the trigger line
	// rather than sitting permanently on one side of it.
	skew := 1.5 * a.cfg.Detection.MinSpreadThreshold / a.cfg.Sim.BasePrice

	feeds := make([]domain.Feed, 0, len(names))
	brokers := make(map[string]domain.Broker, len(names))
	for i, name := range names {
		venueSkew := skew
		if i%2 == 1 {
			venueSkew = -skew
		}
		seed := a.cfg.Sim.Seed
		if seed != 0 {
			seed += int64(i)
		}
		feeds = append(feeds, sim.NewFeed(sim.FeedConfig{
			Venue:        name,
			Interval:     a.cfg.Sim.TickInterval.Duration,
			BasePrice:    a.cfg.Sim.BasePrice,
			Drift:        a.cfg.Sim.Drift,
			Spread:       a.cfg.Sim.Spread,
			Skew:         venueSkew,
			MalformedPct: 0.02,
			Seed:         seed,
		}, a.logger))
		brokers[name] = sim.NewBroker(sim.BrokerConfig{
			Venue:      name,
			FillDelay:  a.cfg.Sim.FillDelay.Duration,
			FillPct:    a.cfg.Sim.FillPct,
			PartialPct: a.cfg.Sim.PartialPct,
			RejectPct:  a.cfg.Sim.RejectPct,
			SlipFrac:   0.5,
			Seed:       seed,
		}, a.logger)
	}

	return a.runPipeline(ctx, deps, feeds, brokers, fees)
}

// paperVenues resolves the simulated venue names and fee schedule: configured
// venues when at least two are present, built-in defaults otherwise.
func (a *App) paperVenues() ([]string, map[string]float64) {
	fees := make(map[string]float64)
	if len(a.cfg.Venues) >= 2 {
		names := make([]string, 0, len(a.cfg.Venues))
		for _, v := range a.cfg.Venues {
			names = append(names, v.Name)
			fees[v.Name] = v.FeeBps
		}
		return names, fees
	}
	names := []string{"sim-alpha", "sim-beta"}
	for _, n := range names {
		fees[n] = a.cfg.Detection.DefaultFeeBps
	}
	return names, fees
}

// MonitorMode attaches to a running engine's event stream without trading:
// it replays the recent durable history, then follows the live channel,
// logging every event. Requires Redis.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	if deps.SignalBus == nil {
		return fmt.Errorf("app: monitor mode requires redis")
	}
	log := a.logger.With(slog.String("component", "monitor"))

	history, err := deps.SignalBus.StreamRead(ctx, eventsChannel, "0", 200)
	if err != nil {
		log.Warn("event history read failed", slog.String("error", err.Error()))
	}
	for _, msg := range history {
		log.Info("event (history)",
			slog.String("stream_id", msg.ID),
			slog.String("payload", string(msg.Payload)),
		)
	}

	live, err := deps.SignalBus.Subscribe(ctx, eventsChannel)
	if err != nil {
		return fmt.Errorf("app: subscribe events: %w", err)
	}
	log.Info("monitoring live events", slog.String("channel", eventsChannel))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-live:
			if !ok {
				return nil
			}
			log.Info("event", slog.String("payload", string(payload)))
		}
	}
}

// runPipeline assembles the detection and execution pipeline around the given
// venue connections and runs it until ctx is cancelled or a component fails.
// Trade and paper mode differ only in what they plug in here.
func (a *App) runPipeline(
	ctx context.Context,
	deps *Dependencies,
	feeds []domain.Feed,
	brokers map[string]domain.Broker,
	feeBps map[string]float64,
) error {
	cfg := a.cfg

	bk := book.New(cfg.Detection.QuoteStalenessThreshold.Duration)
	normalizer := book.NewNormalizer(bk, deps.Sink, a.logger)

	opps := make(chan domain.Opportunity, 32)
	detector := detect.New(bk, detect.Config{
		Symbols:        cfg.Symbols,
		MinSpread:      cfg.Detection.MinSpreadThreshold,
		PerTradeCap:    cfg.Detection.PerTradeQuantityCap,
		ValidityWindow: cfg.Detection.OpportunityValidity.Duration,
		ScanInterval:   cfg.Detection.ScanInterval.Duration,
		Costs: detect.CostModel{
			PerVenueFeeBps: feeBps,
			DefaultFeeBps:  cfg.Detection.DefaultFeeBps,
			SlippageFrac:   cfg.Detection.SlippageFrac,
		},
	}, opps, deps.Sink, a.logger)

	ledger := risk.NewLedger(risk.Limits{
		PerSymbolCapital: cfg.Risk.PerSymbolCapitalLimit,
		GlobalCapital:    cfg.Risk.GlobalCapitalLimit,
		PerSymbolNetQty:  cfg.Risk.PerSymbolNetQtyLimit,
	}, deps.Sink, a.logger)

	coord := exec.NewCoordinator(brokers, exec.Config{
		LegSubmitTimeout: cfg.Execution.LegSubmitTimeout.Duration,
		UnwindTimeout:    cfg.Execution.UnwindTimeout.Duration,
		LimitTolerance:   cfg.Execution.LimitTolerance,
		ReconcileDelay:   cfg.Execution.ReconcileDelay.Duration,
	}, ledger, bk, deps.OutcomeStore, deps.Sink, a.logger)

	eng := engine.New(engine.Config{
		Symbols:                 cfg.Symbols,
		MaxConcurrentExecutions: cfg.Execution.MaxConcurrentExecutions,
	}, engine.Deps{
		Feeds:         feeds,
		Normalizer:    normalizer,
		Detector:      detector,
		Ledger:        ledger,
		Coordinator:   coord,
		Opportunities: opps,
		OppStore:      deps.OppStore,
		QuoteCache:    deps.QuoteCache,
		Sink:          deps.Sink,
	}, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(ctx) })
	if interval := cfg.Execution.StatusInterval.Duration; interval > 0 && deps.Stats != nil {
		g.Go(func() error { return deps.Stats.RunStatusLoop(ctx, interval, deps.Sink, a.logger) })
	}
	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(ctx, cfg.Archive.Interval.Duration, cfg.Archive.MaxAge.Duration)
		})
	}
	return g.Wait()
}
