// Package engine supervises the arbitrage pipeline: venue feeds into the
// normalizer and consolidated book, the detector over the book, and the
// authorize-then-execute loop behind the risk ledger.
package engine

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/crossarb/internal/book"
	"github.com/alanyoungcy/crossarb/internal/detect"
	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/exec"
	"github.com/alanyoungcy/crossarb/internal/risk"
)

// Config holds the engine's own knobs; component configs live with their
// packages.
type Config struct {
	Symbols                 []string
	MaxConcurrentExecutions int
}

// Engine owns the long-running goroutines of one trading process.
type Engine struct {
	cfg        Config
	feeds      []domain.Feed
	normalizer *book.Normalizer
	detector   *detect.Detector
	ledger     *risk.Ledger
	coord      *exec.Coordinator
	opps       <-chan domain.Opportunity
	oppStore   domain.OpportunityStore
	quoteCache domain.QuoteCache
	sink       domain.EventSink
	logger     *slog.Logger
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Feeds         []domain.Feed
	Normalizer    *book.Normalizer
	Detector      *detect.Detector
	Ledger        *risk.Ledger
	Coordinator   *exec.Coordinator
	Opportunities <-chan domain.Opportunity
	OppStore      domain.OpportunityStore // optional
	QuoteCache    domain.QuoteCache       // optional
	Sink          domain.EventSink
}

// New creates an engine from its collaborators.
func New(cfg Config, d Deps, logger *slog.Logger) *Engine {
	sink := d.Sink
	if sink == nil {
		sink = domain.NopSink{}
	}
	if cfg.MaxConcurrentExecutions <= 0 {
		cfg.MaxConcurrentExecutions = 4
	}
	return &Engine{
		cfg:        cfg,
		feeds:      d.Feeds,
		normalizer: d.Normalizer,
		detector:   d.Detector,
		ledger:     d.Ledger,
		coord:      d.Coordinator,
		opps:       d.Opportunities,
		oppStore:   d.OppStore,
		quoteCache: d.QuoteCache,
		sink:       sink,
		logger:     logger.With(slog.String("component", "engine")),
	}
}

// Run starts one goroutine per venue feed, the detector, and the execution
// loop, and blocks until ctx is cancelled or a supervised task fails.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting",
		slog.Int("feeds", len(e.feeds)),
		slog.Int("symbols", len(e.cfg.Symbols)),
	)
	defer e.logger.Info("engine stopped")

	g, ctx := errgroup.WithContext(ctx)

	for _, feed := range e.feeds {
		feed := feed
		g.Go(func() error { return e.runFeed(ctx, feed) })
	}
	g.Go(func() error { return e.detector.Run(ctx) })
	g.Go(func() error { return e.runExecutions(ctx) })

	err := g.Wait()
	e.coord.Wait()
	return err
}

// runFeed drains one venue's tick stream into the normalizer. Every applied
// quote nudges the detector and refreshes the external quote mirror.
func (e *Engine) runFeed(ctx context.Context, feed domain.Feed) error {
	log := e.logger.With(slog.String("venue", feed.Venue()))
	ticks, err := feed.Subscribe(ctx, e.cfg.Symbols)
	if err != nil {
		return err
	}
	log.Info("feed subscribed")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick, ok := <-ticks:
			if !ok {
				log.Warn("feed closed")
				return nil
			}
			if !e.normalizer.Handle(tick) {
				continue
			}
			e.detector.Trigger()
			if e.quoteCache != nil {
				q := domain.Quote{
					Venue:      tick.Venue,
					Symbol:     tick.Symbol,
					BidPrice:   tick.BidPrice,
					BidSize:    tick.BidSize,
					AskPrice:   tick.AskPrice,
					AskSize:    tick.AskSize,
					ObservedAt: tick.Timestamp,
				}
				cacheCtx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
				if err := e.quoteCache.SetQuote(cacheCtx, q); err != nil {
					log.Debug("quote cache write failed", slog.String("error", err.Error()))
				}
				cancel()
			}
		}
	}
}

// runExecutions consumes detected opportunities, gates them through the risk
// ledger, and spawns one coordinator run per authorization. Concurrency is
// bounded; opportunities arriving while the pool is saturated wait in the
// channel and expire naturally if they wait too long.
func (e *Engine) runExecutions(ctx context.Context) error {
	slots := make(chan struct{}, e.cfg.MaxConcurrentExecutions)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case opp, ok := <-e.opps:
			if !ok {
				return nil
			}
			e.persistOpportunity(ctx, opp)

			res, denial := e.ledger.Authorize(opp, time.Now())
			if denial != nil {
				e.markDenied(ctx, opp, denial)
				continue
			}
			e.markAuthorized(ctx, opp)

			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				// Shutting down before any leg was submitted; the
				// reservation is still cancellable.
				e.ledger.Release(opp.ID, risk.ReleaseOutcome{})
				return ctx.Err()
			}
			go func() {
				defer func() { <-slots }()
				e.coord.Execute(ctx, opp, res)
			}()
		}
	}
}

func (e *Engine) persistOpportunity(ctx context.Context, opp domain.Opportunity) {
	if e.oppStore == nil {
		return
	}
	if err := e.oppStore.Insert(ctx, opp); err != nil {
		e.logger.Warn("opportunity insert failed",
			slog.String("opportunity_id", opp.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) markDenied(ctx context.Context, opp domain.Opportunity, d *domain.Denial) {
	if e.oppStore == nil {
		return
	}
	if err := e.oppStore.MarkDenied(ctx, opp.ID, d.Reason); err != nil {
		e.logger.Warn("opportunity mark denied failed",
			slog.String("opportunity_id", opp.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) markAuthorized(ctx context.Context, opp domain.Opportunity) {
	if e.oppStore == nil {
		return
	}
	if err := e.oppStore.MarkAuthorized(ctx, opp.ID); err != nil {
		e.logger.Warn("opportunity mark authorized failed",
			slog.String("opportunity_id", opp.ID),
			slog.String("error", err.Error()),
		)
	}
}
