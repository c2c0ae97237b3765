// Package risk holds the position and risk ledger: live exposure, open
// capital reservations, and the authorization gate in front of execution.
package risk

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Limits are the externally supplied risk limits.
type Limits struct {
	PerSymbolCapital float64
	GlobalCapital    float64
	PerSymbolNetQty  float64 // max absolute net position per (symbol, venue); 0 disables
}

// Fill is a confirmed execution applied to positions on release.
type Fill struct {
	Venue    string
	Symbol   string
	Side     domain.OrderSide
	Quantity float64
	Price    float64
}

// ReleaseOutcome carries what actually happened to a reservation's execution.
type ReleaseOutcome struct {
	Fills       []Fill
	RealizedPnL float64
}

// Ledger tracks positions and held reservations and authorizes opportunities
// against the configured limits. A single mutex serializes authorization so
// the check-then-commit of capital is indivisible: two concurrent requests can
// never jointly over-commit past a limit.
type Ledger struct {
	limits Limits
	sink   domain.EventSink
	logger *slog.Logger

	mu           sync.Mutex
	reservations map[string]*domain.Reservation // opportunityID -> reservation
	bySymbol     map[string]float64             // committed capital per symbol
	committed    float64                        // committed capital, global
	positions    map[string]domain.Position     // venue|symbol -> position
}

// NewLedger creates an empty ledger with the given limits.
func NewLedger(limits Limits, sink domain.EventSink, logger *slog.Logger) *Ledger {
	if sink == nil {
		sink = domain.NopSink{}
	}
	return &Ledger{
		limits:       limits,
		sink:         sink,
		logger:       logger.With(slog.String("component", "risk_ledger")),
		reservations: make(map[string]*domain.Reservation),
		bySymbol:     make(map[string]float64),
		positions:    make(map[string]domain.Position),
	}
}

func posKey(venue, symbol string) string { return venue + "|" + symbol }

// Authorize checks, as one atomic step: (a) the opportunity has not expired,
// (b) projected post-trade exposure stays within the per-symbol and global
// capital limits, and (c) enough uncommitted capital remains after all held
// reservations. On success the reservation is created inside the same
// critical section. A denial is a returned value, never an error.
func (l *Ledger) Authorize(opp domain.Opportunity, now time.Time) (domain.Reservation, *domain.Denial) {
	if opp.Expired(now) {
		return domain.Reservation{}, l.deny(opp, domain.DenialExpired,
			fmt.Sprintf("expired at %s", opp.ExpiresAt.Format(time.RFC3339Nano)))
	}

	capital := opp.BuyPrice * opp.MaxQuantity

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, held := l.reservations[opp.ID]; held {
		return domain.Reservation{}, l.deny(opp, domain.DenialLimitExceeded, "reservation already held")
	}

	if l.limits.PerSymbolNetQty > 0 {
		buyNet := math.Abs(l.netQtyLocked(opp.BuyVenue, opp.Symbol) + opp.MaxQuantity)
		sellNet := math.Abs(l.netQtyLocked(opp.SellVenue, opp.Symbol) - opp.MaxQuantity)
		if buyNet > l.limits.PerSymbolNetQty || sellNet > l.limits.PerSymbolNetQty {
			return domain.Reservation{}, l.deny(opp, domain.DenialLimitExceeded,
				fmt.Sprintf("projected net quantity %.4f/%.4f exceeds %.4f", buyNet, sellNet, l.limits.PerSymbolNetQty))
		}
	}

	if l.limits.PerSymbolCapital > 0 && l.bySymbol[opp.Symbol]+capital > l.limits.PerSymbolCapital {
		return domain.Reservation{}, l.deny(opp, domain.DenialLimitExceeded,
			fmt.Sprintf("symbol capital %.2f+%.2f exceeds %.2f", l.bySymbol[opp.Symbol], capital, l.limits.PerSymbolCapital))
	}
	if l.limits.GlobalCapital > 0 && l.committed+capital > l.limits.GlobalCapital {
		return domain.Reservation{}, l.deny(opp, domain.DenialInsufficientCapital,
			fmt.Sprintf("global capital %.2f+%.2f exceeds %.2f", l.committed, capital, l.limits.GlobalCapital))
	}

	res := domain.Reservation{
		OpportunityID:    opp.ID,
		Symbol:           opp.Symbol,
		Quantity:         opp.MaxQuantity,
		CapitalCommitted: capital,
		State:            domain.ReservationHeld,
		CreatedAt:        now,
	}
	l.reservations[opp.ID] = &res
	l.bySymbol[opp.Symbol] += capital
	l.committed += capital

	l.logger.Info("opportunity authorized",
		slog.String("opportunity_id", opp.ID),
		slog.String("symbol", opp.Symbol),
		slog.Float64("capital", capital),
	)
	return res, nil
}

// deny logs and emits a denial.
func (l *Ledger) deny(opp domain.Opportunity, reason domain.DenialReason, detail string) *domain.Denial {
	l.logger.Warn("opportunity denied",
		slog.String("opportunity_id", opp.ID),
		slog.String("reason", string(reason)),
		slog.String("detail", detail),
	)
	l.sink.Emit(domain.EventOpportunityDenied, map[string]any{
		"opportunity_id": opp.ID,
		"symbol":         opp.Symbol,
		"reason":         string(reason),
		"detail":         detail,
	})
	return &domain.Denial{OpportunityID: opp.ID, Reason: reason, Detail: detail}
}

// Release frees the capital held by the reservation for opportunityID and
// applies the outcome's confirmed fills to positions. It is idempotent:
// releasing an already-released (or unknown) reservation is a no-op.
func (l *Ledger) Release(opportunityID string, outcome ReleaseOutcome) {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.reservations[opportunityID]
	if !ok || res.State == domain.ReservationReleased {
		return
	}
	res.State = domain.ReservationReleased
	l.bySymbol[res.Symbol] -= res.CapitalCommitted
	if l.bySymbol[res.Symbol] < 0 {
		l.bySymbol[res.Symbol] = 0
	}
	l.committed -= res.CapitalCommitted
	if l.committed < 0 {
		l.committed = 0
	}

	for _, f := range outcome.Fills {
		l.applyFillLocked(f)
	}

	l.logger.Info("reservation released",
		slog.String("opportunity_id", opportunityID),
		slog.Float64("capital_freed", res.CapitalCommitted),
		slog.Int("fills", len(outcome.Fills)),
		slog.Float64("realized_pnl", outcome.RealizedPnL),
	)
}

// applyFillLocked adjusts the (venue, symbol) position with weighted average
// cost. Caller holds l.mu.
func (l *Ledger) applyFillLocked(f Fill) {
	if f.Quantity <= 0 {
		return
	}
	delta := f.Quantity
	if f.Side == domain.OrderSideSell {
		delta = -f.Quantity
	}
	key := posKey(f.Venue, f.Symbol)
	pos := l.positions[key]
	pos.Venue = f.Venue
	pos.Symbol = f.Symbol

	totalValue := pos.AverageCost*pos.Quantity + f.Price*delta
	pos.Quantity += delta
	if pos.Quantity != 0 {
		pos.AverageCost = totalValue / pos.Quantity
	} else {
		pos.AverageCost = 0
	}
	l.positions[key] = pos
}

// netQtyLocked returns the net quantity at (venue, symbol). Caller holds l.mu.
func (l *Ledger) netQtyLocked(venue, symbol string) float64 {
	return l.positions[posKey(venue, symbol)].Quantity
}

// CommittedCapital returns the capital currently held for symbol.
func (l *Ledger) CommittedCapital(symbol string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bySymbol[symbol]
}

// GlobalCommitted returns the total capital across all held reservations.
func (l *Ledger) GlobalCommitted() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.committed
}

// Position returns the live position at (venue, symbol).
func (l *Ledger) Position(venue, symbol string) domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.positions[posKey(venue, symbol)]
}

// Positions returns a copy of all non-flat positions.
func (l *Ledger) Positions() []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		if p.Quantity != 0 {
			out = append(out, p)
		}
	}
	return out
}
