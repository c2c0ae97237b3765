package observe

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Stats keeps running counters of engine activity and periodically emits a
// status event so operators can see throughput and error rates at a glance.
type Stats struct {
	startedAt time.Time

	mu     sync.Mutex
	counts map[string]int64
}

// NewStats creates an empty counter set anchored at now.
func NewStats() *Stats {
	return &Stats{
		startedAt: time.Now(),
		counts:    make(map[string]int64),
	}
}

// Count increments the counter for one event name.
func (s *Stats) Count(event string) {
	s.mu.Lock()
	s.counts[event]++
	s.mu.Unlock()
}

// Get returns the current count for an event name.
func (s *Stats) Get(event string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[event]
}

// Summary returns a snapshot of all counters plus derived rates.
func (s *Stats) Summary() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	uptime := time.Since(s.startedAt)
	detected := s.counts[domain.EventOpportunityDetected]
	denied := s.counts[domain.EventOpportunityDenied]
	executed := s.counts[domain.EventExecutionDone]
	failures := s.counts[domain.EventFatalAlert] + s.counts[domain.EventReconciliation]

	perSec := 0.0
	if secs := uptime.Seconds(); secs > 0 {
		perSec = float64(detected) / secs
	}
	errorRate := 0.0
	if total := executed + failures; total > 0 {
		errorRate = float64(failures) / float64(total)
	}

	return map[string]any{
		"uptime_seconds":         int64(uptime.Seconds()),
		"opportunities_detected": detected,
		"opportunities_denied":   denied,
		"executions":             executed,
		"opportunities_per_sec":  perSec,
		"error_rate":             errorRate,
		"quotes_dropped":         s.counts[domain.EventQuoteDropped],
		"legs_submitted":         s.counts[domain.EventLegSubmitted],
		"legs_filled":            s.counts[domain.EventLegFilled],
		"legs_failed":            s.counts[domain.EventLegFailed],
		"unwinds":                s.counts[domain.EventUnwindDone],
		"fatal_alerts":           s.counts[domain.EventFatalAlert],
		"reconciliation_alerts":  s.counts[domain.EventReconciliation],
	}
}

// RunStatusLoop emits a status event through sink every interval until ctx is
// cancelled.
func (s *Stats) RunStatusLoop(ctx context.Context, interval time.Duration, sink domain.EventSink, logger *slog.Logger) error {
	log := logger.With(slog.String("component", "stats"))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Info("status loop started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sink.Emit(domain.EventStatus, s.Summary())
		}
	}
}
