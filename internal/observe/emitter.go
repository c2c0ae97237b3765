// Package observe fans engine events out to the configured sinks: structured
// logs, the signal bus, the audit store, and the operator notifier for fatal
// alerts. The core components only ever see the EventSink interface.
package observe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/notify"
)

// eventsChannel is the bus channel and durable stream engine events go to.
const eventsChannel = "events"

// fatalEvents are always forwarded to the notifier, bypassing its event
// filter; they require a human.
var fatalEvents = map[string]bool{
	domain.EventFatalAlert:     true,
	domain.EventReconciliation: true,
}

// Emitter implements domain.EventSink. Every sink besides the logger is
// optional; a failing sink is logged and skipped, emission never propagates
// errors back into the trading path.
type Emitter struct {
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier *notify.Notifier
	stats    *Stats
	logger   *slog.Logger
	timeout  time.Duration
}

// NewEmitter creates an emitter. bus, audit, notifier, and stats may be nil.
func NewEmitter(bus domain.SignalBus, audit domain.AuditStore, notifier *notify.Notifier, stats *Stats, logger *slog.Logger) *Emitter {
	return &Emitter{
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		stats:    stats,
		logger:   logger.With(slog.String("component", "emitter")),
		timeout:  2 * time.Second,
	}
}

// Emit dispatches one structured event to all configured sinks.
func (e *Emitter) Emit(event string, fields map[string]any) {
	if e.stats != nil {
		e.stats.Count(event)
	}

	attrs := make([]any, 0, len(fields)+1)
	attrs = append(attrs, slog.String("event", event))
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	if fatalEvents[event] {
		e.logger.Error("engine event", attrs...)
	} else {
		e.logger.Info("engine event", attrs...)
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	if e.bus != nil {
		payload := busPayload(event, fields)
		if err := e.bus.Publish(ctx, eventsChannel, payload); err != nil {
			e.logger.Warn("bus publish failed", slog.String("error", err.Error()))
		}
		if err := e.bus.StreamAppend(ctx, eventsChannel, payload); err != nil {
			e.logger.Warn("stream append failed", slog.String("error", err.Error()))
		}
	}
	if e.audit != nil {
		if err := e.audit.Log(ctx, event, fields); err != nil {
			e.logger.Warn("audit log failed", slog.String("error", err.Error()))
		}
	}
	if e.notifier != nil {
		title := fmt.Sprintf("crossarb: %s", event)
		body := notifyBody(fields)
		var err error
		if fatalEvents[event] {
			err = e.notifier.NotifyAll(ctx, title, body)
		} else {
			err = e.notifier.Notify(ctx, event, title, body)
		}
		if err != nil {
			e.logger.Warn("notify failed", slog.String("error", err.Error()))
		}
	}
}

func busPayload(event string, fields map[string]any) []byte {
	m := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		m[k] = v
	}
	m["event"] = event
	m["emitted_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	b, _ := json.Marshal(m)
	return b
}

func notifyBody(fields map[string]any) string {
	b, _ := json.MarshalIndent(fields, "", "  ")
	return string(b)
}

var _ domain.EventSink = (*Emitter)(nil)
