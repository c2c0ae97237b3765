package domain

// Engine event names emitted through the observability sink. The sink stores
// or displays them however it likes; the core only guarantees the names and
// field shapes are stable.
const (
	EventQuoteDropped        = "quote_dropped"
	EventOpportunityDetected = "opportunity_detected"
	EventOpportunityDenied   = "opportunity_denied"
	EventLegSubmitted        = "leg_submitted"
	EventLegFilled           = "leg_filled"
	EventLegFailed           = "leg_failed"
	EventUnwindStarted       = "unwind_started"
	EventUnwindDone          = "unwind_done"
	EventFatalAlert          = "fatal_alert"
	EventReconciliation      = "reconciliation_alert"
	EventExecutionDone       = "execution_done"
	EventStatus              = "status"
)

// EventSink receives structured engine events. Implementations must be safe
// for concurrent use and must never block the caller on external I/O failure.
type EventSink interface {
	Emit(event string, fields map[string]any)
}

// NopSink discards all events. Useful default for tests.
type NopSink struct{}

func (NopSink) Emit(string, map[string]any) {}
