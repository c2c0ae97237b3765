// Package notify delivers operator alerts over external channels (Telegram,
// Discord). Routine events can be filtered by type, and repeated alerts for
// the same event type are throttled so a flapping venue cannot spam the
// on-call channel.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Sender is one delivery channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name identifies the channel ("telegram", "discord").
	Name() string
}

// Notifier fans a notification out to every registered sender. Notify applies
// the event-type filter and the per-event cooldown; NotifyAll bypasses the
// filter but still respects the cooldown.
type Notifier struct {
	senders  []Sender
	events   map[string]bool
	cooldown time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
	now      func() time.Time
}

// NewNotifier creates a Notifier delivering to senders. Only event types
// listed in events pass the Notify filter; an empty list allows everything.
// cooldown <= 0 disables throttling.
func NewNotifier(senders []Sender, events []string, cooldown time.Duration, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders:  senders,
		events:   allowed,
		cooldown: cooldown,
		logger:   logger.With(slog.String("component", "notifier")),
		lastSent: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Notify delivers a notification for one event type, subject to the event
// filter and the per-event cooldown.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}
	if n.throttled(event) {
		n.logger.DebugContext(ctx, "event throttled",
			slog.String("event", event),
		)
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll delivers regardless of event type. Used for fatal alerts; the
// cooldown still applies per title so identical alerts coalesce.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	if n.throttled(title) {
		n.logger.DebugContext(ctx, "alert throttled",
			slog.String("title", title),
		)
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// throttled reports whether key fired within the cooldown window, and records
// this attempt if not.
func (n *Notifier) throttled(key string) bool {
	if n.cooldown <= 0 {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	if last, ok := n.lastSent[key]; ok && now.Sub(last) < n.cooldown {
		return true
	}
	n.lastSent[key] = now
	return false
}

// dispatch sends to every sender. One failing channel does not block the
// others; failures are combined into a single error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// clamp truncates s to max bytes, marking the cut. Both Telegram and Discord
// reject over-length messages outright.
func clamp(s string, max int) string {
	if len(s) <= max {
		return s
	}
	const marker = "\n[truncated]"
	return s[:max-len(marker)] + marker
}
