// Package notify delivers market alerts to operator channels (Discord,
// Telegram). Alerts are filtered by event type so operators receive only
// the ones they subscribed to.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Alert event types.
const (
	EventMarketProposed = "market_proposed"
	EventMarketResolved = "market_resolved"
	EventFetchExhausted = "fetch_exhausted"
)

// Field is a labelled value rendered under the alert body.
type Field struct {
	Name  string
	Value string
}

// Alert is one operator notification about a market.
type Alert struct {
	Event  string
	Market string
	Title  string
	Body   string
	Fields []Field
}

// Sender is the interface that each notification channel must implement.
type Sender interface {
	Send(ctx context.Context, a Alert) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches alerts to one or more Senders.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders.
// If events is empty, all event types are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether alerts of the given event type are delivered.
func (n *Notifier) Enabled(event string) bool {
	if n == nil || len(n.senders) == 0 {
		return false
	}
	return len(n.events) == 0 || n.events[event]
}

// Notify sends a to every sender if its event type is allowed. A failing
// sender does not prevent delivery to the others.
func (n *Notifier) Notify(ctx context.Context, a Alert) error {
	if !n.Enabled(a.Event) {
		if n != nil {
			n.logger.DebugContext(ctx, "alert filtered out",
				slog.String("event", a.Event),
				slog.String("market", a.Market),
			)
		}
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, a); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "alert sent",
			slog.String("sender", s.Name()),
			slog.String("event", a.Event),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}
