// Package notify delivers operator alerts to chat channels. Alerts are
// dispatched to every registered sender (Telegram, Discord) and can be
// filtered by event type so operators receive only what they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Notification is one alert.
type Notification struct {
	Event   string
	Title   string
	Message string
	Time    time.Time
}

// Sender is a notification channel.
type Sender interface {
	Send(ctx context.Context, n Notification) error
	// Name identifies the sender in logs (e.g. "telegram").
	Name() string
}

// Notifier fans notifications out to its senders. Notify forwards only
// allowed events (all events when none are configured) and suppresses
// repeats of the same event and title within the cooldown.
type Notifier struct {
	senders  []Sender
	events   map[string]bool
	cooldown time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
	now      func() time.Time
}

// NewNotifier creates a Notifier. A zero cooldown disables suppression.
func NewNotifier(senders []Sender, events []string, cooldown time.Duration, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders:  senders,
		events:   allowed,
		cooldown: cooldown,
		timeout:  10 * time.Second,
		logger:   logger.With(slog.String("component", "notifier")),
		lastSent: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Notify delivers a notification if its event passes the filter and
// cooldown. Errors from individual senders are combined.
func (n *Notifier) Notify(ctx context.Context, note Notification) error {
	if len(n.senders) == 0 {
		return nil
	}
	if len(n.events) > 0 && !n.events[note.Event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", note.Event))
		return nil
	}
	if note.Time.IsZero() {
		note.Time = n.now().UTC()
	}
	if n.suppressed(note) {
		n.logger.DebugContext(ctx, "notification suppressed by cooldown",
			slog.String("event", note.Event),
			slog.String("title", note.Title),
		)
		return nil
	}
	return n.dispatch(ctx, note)
}

// Alert sends a notification and logs delivery failures instead of
// returning them. It never blocks longer than the send timeout.
func (n *Notifier) Alert(ctx context.Context, event, title, message string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()
	if err := n.Notify(ctx, Notification{Event: event, Title: title, Message: message}); err != nil {
		n.logger.WarnContext(ctx, "alert delivery failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (n *Notifier) suppressed(note Notification) bool {
	if n.cooldown <= 0 {
		return false
	}
	key := note.Event + "|" + note.Title
	n.mu.Lock()
	defer n.mu.Unlock()
	if last, ok := n.lastSent[key]; ok && note.Time.Sub(last) < n.cooldown {
		return true
	}
	n.lastSent[key] = note.Time
	return false
}

func (n *Notifier) dispatch(ctx context.Context, note Notification) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, note); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", note.Title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
