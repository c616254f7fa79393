// Package notify sends operator alerts about resolutions and sweeps to
// Discord and Telegram. Alerts can be filtered by event so operators only
// receive the ones they care about.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alanyoungcy/clawmarket/internal/domain"
)

// Alert events.
const (
	EventMarketResolved   = "market_resolved"
	EventResolutionFailed = "resolution_failed"
	EventSweepCompleted   = "sweep_completed"
	EventWebhookExhausted = "webhook_exhausted"
)

// Level drives the colour or emoji a sender uses.
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

// Alert is one operator notification.
type Alert struct {
	Event string
	Level Level
	Title string
	Body  string
}

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, a Alert) error
	Name() string
}

// Notifier fans alerts out to every sender. A nil *Notifier is valid and
// drops everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier returns a Notifier forwarding the given events. An empty
// events list forwards all of them.
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

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Notify delivers a unless its event is filtered out. Sender failures are
// logged and joined into the returned error; one failing sender does not
// stop the others.
func (n *Notifier) Notify(ctx context.Context, a Alert) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[a.Event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", a.Event))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, a); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", a.Event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", a.Event),
		)
	}
	return errors.Join(errs...)
}

// MarketResolved reports a successful resolution.
func (n *Notifier) MarketResolved(ctx context.Context, r domain.ResolveResult) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Winner: %s (%s)\n", r.WinnerID, r.WinnerStance)
	ids := make([]string, 0, len(r.Scores))
	for id := range r.Scores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		s := r.Scores[id]
		fmt.Fprintf(&b, "%s [%s]: total %d, best %d\n", id, s.Stance, s.TotalScore, s.BestMessage)
	}
	if r.Onchain {
		fmt.Fprintf(&b, "Tx: %s (block %d)\n", r.TxHash, r.BlockNumber)
	}
	if r.Rake != "" {
		fmt.Fprintf(&b, "Rake: %s, payouts: %d", r.Rake, len(r.Payouts))
	}
	return n.Notify(ctx, Alert{
		Event: EventMarketResolved,
		Level: LevelInfo,
		Title: "Debate resolved: " + r.MarketID,
		Body:  strings.TrimSpace(b.String()),
	})
}

// ResolutionFailed reports a failed resolution attempt.
func (n *Notifier) ResolutionFailed(ctx context.Context, marketID string, reason domain.FailureReason, detail string) error {
	body := "Reason: " + string(reason)
	if detail != "" {
		body += "\n" + detail
	}
	return n.Notify(ctx, Alert{
		Event: EventResolutionFailed,
		Level: LevelError,
		Title: "Resolution failed: " + marketID,
		Body:  body,
	})
}

// SweepCompleted summarises one sweep run. Empty sweeps are not reported.
func (n *Notifier) SweepCompleted(ctx context.Context, res domain.SweepResult) error {
	if len(res.Resolved) == 0 && len(res.Failed) == 0 {
		return nil
	}
	level := LevelInfo
	if len(res.Failed) > 0 {
		level = LevelWarn
	}
	body := fmt.Sprintf("Resolved: %d\nFailed: %d\nSkipped: %d", len(res.Resolved), len(res.Failed), len(res.Skipped))
	for _, f := range res.Failed {
		body += fmt.Sprintf("\n%s: %s", f.MarketID, f.Reason)
	}
	return n.Notify(ctx, Alert{
		Event: EventSweepCompleted,
		Level: level,
		Title: "Oracle sweep",
		Body:  body,
	})
}

// WebhookExhausted reports a turn that could not be delivered after retries.
func (n *Notifier) WebhookExhausted(ctx context.Context, rec domain.DeliveryRecord) error {
	return n.Notify(ctx, Alert{
		Event: EventWebhookExhausted,
		Level: LevelWarn,
		Title: "Turn delivery failed: " + rec.MarketID,
		Body:  fmt.Sprintf("Agent %s missed %s after %d attempts: %s", rec.AgentID, rec.Event, rec.Attempt, rec.Detail),
	})
}
