// Package feed carries live market events between the services that produce
// them and the websocket hub that fans them out to spectators.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/clawmarket/internal/domain"
)

// Publisher writes market events to the signal bus. Publishing is best
// effort: a dropped live event only delays a spectator until its next read.
type Publisher struct {
	bus    domain.SignalBus
	logger *slog.Logger
	now    func() time.Time
}

// NewPublisher creates a Publisher. A nil bus turns every call into a no-op.
func NewPublisher(bus domain.SignalBus, logger *slog.Logger) *Publisher {
	return &Publisher{
		bus:    bus,
		logger: logger.With(slog.String("component", "feed_publisher")),
		now:    time.Now,
	}
}

// Publish sends one event on the market's channel.
func (p *Publisher) Publish(ctx context.Context, typ domain.EventType, marketID string, payload any) {
	if p == nil || p.bus == nil {
		return
	}
	ev := domain.Event{Type: typ, MarketID: marketID, At: p.now().UTC()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			p.logger.WarnContext(ctx, "feed: marshal payload failed",
				slog.String("type", string(typ)),
				slog.String("error", err.Error()),
			)
			return
		}
		ev.Payload = raw
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := p.bus.Publish(context.WithoutCancel(ctx), domain.MarketChannel(marketID), data); err != nil {
		p.logger.WarnContext(ctx, "feed: publish failed",
			slog.String("market_id", marketID),
			slog.String("type", string(typ)),
			slog.String("error", err.Error()),
		)
	}
}
