package feed

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/clawmarket/internal/domain"
)

// AllMarkets is the pattern covering every market channel.
const AllMarkets = "market:*"

// Sink receives decoded events, typically the websocket hub.
type Sink interface {
	Broadcast(ev domain.Event)
}

// Relay subscribes to every market channel and forwards events to a Sink.
type Relay struct {
	bus    domain.SignalBus
	sink   Sink
	logger *slog.Logger
}

// NewRelay creates a Relay.
func NewRelay(bus domain.SignalBus, sink Sink, logger *slog.Logger) *Relay {
	return &Relay{
		bus:    bus,
		sink:   sink,
		logger: logger.With(slog.String("component", "feed_relay")),
	}
}

// Run subscribes to "market:*" and forwards until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ch, err := r.bus.Subscribe(ctx, AllMarkets)
	if err != nil {
		return err
	}
	r.logger.Info("feed relay started")
	defer r.logger.Info("feed relay stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			var ev domain.Event
			if err := json.Unmarshal(data, &ev); err != nil {
				r.logger.Debug("feed relay dropped malformed event",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(data)),
				)
				continue
			}
			if ev.MarketID == "" {
				continue
			}
			r.sink.Broadcast(ev)
		}
	}
}
