package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/clawmarket/internal/domain"
)

type chanBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	sub       chan []byte
	pubErr    error
}

func newChanBus() *chanBus {
	return &chanBus{published: map[string][][]byte{}, sub: make(chan []byte, 8)}
}

func (b *chanBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubErr != nil {
		return b.pubErr
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	if channel != AllMarkets {
		return nil, errors.New("unexpected channel " + channel)
	}
	return b.sub, nil
}

type sinkFunc func(domain.Event)

func (f sinkFunc) Broadcast(ev domain.Event) { f(ev) }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPublisher_PublishesOnMarketChannel(t *testing.T) {
	bus := newChanBus()
	p := NewPublisher(bus, discard())
	p.now = func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) }

	p.Publish(context.Background(), domain.EventVoteRecorded, "ai-wars", map[string]int{"score": 2})

	msgs := bus.published["market:ai-wars"]
	require.Len(t, msgs, 1)
	var ev domain.Event
	require.NoError(t, json.Unmarshal(msgs[0], &ev))
	assert.Equal(t, domain.EventVoteRecorded, ev.Type)
	assert.Equal(t, "ai-wars", ev.MarketID)
	assert.JSONEq(t, `{"score":2}`, string(ev.Payload))
}

func TestPublisher_NilSafe(t *testing.T) {
	var p *Publisher
	p.Publish(context.Background(), domain.EventMemberJoined, "x", nil)

	bus := newChanBus()
	bus.pubErr = errors.New("down")
	NewPublisher(bus, discard()).Publish(context.Background(), domain.EventMemberJoined, "x", nil)
	assert.Empty(t, bus.published)
}

func TestRelay_ForwardsDecodedEvents(t *testing.T) {
	bus := newChanBus()
	got := make(chan domain.Event, 4)
	r := NewRelay(bus, sinkFunc(func(ev domain.Event) { got <- ev }), discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	bus.sub <- []byte("not json")
	bus.sub <- []byte(`{"type":"status_changed"}`)
	bus.sub <- []byte(`{"type":"message_posted","groupId":"tech-bets"}`)

	select {
	case ev := <-got:
		assert.Equal(t, domain.EventMessagePosted, ev.Type)
		assert.Equal(t, "tech-bets", ev.MarketID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not relayed")
	}
	assert.Empty(t, got)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
