package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/clawmarket/internal/crypto"
	"github.com/alanyoungcy/clawmarket/internal/debate"
	"github.com/alanyoungcy/clawmarket/internal/domain"
	"github.com/alanyoungcy/clawmarket/internal/store/memory"
)

type memLog struct {
	mu   sync.Mutex
	recs []domain.DeliveryRecord
}

func (l *memLog) Append(_ context.Context, rec domain.DeliveryRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recs = append(l.recs, rec)
	return nil
}

func (l *memLog) List(_ context.Context, marketID string) ([]domain.DeliveryRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.DeliveryRecord
	for i := len(l.recs) - 1; i >= 0; i-- {
		if l.recs[i].MarketID == marketID {
			out = append(out, l.recs[i])
		}
	}
	return out, nil
}

func (l *memLog) all() []domain.DeliveryRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.DeliveryRecord(nil), l.recs...)
}

type countingReporter struct{ n atomic.Int32 }

func (r *countingReporter) WebhookExhausted(context.Context, domain.DeliveryRecord) error {
	r.n.Add(1)
	return nil
}

type fixture struct {
	d        *Dispatcher
	log      *memLog
	codec    *crypto.Codec
	reporter *countingReporter
	agents   *memory.AgentStore
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	stores := memory.NewStores()
	f := &fixture{
		log:      &memLog{},
		codec:    crypto.NewCodec("test-secret"),
		reporter: &countingReporter{},
		agents:   stores.Agents,
	}
	if cfg.PlatformURL == "" {
		cfg.PlatformURL = "https://claw.example/"
	}
	f.d = New(f.agents, f.codec, f.log, f.reporter, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func (f *fixture) register(t *testing.T, id, endpoint string) {
	t.Helper()
	require.NoError(t, f.agents.Create(context.Background(), domain.Agent{
		ID: id, Name: id, Role: domain.RoleDebater, Endpoint: endpoint,
	}, f.codec.DeriveCredential(id)))
}

func debateMarket() domain.Market {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return domain.Market{
		ID:      "ai-wars",
		Topic:   "Will AGI arrive by 2030?",
		Status:  domain.MarketStatusActive,
		Members: []string{"pro-bot", "con-bot"},
		Stances: map[string]domain.Stance{"pro-bot": domain.StancePro, "con-bot": domain.StanceCon},
		MessageCounts: map[string]int{
			"pro-bot": 2,
			"con-bot": 1,
		},
		Messages: []domain.Message{
			{ID: 1, AgentID: "pro-bot", AgentName: "Pro", Content: "one", Score: 1, CreatedAt: ts},
			{ID: 2, AgentID: "con-bot", AgentName: "Con", Content: "two", CreatedAt: ts.Add(time.Minute)},
			{ID: 3, AgentID: "pro-bot", AgentName: "Pro", Content: "three", CreatedAt: ts.Add(2 * time.Minute)},
		},
	}
}

func TestDeliver_SignedYourTurn(t *testing.T) {
	f := newFixture(t, Config{})

	var got TurnPayload
	var sigOK bool
	var event string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		sigOK = f.codec.Verify(body, r.Header.Get(HeaderSignature))
		event = r.Header.Get(HeaderEvent)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f.register(t, "con-bot", srv.URL)
	m := debateMarket()
	f.d.Deliver(context.Background(), Job{Event: domain.EventYourTurn, Market: m, Trigger: &m.Messages[2]})

	assert.True(t, sigOK, "signature must verify over the exact body")
	assert.Equal(t, "your_turn", event)
	assert.Equal(t, domain.EventYourTurn, got.Event)
	assert.Equal(t, "ai-wars", got.DebateID)
	assert.Equal(t, domain.StanceCon, got.YourStance)
	assert.Equal(t, "con-bot", got.YourAgentID)
	assert.Equal(t, "pro-bot", got.OpponentAgentID)
	assert.Equal(t, 3, got.MessagesCount)
	assert.Equal(t, 4, got.YourMessagesLeft)
	require.NotNil(t, got.LastMessage)
	assert.Equal(t, "three", got.LastMessage.Content)
	require.Len(t, got.AllMessages, 3)
	assert.Equal(t, 1, got.AllMessages[0].Score)
	assert.Equal(t, "https://claw.example/api/groups/ai-wars/messages", got.ReplyURL)

	recs := f.log.all()
	require.Len(t, recs, 1)
	assert.Equal(t, domain.DeliveryDelivered, recs[0].Status)
	assert.Equal(t, "con-bot", recs[0].AgentID)
	assert.Equal(t, "200 (attempt 1)", recs[0].Detail)
}

func TestDeliver_SkipsAgentWithoutEndpoint(t *testing.T) {
	f := newFixture(t, Config{})
	f.register(t, "pro-bot", "none")
	f.register(t, "con-bot", "")

	m := debateMarket()
	f.d.Deliver(context.Background(), Job{Event: domain.EventYourTurn, Market: m, Trigger: &m.Messages[2]})
	f.d.Deliver(context.Background(), Job{Event: domain.EventDebateStart, Market: m})

	recs := f.log.all()
	require.Len(t, recs, 2)
	assert.Equal(t, domain.DeliverySkipped, recs[0].Status)
	assert.Equal(t, "con-bot", recs[0].AgentID)
	assert.Equal(t, domain.DeliverySkipped, recs[1].Status)
	assert.Equal(t, "pro-bot", recs[1].AgentID)
	assert.Equal(t, "No endpoint (initial turn)", recs[1].Detail)
}

func TestDeliver_RetriesOnceThenSucceeds(t *testing.T) {
	f := newFixture(t, Config{RetryDelay: time.Millisecond})
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()
	f.register(t, "pro-bot", srv.URL)

	m := debateMarket()
	f.d.Deliver(context.Background(), Job{Event: domain.EventDebateStart, Market: m})

	assert.Equal(t, int32(2), calls.Load())
	recs := f.log.all()
	require.Len(t, recs, 2)
	assert.Equal(t, domain.DeliveryFailed, recs[0].Status)
	assert.Equal(t, "HTTP 502 (attempt 1)", recs[0].Detail)
	assert.Equal(t, domain.DeliveryDelivered, recs[1].Status)
	assert.Equal(t, 2, recs[1].Attempt)
	assert.Zero(t, f.reporter.n.Load())
}

func TestDeliver_TimeoutExhaustsRetries(t *testing.T) {
	f := newFixture(t, Config{Timeout: 50 * time.Millisecond, RetryDelay: time.Millisecond})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)
	f.register(t, "con-bot", srv.URL)

	m := debateMarket()
	f.d.Deliver(context.Background(), Job{Event: domain.EventYourTurn, Market: m, Trigger: &m.Messages[2]})

	recs := f.log.all()
	require.Len(t, recs, 2, "one attempt plus one retry")
	for _, rec := range recs {
		assert.Equal(t, domain.DeliveryFailed, rec.Status)
		assert.Contains(t, rec.Detail, "timeout")
	}
	assert.Equal(t, int32(1), f.reporter.n.Load())
}

func TestDeliver_UnknownRecipientIsError(t *testing.T) {
	f := newFixture(t, Config{})
	m := debateMarket()
	f.d.Deliver(context.Background(), Job{Event: domain.EventYourTurn, Market: m, Trigger: &m.Messages[2]})

	recs := f.log.all()
	require.Len(t, recs, 1)
	assert.Equal(t, domain.DeliveryError, recs[0].Status)
}

func TestDeliver_NoOpponentYet(t *testing.T) {
	f := newFixture(t, Config{})
	m := domain.Market{ID: "solo", Stances: map[string]domain.Stance{"pro-bot": domain.StancePro}}
	msg := domain.Message{ID: 9, AgentID: "pro-bot"}
	f.d.Deliver(context.Background(), Job{Event: domain.EventYourTurn, Market: m, Trigger: &msg})
	assert.Empty(t, f.log.all())
}

func TestRun_DeliversQueuedTurnsOnce(t *testing.T) {
	f := newFixture(t, Config{Workers: 2})
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	f.register(t, "con-bot", srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = f.d.Run(ctx)
		close(done)
	}()

	m := debateMarket()
	assert.True(t, f.d.DispatchTurn(m, m.Messages[2]))
	assert.False(t, f.d.DispatchTurn(m, m.Messages[2]), "same turn is deduplicated")

	require.Eventually(t, func() bool { return len(f.log.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, int32(1), calls.Load())
}

func TestEnqueue_FullQueueRecordsError(t *testing.T) {
	f := newFixture(t, Config{QueueSize: 1})
	m := debateMarket()

	assert.True(t, f.d.DispatchInitialTurn(m))
	assert.False(t, f.d.DispatchTurn(m, m.Messages[2]))

	recs := f.log.all()
	require.Len(t, recs, 1)
	assert.Equal(t, domain.DeliveryError, recs[0].Status)
	assert.Equal(t, "dispatch queue full", recs[0].Detail)
}

func TestBuildPayload_DebateStart(t *testing.T) {
	m := debateMarket()
	m.Topic = ""
	m.Messages = nil
	m.MessageCounts = map[string]int{}

	p := BuildPayload(domain.EventDebateStart, &m, nil, "pro-bot", 5, "http://localhost:3000")
	assert.Equal(t, "Open topic", p.Topic)
	assert.Equal(t, "con-bot", p.OpponentAgentID)
	assert.Equal(t, 5, p.YourMessagesLeft)
	assert.Nil(t, p.LastMessage)
	assert.NotNil(t, p.AllMessages)

	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"lastMessage":null`)
	assert.Contains(t, string(b), `"allMessages":[]`)
}

func TestConfig_MessageCapFollowsDebateRules(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, debate.DefaultMessageCap, cfg.MessageCap)

	m := debateMarket()
	p := BuildPayload(domain.EventYourTurn, &m, &m.Messages[2], "con-bot", cfg.MessageCap, "http://localhost:3000")
	assert.Equal(t, debate.DefaultMessageCap-1, p.YourMessagesLeft)
}

func TestDedup(t *testing.T) {
	d := NewDedup(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	assert.False(t, d.IsDuplicate("k"))
	assert.True(t, d.IsDuplicate("k"))

	now = now.Add(2 * time.Minute)
	d.Cleanup()
	assert.False(t, d.IsDuplicate("k"))

	d.Forget("k")
	assert.False(t, d.IsDuplicate("k"))
}
