// Package dispatch delivers signed turn notifications to debater endpoints.
// Turns are queued by the market service and sent by a small worker pool, so
// a slow or dead endpoint never holds up the request that posted the message.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/alanyoungcy/clawmarket/internal/debate"
	"github.com/alanyoungcy/clawmarket/internal/domain"
)

// Headers sent with every delivery.
const (
	HeaderSignature = "X-Claw-Signature"
	HeaderEvent     = "X-Claw-Event"
)

// Defaults.
const (
	DefaultTimeout    = 10 * time.Second
	DefaultRetries    = 1
	DefaultRetryDelay = 500 * time.Millisecond
	DefaultQueueSize  = 256
	DefaultWorkers    = 4
	DefaultMessageCap = debate.DefaultMessageCap
	dedupTTL          = 10 * time.Minute
	drainTimeout      = 5 * time.Second
)

// Signer signs the exact body bytes.
type Signer interface {
	Sign(payload []byte) string
}

// AgentLookup resolves the recipient's endpoint.
type AgentLookup interface {
	Get(ctx context.Context, id string) (domain.Agent, error)
}

// ExhaustionReporter is told when every attempt for a turn failed.
type ExhaustionReporter interface {
	WebhookExhausted(ctx context.Context, rec domain.DeliveryRecord) error
}

// Config tunes delivery.
type Config struct {
	PlatformURL string
	Timeout     time.Duration
	Retries     int
	RetryDelay  time.Duration
	QueueSize   int
	Workers     int
	MessageCap  int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MessageCap <= 0 {
		c.MessageCap = DefaultMessageCap
	}
	return c
}

// Job is one queued turn. Market is a snapshot taken right after the
// triggering write; Trigger is the new message for your_turn and nil for
// debate_start.
type Job struct {
	Event   domain.TurnEvent
	Market  domain.Market
	Trigger *domain.Message
}

// key identifies the turn for deduplication.
func (j Job) key() string {
	if j.Trigger != nil {
		return fmt.Sprintf("%s:%s:%d", j.Market.ID, j.Event, j.Trigger.ID)
	}
	return j.Market.ID + ":" + string(j.Event)
}

// recipient is the debater who should act next: the pro debater on
// debate_start, the poster's opponent on your_turn.
func (j Job) recipient() (string, bool) {
	if j.Event == domain.EventDebateStart {
		return j.Market.DebaterFor(domain.StancePro)
	}
	if j.Trigger == nil {
		return "", false
	}
	return j.Market.Opponent(j.Trigger.AgentID)
}

// Dispatcher queues and delivers turns.
type Dispatcher struct {
	agents   AgentLookup
	signer   Signer
	log      domain.DeliveryLog
	reporter ExhaustionReporter
	client   *http.Client
	cfg      Config
	queue    chan Job
	dedup    *Dedup
	logger   *slog.Logger
	now      func() time.Time
	wg       sync.WaitGroup
}

// New creates a Dispatcher. reporter may be nil.
func New(agents AgentLookup, signer Signer, log domain.DeliveryLog, reporter ExhaustionReporter, cfg Config, logger *slog.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		agents:   agents,
		signer:   signer,
		log:      log,
		reporter: reporter,
		client:   &http.Client{},
		cfg:      cfg,
		queue:    make(chan Job, cfg.QueueSize),
		dedup:    NewDedup(dedupTTL),
		logger:   logger.With(slog.String("component", "dispatcher")),
		now:      time.Now,
	}
}

// DispatchTurn queues a your_turn notification for the poster's opponent.
func (d *Dispatcher) DispatchTurn(m domain.Market, msg domain.Message) bool {
	return d.Enqueue(Job{Event: domain.EventYourTurn, Market: m, Trigger: &msg})
}

// DispatchInitialTurn queues the debate_start notification for the pro
// debater.
func (d *Dispatcher) DispatchInitialTurn(m domain.Market) bool {
	return d.Enqueue(Job{Event: domain.EventDebateStart, Market: m})
}

// Enqueue adds a job without blocking. A full queue drops the job and
// records the drop in the delivery log.
func (d *Dispatcher) Enqueue(job Job) bool {
	key := job.key()
	if d.dedup.IsDuplicate(key) {
		d.logger.Debug("turn deduplicated", slog.String("key", key))
		return false
	}
	select {
	case d.queue <- job:
		return true
	default:
		d.dedup.Forget(key)
		d.logger.Error("dispatch queue full, dropping turn",
			slog.String("market_id", job.Market.ID),
			slog.String("event", string(job.Event)),
		)
		agentID, _ := job.recipient()
		d.record(context.Background(), domain.DeliveryRecord{
			AgentID:  agentID,
			MarketID: job.Market.ID,
			Event:    job.Event,
			Status:   domain.DeliveryError,
			Detail:   "dispatch queue full",
		})
		return false
	}
}

// Run starts the workers and blocks until ctx is cancelled. Jobs still
// queued at shutdown are delivered under a short deadline.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.InfoContext(ctx, "dispatcher started", slog.Int("workers", d.cfg.Workers))
	defer d.logger.Info("dispatcher stopped")

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}

	cleanup := time.NewTicker(time.Minute)
	defer cleanup.Stop()
	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			d.drain()
			return nil
		case <-cleanup.C:
			d.dedup.Cleanup()
		}
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-d.queue:
			d.Deliver(ctx, job)
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case job := <-d.queue:
			d.logger.Warn("delivering turn after shutdown", slog.String("market_id", job.Market.ID))
			d.Deliver(ctx, job)
		default:
			return
		}
	}
}

// Deliver sends one turn synchronously, recording every attempt. It never
// returns an error: failures end up in the delivery log.
func (d *Dispatcher) Deliver(ctx context.Context, job Job) {
	log := d.logger.With(
		slog.String("market_id", job.Market.ID),
		slog.String("event", string(job.Event)),
	)

	recipientID, ok := job.recipient()
	if !ok {
		log.DebugContext(ctx, "no recipient yet")
		return
	}

	agent, err := d.agents.Get(ctx, recipientID)
	if err != nil {
		log.ErrorContext(ctx, "recipient lookup failed",
			slog.String("agent_id", recipientID),
			slog.String("error", err.Error()),
		)
		d.record(ctx, domain.DeliveryRecord{
			AgentID:  recipientID,
			MarketID: job.Market.ID,
			Event:    job.Event,
			Status:   domain.DeliveryError,
			Detail:   err.Error(),
		})
		return
	}

	if !agent.HasEndpoint() {
		detail := "No endpoint registered"
		if job.Event == domain.EventDebateStart {
			detail = "No endpoint (initial turn)"
		}
		d.record(ctx, domain.DeliveryRecord{
			AgentID:  recipientID,
			MarketID: job.Market.ID,
			Event:    job.Event,
			Status:   domain.DeliverySkipped,
			Detail:   detail,
		})
		return
	}

	payload := BuildPayload(job.Event, &job.Market, job.Trigger, recipientID, d.cfg.MessageCap, d.cfg.PlatformURL)
	body, err := json.Marshal(payload)
	if err != nil {
		d.record(ctx, domain.DeliveryRecord{
			AgentID:  recipientID,
			MarketID: job.Market.ID,
			Event:    job.Event,
			Status:   domain.DeliveryError,
			Detail:   fmt.Sprintf("marshal payload: %v", err),
		})
		return
	}
	sig := d.signer.Sign(body)

	var last domain.DeliveryRecord
	for attempt := 1; attempt <= d.cfg.Retries+1; attempt++ {
		if attempt > 1 && d.cfg.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.cfg.RetryDelay):
			}
		}

		status, err := d.post(ctx, agent.Endpoint, body, sig, job.Event)
		last = domain.DeliveryRecord{
			AgentID:  recipientID,
			MarketID: job.Market.ID,
			Event:    job.Event,
			Attempt:  attempt,
		}
		switch {
		case err != nil:
			last.Status = domain.DeliveryFailed
			last.Detail = fmt.Sprintf("%s (attempt %d)", err.Error(), attempt)
		case status >= 200 && status < 300:
			last.Status = domain.DeliveryDelivered
			last.Detail = fmt.Sprintf("%d (attempt %d)", status, attempt)
			d.record(ctx, last)
			log.InfoContext(ctx, "turn delivered",
				slog.String("agent_id", recipientID),
				slog.Int("attempt", attempt),
			)
			return
		default:
			last.Status = domain.DeliveryFailed
			last.Detail = fmt.Sprintf("HTTP %d (attempt %d)", status, attempt)
		}
		d.record(ctx, last)
	}

	log.WarnContext(ctx, "all delivery attempts failed",
		slog.String("agent_id", recipientID),
		slog.String("endpoint", agent.Endpoint),
		slog.String("detail", last.Detail),
	)
	if d.reporter != nil {
		if err := d.reporter.WebhookExhausted(ctx, last); err != nil {
			log.WarnContext(ctx, "exhaustion alert failed", slog.String("error", err.Error()))
		}
	}
}

// post performs one attempt bounded by the configured timeout.
func (d *Dispatcher) post(ctx context.Context, url string, body []byte, sig string, event domain.TurnEvent) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, sig)
	req.Header.Set(HeaderEvent, string(event))

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, fmt.Errorf("timeout (%s)", d.cfg.Timeout)
		}
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

func (d *Dispatcher) record(ctx context.Context, rec domain.DeliveryRecord) {
	rec.Timestamp = d.now().UTC()
	if d.log == nil {
		return
	}
	if err := d.log.Append(context.WithoutCancel(ctx), rec); err != nil {
		d.logger.WarnContext(ctx, "delivery log append failed",
			slog.String("market_id", rec.MarketID),
			slog.String("error", err.Error()),
		)
	}
}
