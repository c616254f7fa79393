package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/alanyoungcy/clawmarket/internal/debate"
	"github.com/alanyoungcy/clawmarket/internal/domain"
)

const (
	defaultIcon        = "💬"
	defaultTopic       = "Open topic"
	defaultWindow      = 50
	maxWindow          = 200
	escrowCreateBudget = 2 * time.Minute
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

func validID(id string) bool { return idPattern.MatchString(id) }

// TurnDispatcher queues turn notifications. Both calls return immediately.
type TurnDispatcher interface {
	DispatchTurn(m domain.Market, msg domain.Message) bool
	DispatchInitialTurn(m domain.Market) bool
}

// EventPublisher emits live market events.
type EventPublisher interface {
	Publish(ctx context.Context, typ domain.EventType, marketID string, payload any)
}

// CreateMarketInput is the body of a market creation.
type CreateMarketInput struct {
	ID          string
	Name        string
	CreatedBy   string
	Description string
	Icon        string
	Topic       string
}

// JoinOutcome is the result of a join.
type JoinOutcome struct {
	Market domain.Market
	Stance domain.Stance
}

// Member is one row of a market's member list.
type Member struct {
	AgentID      string        `json:"agentId"`
	Name         string        `json:"name"`
	Role         domain.Role   `json:"role"`
	Stance       domain.Stance `json:"stance,omitempty"`
	MessageCount int           `json:"messageCount"`
}

// MessagePage is a window of a market's thread.
type MessagePage struct {
	Messages []domain.Message `json:"messages"`
	Total    int              `json:"total"`
}

// VoteOutcome summarises a message after a vote.
type VoteOutcome struct {
	MessageID int64 `json:"messageId"`
	Score     int   `json:"score"`
	Upvotes   int   `json:"upvotes"`
	Downvotes int   `json:"downvotes"`
}

// MarketService runs the debate lifecycle: creation, joins, posts and votes.
// Each mutation is applied inside the store's per-market update, so the
// message cap and the stance map are never raced.
type MarketService struct {
	markets    domain.MarketStore
	pools      domain.PoolStore
	agents     domain.AgentStore
	rules      debate.Rules
	dispatcher TurnDispatcher
	publisher  EventPublisher
	escrow     domain.PoolCreator
	deliveries domain.DeliveryLog
	archive    domain.TranscriptArchive
	audit      domain.AuditStore
	logger     *slog.Logger
	now        func() time.Time
}

// NewMarketService creates a MarketService. dispatcher, publisher, escrow,
// deliveries, archive and audit may be nil.
func NewMarketService(
	markets domain.MarketStore,
	pools domain.PoolStore,
	agents domain.AgentStore,
	rules debate.Rules,
	dispatcher TurnDispatcher,
	publisher EventPublisher,
	escrow domain.PoolCreator,
	deliveries domain.DeliveryLog,
	archive domain.TranscriptArchive,
	audit domain.AuditStore,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		markets:    markets,
		pools:      pools,
		agents:     agents,
		rules:      rules,
		dispatcher: dispatcher,
		publisher:  publisher,
		escrow:     escrow,
		deliveries: deliveries,
		archive:    archive,
		audit:      audit,
		logger:     logger,
		now:        time.Now,
	}
}

// SeedDefaults creates the built-in markets that do not exist yet.
func (s *MarketService) SeedDefaults(ctx context.Context) (int, error) {
	created := 0
	for _, d := range DefaultMarkets {
		m := s.newMarket(d.ID, d.Name, "system")
		m.Description = d.Description
		m.Icon = d.Icon
		m.Topic = d.Topic
		m.Purpose = d.Purpose
		m.Members = []string{}
		if err := s.markets.Create(ctx, m); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				continue
			}
			return created, fmt.Errorf("market_service: seed %q: %w", d.ID, err)
		}
		created++
		s.createEscrowPool(ctx, d.ID)
	}
	if created > 0 {
		s.logger.InfoContext(ctx, "market_service: seeded default markets", slog.Int("count", created))
	}
	return created, nil
}

func (s *MarketService) newMarket(id, name, createdBy string) domain.Market {
	return domain.Market{
		ID:            id,
		Name:          name,
		Icon:          defaultIcon,
		Topic:         defaultTopic,
		CreatedBy:     createdBy,
		CreatedAt:     s.now().UTC(),
		Status:        domain.MarketStatusActive,
		Members:       []string{createdBy},
		Stances:       map[string]domain.Stance{},
		MessageCounts: map[string]int{},
		Messages:      []domain.Message{},
	}
}

// Create opens a new market with its creator as the first member and an
// open pool.
func (s *MarketService) Create(ctx context.Context, in CreateMarketInput) (domain.Market, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.Name = strings.TrimSpace(in.Name)
	in.CreatedBy = strings.TrimSpace(in.CreatedBy)
	if in.ID == "" || in.Name == "" || in.CreatedBy == "" {
		return domain.Market{}, domain.Reject(domain.ErrValidation, "missing_fields",
			"missing required fields: groupId, name, agentId")
	}
	if !validID(in.ID) {
		return domain.Market{}, domain.Reject(domain.ErrValidation, "invalid_group_id",
			"groupId may contain letters, digits, '-' and '_' (max 64)")
	}
	if _, err := s.lookupAgent(ctx, in.CreatedBy); err != nil {
		return domain.Market{}, err
	}

	m := s.newMarket(in.ID, in.Name, in.CreatedBy)
	m.Description = in.Description
	if in.Icon != "" {
		m.Icon = in.Icon
	}
	if t := strings.TrimSpace(in.Topic); t != "" {
		m.Topic = t
	}
	if err := s.markets.Create(ctx, m); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return domain.Market{}, domain.Reject(domain.ErrAlreadyExists, "group_exists",
				fmt.Sprintf("group '%s' already exists", in.ID))
		}
		return domain.Market{}, fmt.Errorf("market_service: create %q: %w", in.ID, err)
	}

	s.logger.InfoContext(ctx, "market_service: market created",
		slog.String("market_id", m.ID),
		slog.String("created_by", m.CreatedBy),
	)
	s.auditLog(ctx, "market.created", map[string]any{"market_id": m.ID, "created_by": m.CreatedBy})
	s.createEscrowPool(ctx, m.ID)
	return m, nil
}

// createEscrowPool opens the on-chain pool in the background. The market is
// usable without it; a missing pool is created again by the next attempt.
func (s *MarketService) createEscrowPool(ctx context.Context, marketID string) {
	if s.escrow == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), escrowCreateBudget)
		defer cancel()
		if err := s.escrow.CreatePool(ctx, marketID); err != nil {
			s.logger.WarnContext(ctx, "market_service: escrow pool creation failed",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Get returns the full market.
func (s *MarketService) Get(ctx context.Context, id string) (domain.Market, error) {
	m, err := s.markets.Get(ctx, id)
	if err != nil {
		return domain.Market{}, s.marketErr(id, "get", err)
	}
	return m, nil
}

// List returns a summary of every market with its pool totals.
func (s *MarketService) List(ctx context.Context) ([]domain.MarketSummary, error) {
	markets, err := s.markets.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("market_service: list: %w", err)
	}
	pools, err := s.pools.ListPools(ctx)
	if err != nil {
		return nil, fmt.Errorf("market_service: list pools: %w", err)
	}
	byID := make(map[string]domain.Pool, len(pools))
	for _, p := range pools {
		byID[p.MarketID] = p
	}

	out := make([]domain.MarketSummary, 0, len(markets))
	for _, m := range markets {
		sum := domain.MarketSummary{
			ID:           m.ID,
			Name:         m.Name,
			Description:  m.Description,
			Topic:        m.Topic,
			Purpose:      m.Purpose,
			Icon:         m.Icon,
			CreatedBy:    m.CreatedBy,
			MemberCount:  len(m.Members),
			MessageCount: len(m.Messages),
			Status:       m.Status,
			Stances:      m.Stances,
			TotalPool:    "0",
		}
		if p, ok := byID[m.ID]; ok {
			sum.TotalPool = p.Total.String()
			sum.BetCount = len(p.Bets)
		}
		out = append(out, sum)
	}
	return out, nil
}

// Join seats agentID in the market. Seating the second debater queues the
// opening turn for the pro debater.
func (s *MarketService) Join(ctx context.Context, marketID, agentID string) (JoinOutcome, error) {
	agent, err := s.lookupAgent(ctx, agentID)
	if err != nil {
		return JoinOutcome{}, err
	}

	var res debate.JoinResult
	m, err := s.markets.Update(ctx, marketID, func(m *domain.Market) error {
		var err error
		res, err = s.rules.Join(m, agent)
		return err
	})
	if err != nil {
		return JoinOutcome{}, s.marketErr(marketID, "join", err)
	}

	if res.NewMember || res.NewStance {
		s.logger.InfoContext(ctx, "market_service: agent joined",
			slog.String("market_id", marketID),
			slog.String("agent_id", agentID),
			slog.String("stance", string(res.Stance)),
		)
		s.publish(ctx, domain.EventMemberJoined, marketID, map[string]any{
			"agentId": agentID,
			"role":    agent.Role,
			"stance":  res.Stance,
		})
	}
	if res.StartDebate && s.dispatcher != nil {
		s.dispatcher.DispatchInitialTurn(m)
	}
	return JoinOutcome{Market: m, Stance: res.Stance}, nil
}

// Members lists the agents of a market with their stance and post count.
func (s *MarketService) Members(ctx context.Context, marketID string) ([]Member, error) {
	m, err := s.Get(ctx, marketID)
	if err != nil {
		return nil, err
	}
	out := make([]Member, 0, len(m.Members))
	for _, id := range m.Members {
		a, err := s.agents.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("market_service: member %q: %w", id, err)
		}
		out = append(out, Member{
			AgentID:      a.ID,
			Name:         a.Name,
			Role:         a.Role,
			Stance:       m.Stances[a.ID],
			MessageCount: m.MessageCounts[a.ID],
		})
	}
	return out, nil
}

// Messages returns the messages after since, keeping the last limit.
func (s *MarketService) Messages(ctx context.Context, marketID string, since int64, limit int) (MessagePage, error) {
	m, err := s.Get(ctx, marketID)
	if err != nil {
		return MessagePage{}, err
	}
	if limit <= 0 {
		limit = defaultWindow
	}
	limit = min(limit, maxWindow)
	return MessagePage{Messages: debate.Window(m.Messages, since, limit), Total: len(m.Messages)}, nil
}

// Post appends an argument. The opponent's turn is queued unless this post
// closed the debate for voting.
func (s *MarketService) Post(ctx context.Context, marketID, agentID, content string, replyTo *int64) (domain.Message, error) {
	agent, err := s.lookupAgent(ctx, agentID)
	if err != nil {
		return domain.Message{}, err
	}

	var res debate.PostResult
	m, err := s.markets.Update(ctx, marketID, func(m *domain.Market) error {
		var err error
		res, err = s.rules.Post(m, agent, content, replyTo, s.now())
		return err
	})
	if err != nil {
		return domain.Message{}, s.marketErr(marketID, "post", err)
	}
	msg := m.Messages[len(m.Messages)-1]

	s.logger.InfoContext(ctx, "market_service: message posted",
		slog.String("market_id", marketID),
		slog.String("agent_id", agentID),
		slog.Int64("message_id", msg.ID),
		slog.Int("count", m.MessageCounts[agentID]),
	)
	s.publish(ctx, domain.EventMessagePosted, marketID, msg)

	if res.VotingOpened {
		s.logger.InfoContext(ctx, "market_service: debate closed for voting", slog.String("market_id", marketID))
		s.publish(ctx, domain.EventStatusChanged, marketID, map[string]any{"debateStatus": m.Status})
		s.auditLog(ctx, "market.voting", map[string]any{"market_id": marketID, "messages": len(m.Messages)})
		return msg, nil
	}
	if s.dispatcher != nil {
		s.dispatcher.DispatchTurn(m, msg)
	}
	return msg, nil
}

// Vote records voterID's vote on a message.
func (s *MarketService) Vote(ctx context.Context, marketID, voterID string, messageID int64, vt domain.VoteType) (VoteOutcome, error) {
	if _, err := s.lookupAgent(ctx, voterID); err != nil {
		return VoteOutcome{}, err
	}

	var msg domain.Message
	_, err := s.markets.Update(ctx, marketID, func(m *domain.Market) error {
		var err error
		msg, err = debate.Vote(m, messageID, voterID, vt)
		return err
	})
	if err != nil {
		return VoteOutcome{}, s.marketErr(marketID, "vote", err)
	}

	out := VoteOutcome{
		MessageID: msg.ID,
		Score:     msg.Score,
		Upvotes:   len(msg.Upvotes),
		Downvotes: len(msg.Downvotes),
	}
	s.publish(ctx, domain.EventVoteRecorded, marketID, out)
	return out, nil
}

// WebhookStatus returns the market's delivery log, newest first.
func (s *MarketService) WebhookStatus(ctx context.Context, marketID string) ([]domain.DeliveryRecord, error) {
	if _, err := s.Get(ctx, marketID); err != nil {
		return nil, err
	}
	if s.deliveries == nil {
		return []domain.DeliveryRecord{}, nil
	}
	recs, err := s.deliveries.List(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("market_service: delivery log %q: %w", marketID, err)
	}
	if recs == nil {
		recs = []domain.DeliveryRecord{}
	}
	return recs, nil
}

// Transcript opens the archived transcript of a resolved market.
func (s *MarketService) Transcript(ctx context.Context, marketID string) (io.ReadCloser, error) {
	if s.archive == nil {
		return nil, domain.Reject(domain.ErrNotFound, "archive_disabled", "transcript archive is not configured")
	}
	rc, err := s.archive.Open(ctx, marketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Reject(domain.ErrNotFound, "transcript_not_found",
				fmt.Sprintf("no transcript for '%s'; only resolved debates are archived", marketID))
		}
		return nil, fmt.Errorf("market_service: open transcript %q: %w", marketID, err)
	}
	return rc, nil
}

// Transcripts lists the archived transcripts.
func (s *MarketService) Transcripts(ctx context.Context) ([]domain.BlobInfo, error) {
	if s.archive == nil {
		return []domain.BlobInfo{}, nil
	}
	infos, err := s.archive.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("market_service: list transcripts: %w", err)
	}
	return infos, nil
}

func (s *MarketService) lookupAgent(ctx context.Context, id string) (domain.Agent, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Agent{}, domain.Reject(domain.ErrValidation, "missing_fields", "missing required field: agentId")
	}
	a, err := s.agents.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Agent{}, agentNotFound(id)
		}
		return domain.Agent{}, fmt.Errorf("market_service: agent %q: %w", id, err)
	}
	return a, nil
}

// marketErr keeps rule errors as they are and gives a missing market its
// own code.
func (s *MarketService) marketErr(marketID, op string, err error) error {
	if domain.CodeOf(err) != "" {
		return err
	}
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Reject(domain.ErrNotFound, "group_not_found", fmt.Sprintf("group '%s' not found", marketID))
	}
	return fmt.Errorf("market_service: %s %q: %w", op, marketID, err)
}

func (s *MarketService) publish(ctx context.Context, typ domain.EventType, marketID string, payload any) {
	if s.publisher != nil {
		s.publisher.Publish(ctx, typ, marketID, payload)
	}
}

func (s *MarketService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "market_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
