package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/clawmarket/internal/domain"
)

// DefaultRequiredTokens is the gate balance a spectator must hold.
var DefaultRequiredTokens = decimal.NewFromInt(6969)

// CredentialDeriver derives an agent's API key from its identifier.
type CredentialDeriver interface {
	DeriveCredential(agentID string) string
}

// RegisterInput is the body of an agent registration.
type RegisterInput struct {
	AgentID       string
	Name          string
	Role          domain.Role
	Endpoint      string
	SkillsURL     string
	WalletAddress string
}

// Registration is returned once; the API key is never shown again.
type Registration struct {
	Agent  domain.Agent `json:"agent"`
	APIKey string       `json:"apiKey"`
}

// AgentService registers and authenticates agents.
type AgentService struct {
	agents   domain.AgentStore
	creds    CredentialDeriver
	gate     domain.TokenGate
	required decimal.Decimal
	audit    domain.AuditStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewAgentService creates an AgentService. gate may be nil, which lets any
// spectator with a wallet address register.
func NewAgentService(
	agents domain.AgentStore,
	creds CredentialDeriver,
	gate domain.TokenGate,
	required decimal.Decimal,
	audit domain.AuditStore,
	logger *slog.Logger,
) *AgentService {
	if !required.IsPositive() {
		required = DefaultRequiredTokens
	}
	return &AgentService{
		agents:   agents,
		creds:    creds,
		gate:     gate,
		required: required,
		audit:    audit,
		logger:   logger,
		now:      time.Now,
	}
}

// Register validates the input, checks the token gate for spectators and
// stores the agent together with its key index.
func (s *AgentService) Register(ctx context.Context, in RegisterInput) (Registration, error) {
	in.AgentID = strings.TrimSpace(in.AgentID)
	in.Name = strings.TrimSpace(in.Name)
	in.WalletAddress = strings.TrimSpace(in.WalletAddress)
	in.Endpoint = strings.TrimSpace(in.Endpoint)

	if in.AgentID == "" || in.Name == "" {
		return Registration{}, domain.Reject(domain.ErrValidation, "missing_fields",
			"missing required fields: agentId, name")
	}
	if !validID(in.AgentID) {
		return Registration{}, domain.Reject(domain.ErrValidation, "invalid_agent_id",
			"agentId may contain letters, digits, '-' and '_' (max 64)")
	}
	if in.Role == "" {
		in.Role = domain.RoleDebater
	}
	if !in.Role.Valid() {
		return Registration{}, domain.Reject(domain.ErrValidation, "invalid_role",
			`invalid role; must be "debater" or "spectator"`)
	}
	if in.Endpoint != "" && in.Endpoint != "none" {
		u, err := url.Parse(in.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return Registration{}, domain.Reject(domain.ErrValidation, "invalid_endpoint",
				"endpoint must be an http(s) URL")
		}
	}
	if in.WalletAddress != "" && !common.IsHexAddress(in.WalletAddress) {
		return Registration{}, domain.Reject(domain.ErrValidation, "invalid_wallet",
			"walletAddress must be a 0x-prefixed hex address")
	}
	if in.Role == domain.RoleSpectator {
		if in.WalletAddress == "" {
			return Registration{}, domain.Reject(domain.ErrValidation, "wallet_required",
				"spectators must provide a wallet address for token verification")
		}
		if err := s.checkGate(ctx, in.WalletAddress); err != nil {
			return Registration{}, err
		}
	}

	agent := domain.Agent{
		ID:            in.AgentID,
		Name:          in.Name,
		Role:          in.Role,
		Endpoint:      in.Endpoint,
		SkillsURL:     in.SkillsURL,
		WalletAddress: in.WalletAddress,
		RegisteredAt:  s.now().UTC(),
	}
	key := s.creds.DeriveCredential(agent.ID)
	if err := s.agents.Create(ctx, agent, key); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return Registration{}, domain.Reject(domain.ErrAlreadyExists, "agent_exists",
				fmt.Sprintf("agent '%s' already exists", agent.ID))
		}
		return Registration{}, fmt.Errorf("agent_service: create %q: %w", agent.ID, err)
	}

	s.logger.InfoContext(ctx, "agent_service: agent registered",
		slog.String("agent_id", agent.ID),
		slog.String("role", string(agent.Role)),
		slog.Bool("has_endpoint", agent.HasEndpoint()),
	)
	s.auditLog(ctx, "agent.registered", map[string]any{
		"agent_id": agent.ID,
		"role":     string(agent.Role),
	})
	return Registration{Agent: agent, APIKey: key}, nil
}

func (s *AgentService) checkGate(ctx context.Context, address string) error {
	if s.gate == nil {
		return nil
	}
	bal, err := s.gate.Balance(ctx, address)
	if err != nil {
		if domain.CodeOf(err) != "" {
			return err
		}
		s.logger.WarnContext(ctx, "agent_service: token gate check failed",
			slog.String("wallet", address),
			slog.String("error", err.Error()),
		)
		return domain.Reject(domain.ErrUpstream, "token_check_failed", "could not verify token balance")
	}
	if bal.LessThan(s.required) {
		return domain.Reject(domain.ErrForbidden, "insufficient_tokens",
			fmt.Sprintf("spectators must hold at least %s tokens (have %s)", s.required, bal))
	}
	return nil
}

// Authenticate resolves an API key to its agent.
func (s *AgentService) Authenticate(ctx context.Context, key string) (domain.Agent, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.Agent{}, domain.Reject(domain.ErrUnauthorized, "missing_key",
			"missing X-Agent-Key header; register at POST /api/agents to get one")
	}
	agent, err := s.agents.GetByCredential(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Agent{}, domain.Reject(domain.ErrUnauthorized, "invalid_key", "invalid API key")
		}
		return domain.Agent{}, fmt.Errorf("agent_service: lookup key: %w", err)
	}
	return agent, nil
}

// Authorize authenticates key and checks that it belongs to agentID.
func (s *AgentService) Authorize(ctx context.Context, key, agentID string) (domain.Agent, error) {
	agent, err := s.Authenticate(ctx, key)
	if err != nil {
		return domain.Agent{}, err
	}
	if agent.ID != agentID {
		s.logger.WarnContext(ctx, "agent_service: impersonation attempt",
			slog.String("key_agent", agent.ID),
			slog.String("claimed_agent", agentID),
		)
		return domain.Agent{}, domain.Reject(domain.ErrForbidden, "impersonation",
			fmt.Sprintf("key belongs to '%s', but request body says '%s'; cannot impersonate another agent", agent.ID, agentID))
	}
	return agent, nil
}

// Get returns one agent.
func (s *AgentService) Get(ctx context.Context, id string) (domain.Agent, error) {
	agent, err := s.agents.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Agent{}, agentNotFound(id)
		}
		return domain.Agent{}, fmt.Errorf("agent_service: get %q: %w", id, err)
	}
	return agent, nil
}

// List returns every registered agent.
func (s *AgentService) List(ctx context.Context) ([]domain.Agent, error) {
	agents, err := s.agents.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("agent_service: list: %w", err)
	}
	return agents, nil
}

func (s *AgentService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "agent_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func agentNotFound(id string) error {
	return domain.Reject(domain.ErrNotFound, "agent_not_found", fmt.Sprintf("agent '%s' not found", id))
}
