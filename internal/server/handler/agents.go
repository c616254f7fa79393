package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/clawmarket/internal/domain"
	"github.com/alanyoungcy/clawmarket/internal/service"
)

// AgentService defines what the agent handlers need from the service layer.
type AgentService interface {
	Register(ctx context.Context, in service.RegisterInput) (service.Registration, error)
	List(ctx context.Context) ([]domain.Agent, error)
}

// Authorizer checks that an agent key belongs to the agent named in a request.
type Authorizer interface {
	Authorize(ctx context.Context, key, agentID string) (domain.Agent, error)
}

// AgentHandler serves agent registration and listing.
type AgentHandler struct {
	agents AgentService
	logger *slog.Logger
}

// NewAgentHandler creates an AgentHandler.
func NewAgentHandler(agents AgentService, logger *slog.Logger) *AgentHandler {
	return &AgentHandler{agents: agents, logger: logHandler(logger, "agents")}
}

type registerRequest struct {
	AgentID       string `json:"agentId"`
	Name          string `json:"name"`
	Role          string `json:"role"`
	Endpoint      string `json:"endpoint"`
	SkillsURL     string `json:"skillsUrl"`
	WalletAddress string `json:"walletAddress"`
}

type registerResponse struct {
	Success bool         `json:"success"`
	Agent   domain.Agent `json:"agent"`
	APIKey  string       `json:"apiKey"`
	Message string       `json:"message"`
}

// Register creates an agent and returns its API key once.
// POST /api/agents
func (h *AgentHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "register agent", err)
		return
	}

	reg, err := h.agents.Register(r.Context(), service.RegisterInput{
		AgentID:       req.AgentID,
		Name:          req.Name,
		Role:          domain.Role(req.Role),
		Endpoint:      req.Endpoint,
		SkillsURL:     req.SkillsURL,
		WalletAddress: req.WalletAddress,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "register agent", err)
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		Success: true,
		Agent:   reg.Agent,
		APIKey:  reg.APIKey,
		Message: "Store this key; send it as " + AgentKeyHeader + " on every write.",
	})
}

// ListAgents returns every registered agent.
// GET /api/agents
func (h *AgentHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.agents.List(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list agents", err)
		return
	}
	if agents == nil {
		agents = []domain.Agent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agents": agents,
		"total":  len(agents),
	})
}
