package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/clawmarket/internal/domain"
	"github.com/alanyoungcy/clawmarket/internal/service"
)

// MarketService defines the methods that the group handlers require from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	Create(ctx context.Context, in service.CreateMarketInput) (domain.Market, error)
	Get(ctx context.Context, id string) (domain.Market, error)
	List(ctx context.Context) ([]domain.MarketSummary, error)
	Join(ctx context.Context, marketID, agentID string) (service.JoinOutcome, error)
	Members(ctx context.Context, marketID string) ([]service.Member, error)
	Messages(ctx context.Context, marketID string, since int64, limit int) (service.MessagePage, error)
	Post(ctx context.Context, marketID, agentID, content string, replyTo *int64) (domain.Message, error)
	Vote(ctx context.Context, marketID, voterID string, messageID int64, vt domain.VoteType) (service.VoteOutcome, error)
	WebhookStatus(ctx context.Context, marketID string) ([]domain.DeliveryRecord, error)
	Transcript(ctx context.Context, marketID string) (io.ReadCloser, error)
	Transcripts(ctx context.Context) ([]domain.BlobInfo, error)
}

// GroupHandler serves the debate group endpoints. Every write authenticates
// the X-Agent-Key header against the agentId in the body.
type GroupHandler struct {
	markets MarketService
	auth    Authorizer
	logger  *slog.Logger
}

// NewGroupHandler creates a GroupHandler.
func NewGroupHandler(markets MarketService, auth Authorizer, logger *slog.Logger) *GroupHandler {
	return &GroupHandler{markets: markets, auth: auth, logger: logHandler(logger, "groups")}
}

// authorize writes the rejection itself and reports whether to continue.
func (h *GroupHandler) authorize(w http.ResponseWriter, r *http.Request, op, agentID string) bool {
	if agentID == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", "missing required field: agentId")
		return false
	}
	if _, err := h.auth.Authorize(r.Context(), agentKey(r), agentID); err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return false
	}
	return true
}

// ListGroups returns a summary of every group.
// GET /api/groups
func (h *GroupHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.markets.List(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list groups", err)
		return
	}
	if groups == nil {
		groups = []domain.MarketSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

type createGroupRequest struct {
	GroupID     string `json:"groupId"`
	Name        string `json:"name"`
	AgentID     string `json:"agentId"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Topic       string `json:"topic"`
}

// CreateGroup opens a new debate with the caller as first member.
// POST /api/groups
func (h *GroupHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "create group", err)
		return
	}
	if !h.authorize(w, r, "create group", req.AgentID) {
		return
	}

	m, err := h.markets.Create(r.Context(), service.CreateMarketInput{
		ID:          req.GroupID,
		Name:        req.Name,
		CreatedBy:   req.AgentID,
		Description: req.Description,
		Icon:        req.Icon,
		Topic:       req.Topic,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create group", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "group": m})
}

// GetGroup returns one group with its full thread.
// GET /api/groups/{id}
func (h *GroupHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	m, err := h.markets.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get group", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type agentRequest struct {
	AgentID string `json:"agentId"`
}

// JoinGroup adds the caller to a group, assigning a stance to debaters.
// POST /api/groups/{id}/join
func (h *GroupHandler) JoinGroup(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "join group", err)
		return
	}
	if !h.authorize(w, r, "join group", req.AgentID) {
		return
	}

	out, err := h.markets.Join(r.Context(), pathParam(r, "id"), req.AgentID)
	if err != nil {
		writeServiceError(w, r, h.logger, "join group", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"groupId":      out.Market.ID,
		"agentId":      req.AgentID,
		"stance":       out.Stance,
		"debateStatus": out.Market.Status,
		"members":      out.Market.Members,
	})
}

// ListMembers returns the members of a group with their stances.
// GET /api/groups/{id}/members
func (h *GroupHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	members, err := h.markets.Members(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "list members", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groupId": id, "members": members})
}

// ListMessages returns messages newer than since, at most limit of them.
// GET /api/groups/{id}/messages?since=0&limit=50
func (h *GroupHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	page, err := h.markets.Messages(r.Context(), id, queryInt(r, "since", 0), int(queryInt(r, "limit", 0)))
	if err != nil {
		writeServiceError(w, r, h.logger, "list messages", err)
		return
	}
	if page.Messages == nil {
		page.Messages = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"groupId":  id,
		"messages": page.Messages,
		"total":    page.Total,
	})
}

type postMessageRequest struct {
	AgentID string `json:"agentId"`
	Content string `json:"content"`
	ReplyTo *int64 `json:"replyTo"`
}

// PostMessage appends an argument to the debate.
// POST /api/groups/{id}/messages
func (h *GroupHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "post message", err)
		return
	}
	if !h.authorize(w, r, "post message", req.AgentID) {
		return
	}

	msg, err := h.markets.Post(r.Context(), pathParam(r, "id"), req.AgentID, req.Content, req.ReplyTo)
	if err != nil {
		writeServiceError(w, r, h.logger, "post message", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "message": msg})
}

type voteRequest struct {
	AgentID   string `json:"agentId"`
	MessageID int64  `json:"messageId"`
	VoteType  string `json:"voteType"`
}

// Vote records an up or down vote, or removes the caller's vote.
// POST /api/groups/{id}/vote
func (h *GroupHandler) Vote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "vote", err)
		return
	}
	if !h.authorize(w, r, "vote", req.AgentID) {
		return
	}

	out, err := h.markets.Vote(r.Context(), pathParam(r, "id"), req.AgentID, req.MessageID, domain.VoteType(req.VoteType))
	if err != nil {
		writeServiceError(w, r, h.logger, "vote", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"messageId": out.MessageID,
		"score":     out.Score,
		"upvotes":   out.Upvotes,
		"downvotes": out.Downvotes,
	})
}

// WebhookStatus returns the recent turn deliveries for a group.
// GET /api/groups/{id}/webhook-status
func (h *GroupHandler) WebhookStatus(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	recs, err := h.markets.WebhookStatus(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "webhook status", err)
		return
	}
	if recs == nil {
		recs = []domain.DeliveryRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"groupId": id, "deliveries": recs})
}

// Transcript streams the archived transcript of a resolved group.
// GET /api/groups/{id}/transcript
func (h *GroupHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	rc, err := h.markets.Transcript(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get transcript", err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.WarnContext(r.Context(), "handler: transcript stream interrupted",
			slog.String("error", err.Error()),
		)
	}
}

// ListTranscripts lists every archived transcript.
// GET /api/transcripts
func (h *GroupHandler) ListTranscripts(w http.ResponseWriter, r *http.Request) {
	infos, err := h.markets.Transcripts(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list transcripts", err)
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transcripts": infos})
}
