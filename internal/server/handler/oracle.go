package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/clawmarket/internal/domain"
)

// Resolver is the oracle as seen by the HTTP layer.
type Resolver interface {
	Resolve(ctx context.Context, marketID string) domain.ResolveResult
	Sweep(ctx context.Context) (domain.SweepResult, error)
	Log(ctx context.Context, marketID string) ([]domain.OracleLogEntry, error)
}

// OracleHandler serves manual resolution, the oracle log and the cron sweep.
// Authentication is applied by middleware at registration.
type OracleHandler struct {
	oracle Resolver
	logger *slog.Logger
}

// NewOracleHandler creates an OracleHandler.
func NewOracleHandler(oracle Resolver, logger *slog.Logger) *OracleHandler {
	return &OracleHandler{oracle: oracle, logger: logHandler(logger, "oracle")}
}

// reasonStatus maps a failed resolution to an HTTP status.
func reasonStatus(reason domain.FailureReason) int {
	switch reason {
	case domain.ReasonGroupNotFound:
		return http.StatusNotFound
	case domain.ReasonNotVoting, domain.ReasonAlreadyResolvedOffchain, domain.ReasonResolutionInProgress:
		return http.StatusConflict
	case domain.ReasonNoDebaters, domain.ReasonNoAddress:
		return http.StatusUnprocessableEntity
	case domain.ReasonOnchainFailed:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

type resolveRequest struct {
	DebateID string `json:"debateId"`
	All      bool   `json:"all"`
}

type sweepResponse struct {
	Success  bool               `json:"success"`
	Resolved int                `json:"resolved"`
	Failed   int                `json:"failed"`
	Skipped  int                `json:"skipped"`
	Details  domain.SweepResult `json:"details"`
}

func newSweepResponse(res domain.SweepResult) sweepResponse {
	if res.Resolved == nil {
		res.Resolved = []domain.ResolveResult{}
	}
	if res.Failed == nil {
		res.Failed = []domain.SweepFailure{}
	}
	if res.Skipped == nil {
		res.Skipped = []string{}
	}
	return sweepResponse{
		Success:  true,
		Resolved: len(res.Resolved),
		Failed:   len(res.Failed),
		Skipped:  len(res.Skipped),
		Details:  res,
	}
}

// Resolve settles one debate, or every debate awaiting resolution when all
// is set.
// POST /api/oracle/resolve
func (h *OracleHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "resolve", err)
		return
	}

	if req.All {
		h.sweep(w, r)
		return
	}

	id := strings.TrimSpace(req.DebateID)
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", `provide "debateId" or "all": true`)
		return
	}

	res := h.oracle.Resolve(r.Context(), id)
	if !res.Success {
		writeJSON(w, reasonStatus(res.Reason), res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// OracleLog returns the recent resolution attempts for a debate.
// GET /api/oracle/resolve?debateId=
func (h *OracleHandler) OracleLog(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("debateId"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", "missing query parameter: debateId")
		return
	}
	entries, err := h.oracle.Log(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "oracle log", err)
		return
	}
	if entries == nil {
		entries = []domain.OracleLogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"debateId": id, "log": entries})
}

// CronResolve runs one sweep for an external scheduler.
// GET /api/cron/resolve
func (h *OracleHandler) CronResolve(w http.ResponseWriter, r *http.Request) {
	h.sweep(w, r)
}

func (h *OracleHandler) sweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.oracle.Sweep(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "sweep", err)
		return
	}
	writeJSON(w, http.StatusOK, newSweepResponse(res))
}
