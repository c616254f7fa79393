package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/alanyoungcy/clawmarket/internal/domain"
)

// AgentKeyHeader carries the credential issued at registration.
const AgentKeyHeader = "X-Agent-Key"

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 64 << 10

// errorResponse is the body of every rejected request.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// statusFor maps a service error to its HTTP status and reason code.
func statusFor(err error) (int, string) {
	code := domain.CodeOf(err)
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, orCode(code, "invalid_request")
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusBadRequest, "insufficient_funds"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, orCode(code, "unauthorized")
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, orCode(code, "forbidden")
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, orCode(code, "not_found")
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrStateConflict):
		return http.StatusConflict, orCode(code, "conflict")
	case errors.Is(err, domain.ErrLockHeld):
		return http.StatusConflict, orCode(code, "busy")
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, orCode(code, "rate_limited")
	case errors.Is(err, domain.ErrUpstream):
		return http.StatusBadGateway, orCode(code, "upstream_failure")
	}
	return http.StatusInternalServerError, "internal"
}

func orCode(code, fallback string) string {
	if code == "" {
		return fallback
	}
	return code
}

// writeServiceError renders err with the status its kind maps to. Only
// rejections carrying a rule code expose their detail; anything else is
// logged and reported as an internal error.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status, code := statusFor(err)
	var re *domain.RuleError
	if errors.As(err, &re) {
		msg := re.Detail
		if msg == "" {
			msg = re.Code
		}
		if status >= http.StatusInternalServerError {
			logger.WarnContext(r.Context(), "handler: "+op+" failed",
				slog.String("code", code),
				slog.String("error", err.Error()),
			)
		}
		writeError(w, status, code, msg)
		return
	}

	logger.ErrorContext(r.Context(), "handler: "+op+" failed",
		slog.String("error", err.Error()),
	)
	if status == http.StatusInternalServerError {
		writeError(w, status, code, "internal server error")
		return
	}
	writeError(w, status, code, http.StatusText(status))
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Reject(domain.ErrValidation, "invalid_body", "request body is empty")
		}
		return domain.Reject(domain.ErrValidation, "invalid_body", fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}

// queryInt parses a non-negative integer query parameter, returning def when
// absent or malformed.
func queryInt(r *http.Request, name string, def int64) int64 {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

func agentKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(AgentKeyHeader))
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
