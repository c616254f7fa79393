package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/clawmarket/internal/domain"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{domain.Reject(domain.ErrValidation, "content_too_long", "x"), http.StatusBadRequest, "content_too_long"},
		{domain.Reject(domain.ErrUnauthorized, "missing_key", ""), http.StatusUnauthorized, "missing_key"},
		{domain.Reject(domain.ErrForbidden, "impersonation", ""), http.StatusForbidden, "impersonation"},
		{domain.Reject(domain.ErrNotFound, "group_not_found", ""), http.StatusNotFound, "group_not_found"},
		{domain.Reject(domain.ErrStateConflict, "self_vote", ""), http.StatusConflict, "self_vote"},
		{domain.Reject(domain.ErrAlreadyExists, "agent_exists", ""), http.StatusConflict, "agent_exists"},
		{fmt.Errorf("wager: %w", domain.ErrInsufficientFunds), http.StatusBadRequest, "insufficient_funds"},
		{domain.Reject(domain.ErrUpstream, "token_check_failed", ""), http.StatusBadGateway, "token_check_failed"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		status, code := statusFor(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}

func TestWriteServiceError_HidesInternalDetail(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	rec := httptest.NewRecorder()
	writeServiceError(rec, req, logger, "op", errors.New("pq: password authentication failed"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = httptest.NewRecorder()
	writeServiceError(rec, req, logger, "op", domain.Reject(domain.ErrStateConflict, "market_full", "already 2 debaters"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"already 2 debaters","code":"market_full"}`, rec.Body.String())
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		AgentID string `json:"agentId"`
	}

	rec := httptest.NewRecorder()
	err := decodeJSON(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"agentId":"a"}`)), &v)
	require.NoError(t, err)
	assert.Equal(t, "a", v.AgentID)

	err = decodeJSON(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("")), &v)
	assert.Equal(t, "invalid_body", domain.CodeOf(err))

	err = decodeJSON(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{")), &v)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestReasonStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, reasonStatus(domain.ReasonGroupNotFound))
	assert.Equal(t, http.StatusConflict, reasonStatus(domain.ReasonResolutionInProgress))
	assert.Equal(t, http.StatusUnprocessableEntity, reasonStatus(domain.ReasonNoDebaters))
	assert.Equal(t, http.StatusBadGateway, reasonStatus(domain.ReasonOnchainFailed))
	assert.Equal(t, http.StatusInternalServerError, reasonStatus(domain.ReasonException))
}
