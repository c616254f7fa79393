package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rediscache "github.com/alanyoungcy/clawmarket/internal/cache/redis"
	"github.com/alanyoungcy/clawmarket/internal/crypto"
	"github.com/alanyoungcy/clawmarket/internal/debate"
	"github.com/alanyoungcy/clawmarket/internal/domain"
	"github.com/alanyoungcy/clawmarket/internal/oracle"
	"github.com/alanyoungcy/clawmarket/internal/platform/chain"
	"github.com/alanyoungcy/clawmarket/internal/server/handler"
	"github.com/alanyoungcy/clawmarket/internal/service"
	"github.com/alanyoungcy/clawmarket/internal/store/memory"
)

const (
	adminKey   = "admin-secret"
	cronSecret = "cron-secret"
	bettor     = "0x00000000000000000000000000000000000000cc"
)

type testAPI struct {
	t   *testing.T
	srv *httptest.Server
}

func newTestAPI(t *testing.T, rateLimit int) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mr := miniredis.RunT(t)
	client := rediscache.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })

	stores := memory.NewStores()
	rules := debate.DefaultRules()
	rules.PickStance = func() domain.Stance { return domain.StancePro }

	agents := service.NewAgentService(stores.Agents, crypto.NewCodec("test-secret"),
		chain.StaticGate{Amount: decimal.NewFromInt(7000)}, decimal.Zero, stores.Audit, logger)
	markets := service.NewMarketService(stores.Markets, stores.Pools, stores.Agents, rules,
		nil, nil, nil, rediscache.NewDeliveryLog(client, 50), nil, stores.Audit, logger)
	betting := service.NewBettingService(stores.Pools, stores.Wallets, stores.Markets,
		service.BettingConfig{}, stores.Audit, logger)
	orc := oracle.New(stores.Markets, stores.Pools, stores.Resolutions, chain.LedgerSettler{},
		rediscache.NewLockManager(client), rediscache.NewOracleLog(client, 20), oracle.Config{}, logger)

	s := NewServer(Config{
		AdminAPIKey: adminKey,
		CronSecret:  cronSecret,
		RateLimit:   rateLimit,
		RateWindow:  time.Minute,
	}, Handlers{
		Health: handler.NewHealthHandler(map[string]handler.HealthCheck{"redis": client.Ping}, logger),
		Agents: handler.NewAgentHandler(agents, logger),
		Groups: handler.NewGroupHandler(markets, agents, logger),
		Oracle: handler.NewOracleHandler(orc, logger),
		Bets:   handler.NewBetHandler(betting, logger),
	}, nil, rediscache.NewRateLimiter(client), logger)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testAPI{t: t, srv: srv}
}

func (a *testAPI) do(method, path string, body any, headers map[string]string) (int, map[string]any) {
	a.t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(a.t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rd)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(a.t, err)
	if len(raw) > 0 {
		require.NoError(a.t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (a *testAPI) register(id, role, wallet string) string {
	a.t.Helper()
	status, body := a.do("POST", "/api/agents", map[string]any{
		"agentId": id, "name": id, "role": role, "walletAddress": wallet,
	}, nil)
	require.Equal(a.t, http.StatusCreated, status, body)
	return body["apiKey"].(string)
}

func keyHeader(key string) map[string]string {
	return map[string]string{handler.AgentKeyHeader: key}
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestAPI_FullDebateLifecycle(t *testing.T) {
	api := newTestAPI(t, 0)

	proKey := api.register("pro-bot", "debater", "")
	conKey := api.register("con-bot", "debater", "")
	specKey := api.register("watcher", "spectator", "0x00000000000000000000000000000000000000dd")

	// Create and seat both debaters.
	status, body := api.do("POST", "/api/groups", map[string]any{
		"groupId": "ai-wars", "name": "AI Wars", "agentId": "pro-bot", "topic": "Will open models win?",
	}, keyHeader(proKey))
	require.Equal(t, http.StatusCreated, status, body)

	status, body = api.do("POST", "/api/groups/ai-wars/join", map[string]any{"agentId": "pro-bot"}, keyHeader(proKey))
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "pro", body["stance"])

	status, body = api.do("POST", "/api/groups/ai-wars/join", map[string]any{"agentId": "con-bot"}, keyHeader(conKey))
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "con", body["stance"])

	// Bet before the debate closes.
	status, body = api.do("POST", "/api/bets/ai-wars", map[string]any{
		"walletAddress": bettor, "agentId": "pro-bot", "amount": 100,
	}, nil)
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "900", body["newBalance"])

	// Five posts each close the debate.
	var firstPro float64
	for i := 0; i < 5; i++ {
		status, body = api.do("POST", "/api/groups/ai-wars/messages", map[string]any{
			"agentId": "pro-bot", "content": fmt.Sprintf("pro argument %d", i),
		}, keyHeader(proKey))
		require.Equal(t, http.StatusCreated, status, body)
		if i == 0 {
			firstPro = body["message"].(map[string]any)["id"].(float64)
		}
		status, body = api.do("POST", "/api/groups/ai-wars/messages", map[string]any{
			"agentId": "con-bot", "content": fmt.Sprintf("con argument %d", i),
		}, keyHeader(conKey))
		require.Equal(t, http.StatusCreated, status, body)
	}

	status, body = api.do("GET", "/api/groups/ai-wars", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "voting", body["debateStatus"])

	status, body = api.do("POST", "/api/groups/ai-wars/messages", map[string]any{
		"agentId": "pro-bot", "content": "one more",
	}, keyHeader(proKey))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "debate_ended", body["code"])

	// The spectator upvotes the pro opener.
	status, body = api.do("POST", "/api/groups/ai-wars/vote", map[string]any{
		"agentId": "watcher", "messageId": firstPro, "voteType": "upvote",
	}, keyHeader(specKey))
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, float64(1), body["score"])

	status, body = api.do("GET", "/api/groups/ai-wars/messages?since=0&limit=3", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["messages"], 3)
	assert.Equal(t, float64(10), body["total"])

	// Resolution is admin only.
	status, _ = api.do("POST", "/api/oracle/resolve", map[string]any{"debateId": "ai-wars"}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = api.do("POST", "/api/oracle/resolve", map[string]any{"debateId": "ai-wars"}, bearer(adminKey))
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "pro-bot", body["winnerAgentId"])
	assert.Equal(t, "pro", body["winnerStance"])

	status, body = api.do("POST", "/api/oracle/resolve", map[string]any{"debateId": "ai-wars"}, bearer(adminKey))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "not_voting", body["reason"])

	status, body = api.do("GET", "/api/oracle/resolve?debateId=ai-wars", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["log"], 2)

	// The lone winning bettor takes the pot net of rake.
	status, body = api.do("GET", "/api/wallet/"+bettor, nil, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "993", body["balance"])
	history := body["betHistory"].([]any)
	require.Len(t, history, 1)
	assert.Equal(t, "won", history[0].(map[string]any)["status"])

	status, body = api.do("GET", "/api/bets/ai-wars", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "resolved", body["status"])
}

func TestAPI_AgentKeyChecks(t *testing.T) {
	api := newTestAPI(t, 0)
	proKey := api.register("pro-bot", "debater", "")
	api.register("con-bot", "debater", "")

	status, body := api.do("POST", "/api/groups", map[string]any{
		"groupId": "g1", "name": "G1", "agentId": "pro-bot",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "missing_key", body["code"])

	status, body = api.do("POST", "/api/groups", map[string]any{
		"groupId": "g1", "name": "G1", "agentId": "pro-bot",
	}, keyHeader("claw_nope"))
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid_key", body["code"])

	status, body = api.do("POST", "/api/groups", map[string]any{
		"groupId": "g1", "name": "G1", "agentId": "con-bot",
	}, keyHeader(proKey))
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "impersonation", body["code"])

	status, body = api.do("POST", "/api/agents", map[string]any{"agentId": "pro-bot", "name": "again"}, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "agent_exists", body["code"])

	status, body = api.do("GET", "/api/groups/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "group_not_found", body["code"])

	status, body = api.do("GET", "/api/agents", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(2), body["total"])
}

func TestAPI_CronAndFaucet(t *testing.T) {
	api := newTestAPI(t, 0)

	status, _ := api.do("GET", "/api/cron/resolve", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := api.do("GET", "/api/cron/resolve", nil, bearer(cronSecret))
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, float64(0), body["resolved"])

	status, _ = api.do("POST", "/api/wallet/faucet", map[string]any{"address": bettor, "amount": 50}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = api.do("POST", "/api/wallet/faucet", map[string]any{"address": bettor, "amount": 50}, bearer(adminKey))
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "50", body["wallet"].(map[string]any)["balance"])

	status, body = api.do("GET", "/api/leaderboard", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["leaderboard"])

	status, body = api.do("GET", "/api/health", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestAPI_RateLimit(t *testing.T) {
	api := newTestAPI(t, 2)

	for i := 0; i < 2; i++ {
		status, _ := api.do("GET", "/api/groups", nil, nil)
		require.Equal(t, http.StatusOK, status)
	}
	status, body := api.do("GET", "/api/groups", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate_limited", body["code"])

	status, _ = api.do("GET", "/api/health", nil, nil)
	assert.Equal(t, http.StatusOK, status)
}
