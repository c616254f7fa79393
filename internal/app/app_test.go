package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/clawmarket/internal/config"
	"github.com/alanyoungcy/clawmarket/internal/domain"
	"github.com/alanyoungcy/clawmarket/internal/platform/chain"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := config.Defaults()
	cfg.Storage = config.StorageMemory
	cfg.Redis.Addr = mr.Addr()
	cfg.Platform.AgentKeySecret = "0123456789abcdef0123"
	require.NoError(t, cfg.Validate())
	return &cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWire_MemoryLedger(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Chain.TokenDevBypass = true

	deps, cleanup, err := Wire(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.MarketStore)
	assert.Nil(t, deps.Archive)
	assert.Nil(t, deps.Escrow)
	assert.IsType(t, chain.LedgerSettler{}, deps.Settler)
	assert.IsType(t, chain.StaticGate{}, deps.Gate)
	assert.Contains(t, deps.HealthChecks, "redis")
	assert.NotContains(t, deps.HealthChecks, "postgres")
	require.NoError(t, deps.HealthChecks["redis"](context.Background()))
}

func TestWire_RedisUnavailable(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Redis.Addr = "127.0.0.1:1"
	cfg.Redis.MaxRetries = -1

	_, _, err := Wire(context.Background(), cfg, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wire: redis")
}

func TestApp_SeedAndSweep(t *testing.T) {
	cfg := memoryConfig(t)
	a := New(cfg, testLogger())
	defer a.Close()

	ctx := context.Background()
	deps, err := a.wire(ctx)
	require.NoError(t, err)

	svc := a.buildServices(deps)
	n, err := svc.markets.SeedDefaults(ctx)
	require.NoError(t, err)
	assert.Positive(t, n)

	// Freshly seeded markets are all active, so a sweep only skips them.
	res, err := a.SweepMode(ctx, deps)
	require.NoError(t, err)
	assert.Empty(t, res.Resolved)
	assert.Empty(t, res.Failed)
	assert.Len(t, res.Skipped, n)

	r := a.ResolveMode(ctx, deps, "no-such-market")
	assert.False(t, r.Success)
	assert.Equal(t, domain.ReasonGroupNotFound, r.Reason)
}
