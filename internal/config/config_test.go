package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Platform.AgentKeySecret = "0123456789abcdef0123"
	return cfg
}

func TestDefaults_Validate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	// Without a key secret the defaults are rejected.
	bare := Defaults()
	err := bare.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent_key_secret")
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.LogLevel = "loud"
	cfg.Storage = "sqlite"
	cfg.Betting.Rake = 1.5
	cfg.Debate.ResolveLockTTL = duration{30 * time.Second}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown log_level "loud"`)
	assert.Contains(t, msg, `unknown storage "sqlite"`)
	assert.Contains(t, msg, "rake must be in (0, 1)")
	assert.Contains(t, msg, "resolve_lock_ttl must exceed settle_timeout")
}

func TestValidate_DebateHardLimits(t *testing.T) {
	cfg := validConfig()
	cfg.Debate.MessageCap = 3
	cfg.Debate.WebhookRetries = 3
	cfg.Debate.WebhookTimeout = duration{30 * time.Second}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "message_cap is fixed at 5, got 3")
	assert.Contains(t, msg, "webhook_retries must be 0-1, got 3")
	assert.Contains(t, msg, "webhook_timeout must be in (0, 10s]")

	cfg.Debate.MessageCap = 5
	cfg.Debate.WebhookRetries = 0
	cfg.Debate.WebhookTimeout = duration{10 * time.Second}
	assert.NoError(t, cfg.Validate())

	cfg.Debate.WebhookRetries = -1
	assert.ErrorContains(t, cfg.Validate(), "webhook_retries must be 0-1, got -1")
}

func TestValidate_Onchain(t *testing.T) {
	cfg := validConfig()
	cfg.Chain.SettlementMode = SettlementOnchain

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc_url is required")
	assert.Contains(t, err.Error(), "escrow_address")

	cfg.Chain.RPCURL = "https://mainnet.base.org"
	cfg.Chain.EscrowAddress = "0x00000000000000000000000000000000000000aa"
	cfg.Chain.OracleKey = "deadbeef"
	assert.NoError(t, cfg.Validate())

	cfg.Chain.TokenAddress = "not-an-address"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token_address")
}

func TestValidate_MemoryStorageSkipsDatabase(t *testing.T) {
	cfg := validConfig()
	cfg.Storage = StorageMemory
	cfg.Database.Host = ""
	cfg.Database.PoolMaxConns = 0
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clawmarket.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage = "memory"
log_level = "debug"

[platform]
base_url = "https://claw.example"
agent_key_secret = "file-secret-file-secret"

[debate]
message_cap = 5
settle_timeout = "45s"

[server]
cors_origins = ["https://claw.example"]
`), 0o600))

	t.Setenv("CLAW_PLATFORM_AGENT_KEY_SECRET", "env-secret-env-secret")
	t.Setenv("CLAW_SERVER_PORT", "9100")
	t.Setenv("CLAW_CHAIN_CHAIN_ID", "84532")
	t.Setenv("CLAW_BETTING_RAKE", "0.05")
	t.Setenv("CLAW_NOTIFY_EVENTS", "market_resolved, ,sweep_completed")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "https://claw.example", cfg.Platform.BaseURL)
	assert.Equal(t, "env-secret-env-secret", cfg.Platform.AgentKeySecret)
	assert.Equal(t, 5, cfg.Debate.MessageCap)
	assert.Equal(t, 45*time.Second, cfg.Debate.SettleTimeout.Duration)
	assert.Equal(t, 500, cfg.Debate.MaxContentLength, "unset keys keep their defaults")
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, int64(84532), cfg.Chain.ChainID)
	assert.InDelta(t, 0.05, cfg.Betting.Rake, 1e-9)
	assert.Equal(t, []string{"market_resolved", "sweep_completed"}, cfg.Notify.Events)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Debate.MessageCap)
}

func TestLoad_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[debate]\nwebhook_timeout = \"soon\"\n"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.AdminAPIKey = "admin"
	cfg.Chain.OracleKey = "deadbeef"
	cfg.Notify.DiscordWebhookURL = "https://discord.example/hook"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Platform.AgentKeySecret)
	assert.Equal(t, "***", out.Auth.AdminAPIKey)
	assert.Equal(t, "***", out.Chain.OracleKey)
	assert.Equal(t, "***", out.Notify.DiscordWebhookURL)
	assert.Empty(t, out.Auth.CronSecret, "empty secrets stay empty")

	out.Notify.Events[0] = "changed"
	assert.Equal(t, "market_resolved", cfg.Notify.Events[0])
	assert.Equal(t, "admin", cfg.Auth.AdminAPIKey)
}
