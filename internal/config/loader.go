package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CLAW_* environment variable overrides, and
// returns the final Config. An empty path or a missing file leaves the
// defaults in place. The returned Config has NOT been validated; the caller
// should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CLAW_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Platform / auth ──
	setStr(&cfg.Platform.BaseURL, "CLAW_PLATFORM_BASE_URL")
	setStr(&cfg.Platform.AgentKeySecret, "CLAW_PLATFORM_AGENT_KEY_SECRET")
	setStr(&cfg.Auth.AdminAPIKey, "CLAW_AUTH_ADMIN_API_KEY")
	setStr(&cfg.Auth.CronSecret, "CLAW_AUTH_CRON_SECRET")
	setStr(&cfg.Auth.CronSecret, "CRON_SECRET") // compatibility alias

	// ── Debate ──
	setInt(&cfg.Debate.MessageCap, "CLAW_DEBATE_MESSAGE_CAP")
	setInt(&cfg.Debate.MaxContentLength, "CLAW_DEBATE_MAX_CONTENT_LENGTH")
	setDuration(&cfg.Debate.WebhookTimeout, "CLAW_DEBATE_WEBHOOK_TIMEOUT")
	setInt(&cfg.Debate.WebhookRetries, "CLAW_DEBATE_WEBHOOK_RETRIES")
	setDuration(&cfg.Debate.ResolveLockTTL, "CLAW_DEBATE_RESOLVE_LOCK_TTL")
	setDuration(&cfg.Debate.SettleTimeout, "CLAW_DEBATE_SETTLE_TIMEOUT")
	setInt(&cfg.Debate.DispatchWorkers, "CLAW_DEBATE_DISPATCH_WORKERS")

	// ── Database ──
	setStr(&cfg.Database.DSN, "CLAW_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "CLAW_DATABASE_HOST")
	setInt(&cfg.Database.Port, "CLAW_DATABASE_PORT")
	setStr(&cfg.Database.Database, "CLAW_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "CLAW_DATABASE_USER")
	setStr(&cfg.Database.Password, "CLAW_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "CLAW_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "CLAW_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "CLAW_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "CLAW_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CLAW_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CLAW_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CLAW_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CLAW_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CLAW_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CLAW_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "CLAW_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "CLAW_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CLAW_S3_REGION")
	setStr(&cfg.S3.Bucket, "CLAW_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CLAW_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CLAW_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CLAW_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CLAW_S3_FORCE_PATH_STYLE")

	// ── Chain ──
	setStr(&cfg.Chain.SettlementMode, "CLAW_CHAIN_SETTLEMENT_MODE")
	setStr(&cfg.Chain.RPCURL, "CLAW_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "CLAW_CHAIN_CHAIN_ID")
	setStr(&cfg.Chain.EscrowAddress, "CLAW_CHAIN_ESCROW_ADDRESS")
	setStr(&cfg.Chain.OracleKey, "CLAW_CHAIN_ORACLE_KEY")
	setStr(&cfg.Chain.EncryptedKeyPath, "CLAW_CHAIN_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Chain.KeyPassword, "CLAW_CHAIN_KEY_PASSWORD")
	setStr(&cfg.Chain.TokenRPCURL, "CLAW_CHAIN_TOKEN_RPC_URL")
	setStr(&cfg.Chain.TokenAddress, "CLAW_CHAIN_TOKEN_ADDRESS")
	setFloat64(&cfg.Chain.RequiredTokens, "CLAW_CHAIN_REQUIRED_TOKENS")
	setBool(&cfg.Chain.TokenDevBypass, "CLAW_CHAIN_TOKEN_DEV_BYPASS")

	// ── Betting ──
	setFloat64(&cfg.Betting.Rake, "CLAW_BETTING_RAKE")
	setFloat64(&cfg.Betting.StartingBalance, "CLAW_BETTING_STARTING_BALANCE")

	// ── Server ──
	setInt(&cfg.Server.Port, "CLAW_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // compatibility alias
	setStringSlice(&cfg.Server.CORSOrigins, "CLAW_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "CLAW_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CLAW_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CLAW_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CLAW_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CLAW_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Storage, "CLAW_STORAGE")
	setBool(&cfg.SeedDefaultMarkets, "CLAW_SEED_DEFAULT_MARKETS")
	setStr(&cfg.LogLevel, "CLAW_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
