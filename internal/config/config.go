// Package config defines the top-level configuration for the debate market
// and provides validation helpers.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/clawmarket/internal/debate"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Settlement modes.
const (
	SettlementLedger  = "ledger"
	SettlementOnchain = "onchain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CLAW_* environment variables.
type Config struct {
	Platform           PlatformConfig `toml:"platform"`
	Auth               AuthConfig     `toml:"auth"`
	Debate             DebateConfig   `toml:"debate"`
	Database           DatabaseConfig `toml:"database"`
	Redis              RedisConfig    `toml:"redis"`
	S3                 S3Config       `toml:"s3"`
	Chain              ChainConfig    `toml:"chain"`
	Betting            BettingConfig  `toml:"betting"`
	Server             ServerConfig   `toml:"server"`
	Notify             NotifyConfig   `toml:"notify"`
	Storage            string         `toml:"storage"`
	SeedDefaultMarkets bool           `toml:"seed_default_markets"`
	LogLevel           string         `toml:"log_level"`
}

// PlatformConfig holds the public identity of the deployment.
type PlatformConfig struct {
	// BaseURL is where agents POST their replies; it prefixes reply URLs.
	BaseURL string `toml:"base_url"`
	// AgentKeySecret derives agent API keys and signs webhook payloads.
	AgentKeySecret string `toml:"agent_key_secret"`
}

// AuthConfig holds the operator credentials.
type AuthConfig struct {
	AdminAPIKey string `toml:"admin_api_key"`
	CronSecret  string `toml:"cron_secret"`
}

// DebateConfig holds the debate rules and turn delivery parameters.
type DebateConfig struct {
	MessageCap        int      `toml:"message_cap"`
	MaxContentLength  int      `toml:"max_content_length"`
	WebhookTimeout    duration `toml:"webhook_timeout"`
	WebhookRetries    int      `toml:"webhook_retries"`
	WebhookRetryDelay duration `toml:"webhook_retry_delay"`
	DeliveryLogSize   int      `toml:"delivery_log_size"`
	OracleLogSize     int      `toml:"oracle_log_size"`
	ResolveLockTTL    duration `toml:"resolve_lock_ttl"`
	SettleTimeout     duration `toml:"settle_timeout"`
	DispatchQueueSize int      `toml:"dispatch_queue_size"`
	DispatchWorkers   int      `toml:"dispatch_workers"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds the transcript archive bucket. The archive is off unless
// Enabled is set.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ChainConfig holds the escrow contract, the oracle key and the spectator
// token gate.
type ChainConfig struct {
	SettlementMode   string   `toml:"settlement_mode"`
	RPCURL           string   `toml:"rpc_url"`
	ChainID          int64    `toml:"chain_id"`
	EscrowAddress    string   `toml:"escrow_address"`
	OracleKey        string   `toml:"oracle_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	GasLimit         uint64   `toml:"gas_limit"`
	ReceiptTimeout   duration `toml:"receipt_timeout"`

	// TokenRPCURL defaults to RPCURL.
	TokenRPCURL    string  `toml:"token_rpc_url"`
	TokenAddress   string  `toml:"token_address"`
	RequiredTokens float64 `toml:"required_tokens"`
	// TokenDevBypass treats every spectator wallet as holding the required
	// balance when no token address is configured.
	TokenDevBypass bool `toml:"token_dev_bypass"`
}

// BettingConfig holds the ledger parameters.
type BettingConfig struct {
	Rake            float64 `toml:"rake"`
	StartingBalance float64 `toml:"starting_balance"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	RateLimit       int      `toml:"rate_limit"`
	RateWindow      duration `toml:"rate_window"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Platform: PlatformConfig{
			BaseURL: "http://localhost:8000",
		},
		Debate: DebateConfig{
			MessageCap:        debate.DefaultMessageCap,
			MaxContentLength:  500,
			WebhookTimeout:    duration{10 * time.Second},
			WebhookRetries:    1,
			WebhookRetryDelay: duration{500 * time.Millisecond},
			DeliveryLogSize:   50,
			OracleLogSize:     20,
			ResolveLockTTL:    duration{2 * time.Minute},
			SettleTimeout:     duration{90 * time.Second},
			DispatchQueueSize: 256,
			DispatchWorkers:   4,
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "clawmarket",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "clawmarket-transcripts",
			ForcePathStyle: true,
		},
		Chain: ChainConfig{
			SettlementMode: SettlementLedger,
			ChainID:        8453,
			GasLimit:       300_000,
			ReceiptTimeout: duration{60 * time.Second},
			RequiredTokens: 6969,
		},
		Betting: BettingConfig{
			Rake:            0.07,
			StartingBalance: 1000,
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateWindow:      duration{time.Minute},
			ShutdownTimeout: duration{15 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"market_resolved", "resolution_failed", "webhook_exhausted"},
		},
		Storage:            StoragePostgres,
		SeedDefaultMarkets: true,
		LogLevel:           "info",
	}
}

// Webhook delivery limits. Turn notifications get one attempt plus at most one
// retry, each bounded by maxWebhookTimeout.
const (
	maxWebhookTimeout = 10 * time.Second
	maxWebhookRetries = 1
)

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Platform
	if u, err := url.Parse(c.Platform.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("platform: base_url must be an absolute URL, got %q", c.Platform.BaseURL))
	}
	if len(c.Platform.AgentKeySecret) < 16 {
		errs = append(errs, "platform: agent_key_secret must be at least 16 characters")
	}

	// Debate
	if c.Debate.MessageCap != debate.DefaultMessageCap {
		errs = append(errs, fmt.Sprintf("debate: message_cap is fixed at %d, got %d", debate.DefaultMessageCap, c.Debate.MessageCap))
	}
	if c.Debate.MaxContentLength < 1 {
		errs = append(errs, "debate: max_content_length must be >= 1")
	}
	if c.Debate.WebhookTimeout.Duration <= 0 || c.Debate.WebhookTimeout.Duration > maxWebhookTimeout {
		errs = append(errs, fmt.Sprintf("debate: webhook_timeout must be in (0, %s]", maxWebhookTimeout))
	}
	if c.Debate.WebhookRetries < 0 || c.Debate.WebhookRetries > maxWebhookRetries {
		errs = append(errs, fmt.Sprintf("debate: webhook_retries must be 0-%d, got %d", maxWebhookRetries, c.Debate.WebhookRetries))
	}
	if c.Debate.DeliveryLogSize < 1 || c.Debate.OracleLogSize < 1 {
		errs = append(errs, "debate: delivery_log_size and oracle_log_size must be >= 1")
	}
	if c.Debate.ResolveLockTTL.Duration <= c.Debate.SettleTimeout.Duration {
		errs = append(errs, "debate: resolve_lock_ttl must exceed settle_timeout")
	}
	if c.Debate.DispatchWorkers < 1 || c.Debate.DispatchQueueSize < 1 {
		errs = append(errs, "debate: dispatch_workers and dispatch_queue_size must be >= 1")
	}

	// Storage
	switch c.Storage {
	case StoragePostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns < 0 || c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must be between 0 and pool_max_conns")
		}
	case StorageMemory:
	default:
		errs = append(errs, fmt.Sprintf("unknown storage %q (valid: postgres, memory)", c.Storage))
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty when enabled")
	}

	// Chain
	switch c.Chain.SettlementMode {
	case SettlementLedger:
	case SettlementOnchain:
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url is required for onchain settlement")
		}
		if !common.IsHexAddress(c.Chain.EscrowAddress) {
			errs = append(errs, fmt.Sprintf("chain: escrow_address %q is not a hex address", c.Chain.EscrowAddress))
		}
		if c.Chain.ChainID <= 0 {
			errs = append(errs, "chain: chain_id must be positive")
		}
		if c.Chain.OracleKey == "" && c.Chain.EncryptedKeyPath == "" {
			errs = append(errs, "chain: either oracle_key or encrypted_key_path must be set for onchain settlement")
		}
		if c.Chain.EncryptedKeyPath != "" && c.Chain.KeyPassword == "" {
			errs = append(errs, "chain: key_password is required when encrypted_key_path is set")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown chain.settlement_mode %q (valid: ledger, onchain)", c.Chain.SettlementMode))
	}
	if c.Chain.TokenAddress != "" {
		if !common.IsHexAddress(c.Chain.TokenAddress) {
			errs = append(errs, fmt.Sprintf("chain: token_address %q is not a hex address", c.Chain.TokenAddress))
		}
		if c.Chain.TokenRPCURL == "" && c.Chain.RPCURL == "" {
			errs = append(errs, "chain: token_rpc_url or rpc_url is required when token_address is set")
		}
	}
	if c.Chain.RequiredTokens <= 0 {
		errs = append(errs, "chain: required_tokens must be > 0")
	}

	// Betting
	if c.Betting.Rake <= 0 || c.Betting.Rake >= 1 {
		errs = append(errs, fmt.Sprintf("betting: rake must be in (0, 1), got %g", c.Betting.Rake))
	}
	if c.Betting.StartingBalance < 0 {
		errs = append(errs, "betting: starting_balance must be >= 0")
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
		errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// TokenRPC returns the RPC endpoint used for token gate reads.
func (c ChainConfig) TokenRPC() string {
	if c.TokenRPCURL != "" {
		return c.TokenRPCURL
	}
	return c.RPCURL
}
