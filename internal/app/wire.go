package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/clawmarket/internal/blob/s3"
	"github.com/alanyoungcy/clawmarket/internal/cache/redis"
	"github.com/alanyoungcy/clawmarket/internal/config"
	"github.com/alanyoungcy/clawmarket/internal/crypto"
	"github.com/alanyoungcy/clawmarket/internal/domain"
	"github.com/alanyoungcy/clawmarket/internal/notify"
	"github.com/alanyoungcy/clawmarket/internal/platform/chain"
	"github.com/alanyoungcy/clawmarket/internal/server/handler"
	"github.com/alanyoungcy/clawmarket/internal/store/memory"
	"github.com/alanyoungcy/clawmarket/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	AgentStore      domain.AgentStore
	MarketStore     domain.MarketStore
	PoolStore       domain.PoolStore
	WalletStore     domain.WalletStore
	ResolutionStore domain.ResolutionStore
	AuditStore      domain.AuditStore

	// Redis
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	DeliveryLog domain.DeliveryLog
	OracleLog   domain.OracleLog

	// Transcript archive; nil unless s3.enabled.
	Archive domain.TranscriptArchive

	// Chain
	Settler domain.Settler
	Escrow  *chain.Escrow    // nil in ledger mode
	Gate    domain.TokenGate // nil when spectators are not gated

	Codec    *crypto.Codec
	Notifier *notify.Notifier

	// HealthChecks probe every external backend for GET /api/health.
	HealthChecks map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		HealthChecks: make(map[string]handler.HealthCheck),
	}

	// --- Stores ---
	switch cfg.Storage {
	case config.StorageMemory:
		logger.WarnContext(ctx, "wire: using in-memory storage; state is lost on restart")
		stores := memory.NewStores()
		deps.AgentStore = stores.Agents
		deps.MarketStore = stores.Markets
		deps.PoolStore = stores.Pools
		deps.WalletStore = stores.Wallets
		deps.ResolutionStore = stores.Resolutions
		deps.AuditStore = stores.Audit

	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		// Run migrations if enabled.
		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.AgentStore = postgres.NewAgentStore(pool)
		deps.MarketStore = postgres.NewMarketStore(pool)
		deps.PoolStore = postgres.NewPoolStore(pool)
		deps.WalletStore = postgres.NewWalletStore(pool)
		deps.ResolutionStore = postgres.NewResolutionStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.HealthChecks["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.DeliveryLog = redis.NewDeliveryLog(redisClient, cfg.Debate.DeliveryLogSize)
	deps.OracleLog = redis.NewOracleLog(redisClient, cfg.Debate.OracleLogSize)
	deps.HealthChecks["redis"] = redisClient.Ping

	// --- S3 transcript archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archive = s3blob.NewArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), deps.AuditStore)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Chain ---
	if err := wireChain(ctx, cfg, deps, &closers, logger); err != nil {
		cleanup()
		return nil, nil, err
	}

	deps.Codec = crypto.NewCodec(cfg.Platform.AgentKeySecret)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// wireChain selects the settler and the spectator token gate.
func wireChain(ctx context.Context, cfg *config.Config, deps *Dependencies, closers *[]func(), logger *slog.Logger) error {
	var rpc *ethclient.Client

	switch cfg.Chain.SettlementMode {
	case config.SettlementOnchain:
		client, err := chain.Dial(ctx, cfg.Chain.RPCURL)
		if err != nil {
			return fmt.Errorf("wire: chain: %w", err)
		}
		*closers = append(*closers, client.Close)
		rpc = client

		signer, err := crypto.LoadSigner(crypto.KeyConfig{
			RawPrivateKey:    cfg.Chain.OracleKey,
			EncryptedKeyPath: cfg.Chain.EncryptedKeyPath,
			KeyPassword:      cfg.Chain.KeyPassword,
		})
		if err != nil {
			return fmt.Errorf("wire: oracle key: %w", err)
		}
		escrow, err := chain.NewEscrow(client, signer, chain.EscrowConfig{
			Address:        cfg.Chain.EscrowAddress,
			ChainID:        cfg.Chain.ChainID,
			GasLimit:       cfg.Chain.GasLimit,
			ReceiptTimeout: cfg.Chain.ReceiptTimeout.Duration,
		}, logger.With(slog.String("component", "escrow")))
		if err != nil {
			return fmt.Errorf("wire: escrow: %w", err)
		}
		deps.Escrow = escrow
		deps.Settler = escrow
		logger.InfoContext(ctx, "wire: on-chain settlement enabled",
			slog.String("escrow", cfg.Chain.EscrowAddress),
			slog.String("oracle", signer.Address().Hex()),
			slog.Int64("chain_id", cfg.Chain.ChainID),
		)
	default:
		deps.Settler = chain.LedgerSettler{}
	}

	switch {
	case cfg.Chain.TokenAddress != "":
		if rpc == nil || cfg.Chain.TokenRPC() != cfg.Chain.RPCURL {
			client, err := chain.Dial(ctx, cfg.Chain.TokenRPC())
			if err != nil {
				return fmt.Errorf("wire: token rpc: %w", err)
			}
			*closers = append(*closers, client.Close)
			rpc = client
		}
		gate, err := chain.NewTokenGate(rpc, cfg.Chain.TokenAddress)
		if err != nil {
			return fmt.Errorf("wire: token gate: %w", err)
		}
		deps.Gate = gate
	case cfg.Chain.TokenDevBypass:
		logger.WarnContext(ctx, "wire: token gate bypassed; every spectator passes")
		deps.Gate = chain.StaticGate{Amount: decimal.NewFromFloat(cfg.Chain.RequiredTokens)}
	}

	return nil
}
