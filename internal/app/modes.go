package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/clawmarket/internal/debate"
	"github.com/alanyoungcy/clawmarket/internal/dispatch"
	"github.com/alanyoungcy/clawmarket/internal/domain"
	"github.com/alanyoungcy/clawmarket/internal/feed"
	"github.com/alanyoungcy/clawmarket/internal/oracle"
	"github.com/alanyoungcy/clawmarket/internal/server"
	"github.com/alanyoungcy/clawmarket/internal/server/handler"
	"github.com/alanyoungcy/clawmarket/internal/server/ws"
	"github.com/alanyoungcy/clawmarket/internal/service"
)

// services holds everything built on top of the dependencies.
type services struct {
	agents     *service.AgentService
	markets    *service.MarketService
	betting    *service.BettingService
	oracle     *oracle.Oracle
	dispatcher *dispatch.Dispatcher
	publisher  *feed.Publisher
}

// buildOracle wires the resolver with its optional collaborators.
func (a *App) buildOracle(deps *Dependencies, publisher *feed.Publisher) *oracle.Oracle {
	orc := oracle.New(
		deps.MarketStore, deps.PoolStore, deps.ResolutionStore,
		deps.Settler, deps.LockManager, deps.OracleLog,
		oracle.Config{
			LockTTL:       a.cfg.Debate.ResolveLockTTL.Duration,
			SettleTimeout: a.cfg.Debate.SettleTimeout.Duration,
			Rake:          decimal.NewFromFloat(a.cfg.Betting.Rake),
		},
		a.logger,
	)
	orc.SetPublisher(publisher)
	orc.SetAlerter(deps.Notifier)
	orc.SetAudit(deps.AuditStore)
	if deps.Archive != nil {
		orc.SetArchive(deps.Archive)
	}
	return orc
}

func (a *App) buildServices(deps *Dependencies) *services {
	cfg := a.cfg

	rules := debate.DefaultRules()
	rules.MessageCap = cfg.Debate.MessageCap
	rules.MaxContentLen = cfg.Debate.MaxContentLength

	dispatcher := dispatch.New(deps.AgentStore, deps.Codec, deps.DeliveryLog, deps.Notifier,
		dispatch.Config{
			PlatformURL: cfg.Platform.BaseURL,
			Timeout:     cfg.Debate.WebhookTimeout.Duration,
			Retries:     cfg.Debate.WebhookRetries,
			RetryDelay:  cfg.Debate.WebhookRetryDelay.Duration,
			QueueSize:   cfg.Debate.DispatchQueueSize,
			Workers:     cfg.Debate.DispatchWorkers,
			MessageCap:  cfg.Debate.MessageCap,
		}, a.logger)
	publisher := feed.NewPublisher(deps.SignalBus, a.logger)

	// Only a live escrow creates pools on market creation.
	var poolCreator domain.PoolCreator
	if deps.Escrow != nil {
		poolCreator = deps.Escrow
	}

	return &services{
		agents: service.NewAgentService(
			deps.AgentStore, deps.Codec, deps.Gate,
			decimal.NewFromFloat(cfg.Chain.RequiredTokens),
			deps.AuditStore, a.logger,
		),
		markets: service.NewMarketService(
			deps.MarketStore, deps.PoolStore, deps.AgentStore, rules,
			dispatcher, publisher, poolCreator,
			deps.DeliveryLog, deps.Archive, deps.AuditStore, a.logger,
		),
		betting: service.NewBettingService(
			deps.PoolStore, deps.WalletStore, deps.MarketStore,
			service.BettingConfig{
				Rake:            decimal.NewFromFloat(cfg.Betting.Rake),
				StartingBalance: decimal.NewFromFloat(cfg.Betting.StartingBalance),
				SettlementMode:  cfg.Chain.SettlementMode,
				EscrowAddress:   cfg.Chain.EscrowAddress,
				ChainID:         cfg.Chain.ChainID,
			},
			deps.AuditStore, a.logger,
		),
		oracle:     a.buildOracle(deps, publisher),
		dispatcher: dispatcher,
		publisher:  publisher,
	}
}

// ServeMode runs the HTTP + WebSocket API, the turn dispatcher and the live
// event relay until ctx is cancelled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	svc := a.buildServices(deps)

	if a.cfg.SeedDefaultMarkets {
		n, err := svc.markets.SeedDefaults(ctx)
		if err != nil {
			return fmt.Errorf("serve mode: seed markets: %w", err)
		}
		if n > 0 {
			a.logger.InfoContext(ctx, "seeded default markets", slog.Int("count", n))
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return svc.dispatcher.Run(ctx)
	})

	hub := ws.NewHub(a.logger, ws.Config{
		AllowedOrigins: a.cfg.Server.CORSOrigins,
		StartedAt:      time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	relay := feed.NewRelay(deps.SignalBus, hub, a.logger)
	g.Go(func() error {
		return relay.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		AdminAPIKey: a.cfg.Auth.AdminAPIKey,
		CronSecret:  a.cfg.Auth.CronSecret,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health: handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Agents: handler.NewAgentHandler(svc.agents, a.logger),
		Groups: handler.NewGroupHandler(svc.markets, svc.agents, a.logger),
		Oracle: handler.NewOracleHandler(svc.oracle, a.logger),
		Bets:   handler.NewBetHandler(svc.betting, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	if a.cfg.Auth.AdminAPIKey == "" {
		a.logger.WarnContext(ctx, "auth.admin_api_key is empty; oracle resolve and faucet are disabled")
	}

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}

// SweepMode resolves every market in voting once and returns the buckets.
func (a *App) SweepMode(ctx context.Context, deps *Dependencies) (domain.SweepResult, error) {
	orc := a.buildOracle(deps, feed.NewPublisher(deps.SignalBus, a.logger))
	res, err := orc.Sweep(ctx)
	if err != nil {
		return res, fmt.Errorf("sweep mode: %w", err)
	}
	a.logger.InfoContext(ctx, "sweep finished",
		slog.Int("resolved", len(res.Resolved)),
		slog.Int("failed", len(res.Failed)),
		slog.Int("skipped", len(res.Skipped)),
	)
	return res, nil
}

// ResolveMode runs a single resolution attempt for marketID.
func (a *App) ResolveMode(ctx context.Context, deps *Dependencies, marketID string) domain.ResolveResult {
	orc := a.buildOracle(deps, feed.NewPublisher(deps.SignalBus, a.logger))
	return orc.Resolve(ctx, marketID)
}
