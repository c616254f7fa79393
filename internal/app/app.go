// Package app provides the top-level application lifecycle management for the
// debate market. It wires together all dependencies (stores, caches, blob
// storage, chain clients, services, and notifications) and runs the
// requested operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/clawmarket/internal/config"
	"github.com/alanyoungcy/clawmarket/internal/domain"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// wire builds the dependencies once and registers their cleanup.
func (a *App) wire(ctx context.Context) (*Dependencies, error) {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	return deps, nil
}

// Run is the main entry point for the server. It wires all dependencies,
// starts the HTTP API and the background workers, and blocks until the
// context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("storage", a.cfg.Storage),
		slog.String("settlement", a.cfg.Chain.SettlementMode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}
	return a.ServeMode(ctx, deps)
}

// Sweep wires the dependencies and resolves every market that is ready.
func (a *App) Sweep(ctx context.Context) (domain.SweepResult, error) {
	deps, err := a.wire(ctx)
	if err != nil {
		return domain.SweepResult{}, err
	}
	return a.SweepMode(ctx, deps)
}

// Resolve wires the dependencies and runs one resolution attempt.
func (a *App) Resolve(ctx context.Context, marketID string) (domain.ResolveResult, error) {
	deps, err := a.wire(ctx)
	if err != nil {
		return domain.ResolveResult{}, err
	}
	return a.ResolveMode(ctx, deps, marketID), nil
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
