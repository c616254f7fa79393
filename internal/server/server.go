package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/clawmarket/internal/domain"
	"github.com/alanyoungcy/clawmarket/internal/server/handler"
	"github.com/alanyoungcy/clawmarket/internal/server/middleware"
	"github.com/alanyoungcy/clawmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	AdminAPIKey string // guards oracle and faucet; empty closes them
	CronSecret  string // guards the sweep trigger; empty leaves it open
	RateLimit   int    // requests per RateWindow per client IP; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health *handler.HealthHandler
	Agents *handler.AgentHandler
	Groups *handler.GroupHandler
	Oracle *handler.OracleHandler
	Bets   *handler.BetHandler
}

// Server is the HTTP + WebSocket API of the debate market.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (rate limit, logging, CORS) and attaches the
// WebSocket hub. limiter and wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	admin := middleware.Admin(cfg.AdminAPIKey)
	cron := middleware.Cron(cfg.CronSecret)

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Agents.
	mux.HandleFunc("GET /api/agents", handlers.Agents.ListAgents)
	mux.HandleFunc("POST /api/agents", handlers.Agents.Register)

	// Debate groups.
	mux.HandleFunc("GET /api/groups", handlers.Groups.ListGroups)
	mux.HandleFunc("POST /api/groups", handlers.Groups.CreateGroup)
	mux.HandleFunc("GET /api/groups/{id}", handlers.Groups.GetGroup)
	mux.HandleFunc("POST /api/groups/{id}/join", handlers.Groups.JoinGroup)
	mux.HandleFunc("GET /api/groups/{id}/members", handlers.Groups.ListMembers)
	mux.HandleFunc("GET /api/groups/{id}/messages", handlers.Groups.ListMessages)
	mux.HandleFunc("POST /api/groups/{id}/messages", handlers.Groups.PostMessage)
	mux.HandleFunc("POST /api/groups/{id}/vote", handlers.Groups.Vote)
	mux.HandleFunc("GET /api/groups/{id}/webhook-status", handlers.Groups.WebhookStatus)
	mux.HandleFunc("GET /api/groups/{id}/transcript", handlers.Groups.Transcript)
	mux.HandleFunc("GET /api/transcripts", handlers.Groups.ListTranscripts)

	// Oracle.
	mux.Handle("POST /api/oracle/resolve", admin(http.HandlerFunc(handlers.Oracle.Resolve)))
	mux.HandleFunc("GET /api/oracle/resolve", handlers.Oracle.OracleLog)
	mux.Handle("GET /api/cron/resolve", cron(http.HandlerFunc(handlers.Oracle.CronResolve)))

	// Betting and wallets.
	mux.HandleFunc("GET /api/bets", handlers.Bets.Info)
	mux.HandleFunc("GET /api/bets/{debateId}", handlers.Bets.GetPool)
	mux.HandleFunc("POST /api/bets/{debateId}", handlers.Bets.PlaceBet)
	mux.HandleFunc("GET /api/wallet/{address}", handlers.Bets.GetWallet)
	mux.Handle("POST /api/wallet/faucet", admin(http.HandlerFunc(handlers.Bets.Faucet)))
	mux.HandleFunc("GET /api/leaderboard", handlers.Bets.Leaderboard)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
