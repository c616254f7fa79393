package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/clawmarket/internal/domain"
	"github.com/alanyoungcy/clawmarket/internal/service"
)

// BettingService defines what the betting handlers need from the service
// layer.
type BettingService interface {
	PlaceBet(ctx context.Context, in service.PlaceBetInput) (service.BetReceipt, error)
	Pool(ctx context.Context, marketID string) (domain.PoolSummary, error)
	Info(ctx context.Context) (service.BettingInfo, error)
	Wallet(ctx context.Context, address string) (service.WalletView, error)
	Faucet(ctx context.Context, address string, amount decimal.Decimal) (domain.Wallet, error)
	Leaderboard(ctx context.Context) ([]domain.LeaderboardEntry, error)
}

// BetHandler serves pools, wagers and wallets.
type BetHandler struct {
	betting BettingService
	logger  *slog.Logger
}

// NewBetHandler creates a BetHandler.
func NewBetHandler(betting BettingService, logger *slog.Logger) *BetHandler {
	return &BetHandler{betting: betting, logger: logHandler(logger, "bets")}
}

// Info reports the settlement mode, addresses and every pool.
// GET /api/bets
func (h *BetHandler) Info(w http.ResponseWriter, r *http.Request) {
	info, err := h.betting.Info(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "betting info", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// GetPool returns a debate's pool with odds.
// GET /api/bets/{debateId}
func (h *BetHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	sum, err := h.betting.Pool(r.Context(), pathParam(r, "debateId"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get pool", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type placeBetRequest struct {
	WalletAddress string          `json:"walletAddress"`
	AgentID       string          `json:"agentId"`
	Amount        decimal.Decimal `json:"amount"`
}

// PlaceBet wagers ledger funds on a debater.
// POST /api/bets/{debateId}
func (h *BetHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req placeBetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "place bet", err)
		return
	}

	rec, err := h.betting.PlaceBet(r.Context(), service.PlaceBetInput{
		MarketID:      pathParam(r, "debateId"),
		WalletAddress: req.WalletAddress,
		AgentID:       req.AgentID,
		Amount:        req.Amount,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "place bet", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":    true,
		"bet":        rec.Bet,
		"newBalance": rec.NewBalance,
		"pool":       rec.Pool,
	})
}

// GetWallet returns a wallet and its bet history.
// GET /api/wallet/{address}
func (h *BetHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	view, err := h.betting.Wallet(r.Context(), pathParam(r, "address"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get wallet", err)
		return
	}
	if view.BetHistory == nil {
		view.BetHistory = []domain.Bet{}
	}
	writeJSON(w, http.StatusOK, view)
}

type faucetRequest struct {
	Address string          `json:"address"`
	Amount  decimal.Decimal `json:"amount"`
}

// Faucet credits a wallet.
// POST /api/wallet/faucet
func (h *BetHandler) Faucet(w http.ResponseWriter, r *http.Request) {
	var req faucetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "faucet", err)
		return
	}
	wallet, err := h.betting.Faucet(r.Context(), req.Address, req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "faucet", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "wallet": wallet})
}

// Leaderboard ranks bettors by profit.
// GET /api/leaderboard
func (h *BetHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.betting.Leaderboard(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "leaderboard", err)
		return
	}
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": entries})
}
