package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/clawmarket/internal/betting"
	"github.com/alanyoungcy/clawmarket/internal/domain"
)

// Settlement modes.
const (
	SettlementLedger  = "ledger"
	SettlementOnchain = "onchain"
)

// BettingConfig holds the ledger parameters and the escrow details shown to
// clients.
type BettingConfig struct {
	Rake            decimal.Decimal
	StartingBalance decimal.Decimal
	SettlementMode  string
	EscrowAddress   string
	ChainID         int64
}

// PlaceBetInput is the body of a wager.
type PlaceBetInput struct {
	MarketID      string
	WalletAddress string
	AgentID       string
	Amount        decimal.Decimal
}

// BetReceipt is returned after a successful wager.
type BetReceipt struct {
	Bet        domain.Bet         `json:"bet"`
	NewBalance decimal.Decimal    `json:"newBalance"`
	Pool       domain.PoolSummary `json:"pool"`
}

// WalletView is a wallet with its bet history.
type WalletView struct {
	domain.Wallet
	BetHistory []domain.Bet `json:"betHistory"`
}

// BettingInfo describes how bets are settled.
type BettingInfo struct {
	Mode                string               `json:"mode"`
	Contract            string               `json:"contract,omitempty"`
	ChainID             int64                `json:"chainId,omitempty"`
	Rake                decimal.Decimal      `json:"rake"`
	SettlementAddresses map[string]string    `json:"agentAddresses"`
	Pools               []domain.PoolSummary `json:"pools"`
}

// BettingService places wagers and reports pools and wallets.
type BettingService struct {
	pools   domain.PoolStore
	wallets domain.WalletStore
	markets domain.MarketStore
	cfg     BettingConfig
	audit   domain.AuditStore
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// NewBettingService creates a BettingService.
func NewBettingService(
	pools domain.PoolStore,
	wallets domain.WalletStore,
	markets domain.MarketStore,
	cfg BettingConfig,
	audit domain.AuditStore,
	logger *slog.Logger,
) *BettingService {
	if cfg.Rake.IsZero() {
		cfg.Rake = betting.DefaultRake
	}
	if cfg.StartingBalance.IsZero() {
		cfg.StartingBalance = betting.DefaultStartingBalance
	}
	if cfg.SettlementMode == "" {
		cfg.SettlementMode = SettlementLedger
	}
	return &BettingService{
		pools:   pools,
		wallets: wallets,
		markets: markets,
		cfg:     cfg,
		audit:   audit,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// PlaceBet wagers on a debater of the market. The wallet is created with the
// starting balance on first use.
func (s *BettingService) PlaceBet(ctx context.Context, in PlaceBetInput) (BetReceipt, error) {
	in.WalletAddress = strings.TrimSpace(in.WalletAddress)
	in.AgentID = strings.TrimSpace(in.AgentID)
	if in.MarketID == "" || in.WalletAddress == "" || in.AgentID == "" {
		return BetReceipt{}, domain.Reject(domain.ErrValidation, "missing_fields",
			"missing required fields: debateId, walletAddress, agentId, amount")
	}
	if !in.Amount.IsPositive() {
		return BetReceipt{}, domain.Reject(domain.ErrValidation, "invalid_amount", "bet amount must be positive")
	}

	m, err := s.markets.Get(ctx, in.MarketID)
	if err != nil {
		return BetReceipt{}, s.poolErr(in.MarketID, "get market", err)
	}
	if _, ok := m.Stances[in.AgentID]; !ok {
		return BetReceipt{}, domain.Reject(domain.ErrValidation, "unknown_debater",
			fmt.Sprintf("agent '%s' is not a debater in '%s'", in.AgentID, in.MarketID))
	}

	if _, err := s.wallets.Ensure(ctx, in.WalletAddress, s.cfg.StartingBalance); err != nil {
		return BetReceipt{}, fmt.Errorf("betting_service: ensure wallet: %w", err)
	}

	var bet domain.Bet
	pool, wallet, err := s.pools.Wager(ctx, in.MarketID, in.WalletAddress, func(p *domain.Pool, w *domain.Wallet) error {
		var err error
		bet, err = betting.PlaceBet(p, w, s.newID(), in.AgentID, in.Amount, s.now())
		return err
	})
	if err != nil {
		return BetReceipt{}, s.poolErr(in.MarketID, "wager", err)
	}
	bet.MarketName = m.Name

	s.logger.InfoContext(ctx, "betting_service: bet placed",
		slog.String("market_id", in.MarketID),
		slog.String("wallet", in.WalletAddress),
		slog.String("agent_id", in.AgentID),
		slog.String("amount", in.Amount.String()),
	)
	if s.audit != nil {
		if err := s.audit.Log(ctx, "bet.placed", map[string]any{
			"bet_id":   bet.ID,
			"market":   in.MarketID,
			"wallet":   in.WalletAddress,
			"agent_id": in.AgentID,
			"amount":   in.Amount.String(),
		}); err != nil {
			s.logger.WarnContext(ctx, "betting_service: audit log failed", slog.String("error", err.Error()))
		}
	}

	return BetReceipt{
		Bet:        bet,
		NewBalance: wallet.Balance,
		Pool:       betting.Summarize(pool, debaterIDs(m), s.cfg.Rake),
	}, nil
}

// Pool returns the market's pool with odds.
func (s *BettingService) Pool(ctx context.Context, marketID string) (domain.PoolSummary, error) {
	p, err := s.pools.GetPool(ctx, marketID)
	if err != nil {
		return domain.PoolSummary{}, s.poolErr(marketID, "get pool", err)
	}
	var debaters []string
	if m, err := s.markets.Get(ctx, marketID); err == nil {
		debaters = debaterIDs(m)
	}
	return betting.Summarize(p, debaters, s.cfg.Rake), nil
}

// Info reports the settlement mode and every pool.
func (s *BettingService) Info(ctx context.Context) (BettingInfo, error) {
	pools, err := s.pools.ListPools(ctx)
	if err != nil {
		return BettingInfo{}, fmt.Errorf("betting_service: list pools: %w", err)
	}
	sums := make([]domain.PoolSummary, 0, len(pools))
	for _, p := range pools {
		sums = append(sums, betting.Summarize(p, nil, s.cfg.Rake))
	}
	info := BettingInfo{
		Mode: s.cfg.SettlementMode,
		Rake: s.cfg.Rake,
		SettlementAddresses: map[string]string{
			string(domain.StancePro): domain.ProSettlementAddress,
			string(domain.StanceCon): domain.ConSettlementAddress,
		},
		Pools: sums,
	}
	if s.cfg.SettlementMode == SettlementOnchain {
		info.Contract = s.cfg.EscrowAddress
		info.ChainID = s.cfg.ChainID
	}
	return info, nil
}

// Wallet returns a wallet and its bets, newest first.
func (s *BettingService) Wallet(ctx context.Context, address string) (WalletView, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return WalletView{}, domain.Reject(domain.ErrValidation, "missing_fields", "missing wallet address")
	}
	w, err := s.wallets.Get(ctx, address)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return WalletView{}, domain.Reject(domain.ErrNotFound, "wallet_not_found", "wallet not found")
		}
		return WalletView{}, fmt.Errorf("betting_service: get wallet: %w", err)
	}
	bets, err := s.pools.ListBets(ctx, address)
	if err != nil {
		return WalletView{}, fmt.Errorf("betting_service: list bets: %w", err)
	}
	return WalletView{Wallet: w, BetHistory: bets}, nil
}

// Faucet credits a wallet, creating it empty if needed.
func (s *BettingService) Faucet(ctx context.Context, address string, amount decimal.Decimal) (domain.Wallet, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return domain.Wallet{}, domain.Reject(domain.ErrValidation, "missing_fields", "missing required field: address")
	}
	if !amount.IsPositive() {
		return domain.Wallet{}, domain.Reject(domain.ErrValidation, "invalid_amount", "fund amount must be positive")
	}
	w, err := s.wallets.Fund(ctx, address, amount)
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("betting_service: fund wallet: %w", err)
	}
	s.logger.InfoContext(ctx, "betting_service: wallet funded",
		slog.String("wallet", address),
		slog.String("amount", amount.String()),
	)
	if s.audit != nil {
		if err := s.audit.Log(ctx, "wallet.funded", map[string]any{"wallet": address, "amount": amount.String()}); err != nil {
			s.logger.WarnContext(ctx, "betting_service: audit log failed", slog.String("error", err.Error()))
		}
	}
	return w, nil
}

// Leaderboard ranks bettors by profit.
func (s *BettingService) Leaderboard(ctx context.Context) ([]domain.LeaderboardEntry, error) {
	wallets, err := s.wallets.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("betting_service: list wallets: %w", err)
	}
	return betting.Leaderboard(wallets), nil
}

func (s *BettingService) poolErr(marketID, op string, err error) error {
	if domain.CodeOf(err) != "" {
		return err
	}
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Reject(domain.ErrNotFound, "pool_not_found", fmt.Sprintf("no betting pool for debate '%s'", marketID))
	}
	return fmt.Errorf("betting_service: %s %q: %w", op, marketID, err)
}

func debaterIDs(m domain.Market) []string {
	ids := make([]string, 0, len(m.Stances))
	for id := range m.Stances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
