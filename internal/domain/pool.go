package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PoolStatus tracks the betting pool lifecycle.
type PoolStatus string

const (
	PoolStatusOpen     PoolStatus = "open"
	PoolStatusLocked   PoolStatus = "locked"
	PoolStatusResolved PoolStatus = "resolved"
)

// BetStatus is set exactly once, when the pool resolves.
type BetStatus string

const (
	BetStatusActive BetStatus = "active"
	BetStatusWon    BetStatus = "won"
	BetStatusLost   BetStatus = "lost"
)

// Bet is a single ledger wager on a debater.
type Bet struct {
	ID            string          `json:"id"`
	MarketID      string          `json:"debateId"`
	WalletAddress string          `json:"walletAddress"`
	AgentID       string          `json:"agentId"`
	Amount        decimal.Decimal `json:"amount"`
	Status        BetStatus       `json:"status"`
	Payout        decimal.Decimal `json:"payout"`
	PlacedAt      time.Time       `json:"timestamp"`
	MarketName    string          `json:"debateName,omitempty"`
}

// Pool is the betting pool attached to a market. The per-debater pots always
// sum to Total.
type Pool struct {
	MarketID      string                     `json:"debateId"`
	Total         decimal.Decimal            `json:"totalPool"`
	AgentPots     map[string]decimal.Decimal `json:"agentPots"`
	Bets          []Bet                      `json:"bets"`
	Status        PoolStatus                 `json:"status"`
	Winner        string                     `json:"winner,omitempty"`
	WinnerStance  Stance                     `json:"winnerStance,omitempty"`
	Rake          decimal.Decimal            `json:"rake"`
	ResolvedAt    *time.Time                 `json:"resolvedAt,omitempty"`
	SettlementRef string                     `json:"settlementRef,omitempty"`
}

// NewPool returns an empty open pool for a market.
func NewPool(marketID string) Pool {
	return Pool{
		MarketID:  marketID,
		Total:     decimal.Zero,
		AgentPots: map[string]decimal.Decimal{},
		Status:    PoolStatusOpen,
		Rake:      decimal.Zero,
	}
}

// Clone deep-copies the pots and bets.
func (p Pool) Clone() Pool {
	out := p
	out.AgentPots = make(map[string]decimal.Decimal, len(p.AgentPots))
	for k, v := range p.AgentPots {
		out.AgentPots[k] = v
	}
	out.Bets = append([]Bet(nil), p.Bets...)
	if p.ResolvedAt != nil {
		t := *p.ResolvedAt
		out.ResolvedAt = &t
	}
	return out
}

// Payout is the outcome of one bet at resolution.
type Payout struct {
	BetID         string          `json:"betId"`
	WalletAddress string          `json:"walletAddress"`
	Stake         decimal.Decimal `json:"stake"`
	Payout        decimal.Decimal `json:"payout"`
	Profit        decimal.Decimal `json:"profit"`
	Won           bool            `json:"won"`
}

// Apply credits a resolved payout to the wallet. Winning stakes are already
// debited, so the full payout is returned to the balance and only the profit
// counts towards TotalWon. Losing stakes are recorded in TotalLost.
func (w *Wallet) Apply(p Payout) {
	if p.Won {
		w.Balance = w.Balance.Add(p.Payout)
		w.TotalWon = w.TotalWon.Add(p.Profit)
		return
	}
	w.TotalLost = w.TotalLost.Add(p.Stake)
}

// Odds is the implied share and payout multiplier for one debater.
type Odds struct {
	Percentage string `json:"percentage"`
	Multiplier string `json:"multiplier"`
}

// PoolSummary is the public view of a pool.
type PoolSummary struct {
	MarketID  string                     `json:"debateId"`
	Total     decimal.Decimal            `json:"totalPool"`
	AgentPots map[string]decimal.Decimal `json:"agentPots"`
	BetCount  int                        `json:"betCount"`
	Status    PoolStatus                 `json:"status"`
	Winner    string                     `json:"winner,omitempty"`
	Rake      decimal.Decimal            `json:"rake"`
	Odds      map[string]Odds            `json:"odds"`
}

// Wallet is an off-chain ledger balance used for demo betting.
type Wallet struct {
	Address   string          `json:"address"`
	Balance   decimal.Decimal `json:"balance"`
	TotalWon  decimal.Decimal `json:"totalWon"`
	TotalLost decimal.Decimal `json:"totalLost"`
	BetIDs    []string        `json:"bets"`
	CreatedAt time.Time       `json:"createdAt"`
}

// LeaderboardEntry ranks a wallet by realised profit.
type LeaderboardEntry struct {
	Address   string          `json:"address"`
	Balance   decimal.Decimal `json:"balance"`
	TotalWon  decimal.Decimal `json:"totalWon"`
	TotalLost decimal.Decimal `json:"totalLost"`
	Profit    decimal.Decimal `json:"profit"`
	TotalBets int             `json:"totalBets"`
}
