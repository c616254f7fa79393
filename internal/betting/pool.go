// Package betting implements the ledger betting pool: wagers, odds, the
// platform rake and proportional payouts. Functions operate on values loaded
// by the store and never perform I/O.
package betting

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/clawmarket/internal/domain"
)

// Defaults for the demo ledger.
var (
	DefaultRake            = decimal.RequireFromString("0.07")
	DefaultStartingBalance = decimal.NewFromInt(1000)
)

const (
	payoutPlaces     = 6
	leaderboardLimit = 20
)

var hundred = decimal.NewFromInt(100)

// PlaceBet debits w and records a wager on agentID in p. The caller checks
// that agentID is a debater in the market.
func PlaceBet(p *domain.Pool, w *domain.Wallet, betID, agentID string, amount decimal.Decimal, now time.Time) (domain.Bet, error) {
	if !amount.IsPositive() {
		return domain.Bet{}, domain.Reject(domain.ErrValidation, "invalid_amount", "bet amount must be positive")
	}
	switch p.Status {
	case domain.PoolStatusResolved:
		return domain.Bet{}, domain.Reject(domain.ErrStateConflict, "pool_resolved", "this debate has already been resolved")
	case domain.PoolStatusLocked:
		return domain.Bet{}, domain.Reject(domain.ErrStateConflict, "pool_locked", "betting is locked for this debate")
	}
	if w.Balance.LessThan(amount) {
		return domain.Bet{}, domain.Reject(domain.ErrInsufficientFunds, "insufficient_funds",
			fmt.Sprintf("insufficient balance: have %s, need %s", w.Balance, amount))
	}

	w.Balance = w.Balance.Sub(amount)
	bet := domain.Bet{
		ID:            betID,
		MarketID:      p.MarketID,
		WalletAddress: w.Address,
		AgentID:       agentID,
		Amount:        amount,
		Status:        domain.BetStatusActive,
		Payout:        decimal.Zero,
		PlacedAt:      now.UTC(),
	}
	if p.AgentPots == nil {
		p.AgentPots = map[string]decimal.Decimal{}
	}
	p.Total = p.Total.Add(amount)
	p.AgentPots[agentID] = p.AgentPots[agentID].Add(amount)
	p.Bets = append(p.Bets, bet)
	w.BetIDs = append(w.BetIDs, bet.ID)
	return bet, nil
}

// Resolve closes the pool for winnerID. The rake is withheld from the total
// and the rest is split among winning bets in proportion to their stake. If
// nobody backed the winner the distributable amount stays in the pool.
// Every bet is stamped exactly once; resolving twice is an error.
func Resolve(p *domain.Pool, winnerID string, winnerStance domain.Stance, rake decimal.Decimal, now time.Time) ([]domain.Payout, error) {
	if p.Status == domain.PoolStatusResolved {
		return nil, domain.Reject(domain.ErrStateConflict, "pool_resolved", "pool already resolved")
	}

	at := now.UTC()
	p.Status = domain.PoolStatusResolved
	p.Winner = winnerID
	p.WinnerStance = winnerStance
	p.ResolvedAt = &at
	p.Rake = p.Total.Mul(rake)
	distributable := p.Total.Sub(p.Rake)
	winnerPot := p.AgentPots[winnerID]

	payouts := make([]domain.Payout, 0, len(p.Bets))
	for i := range p.Bets {
		bet := &p.Bets[i]
		if bet.AgentID == winnerID {
			share := decimal.Zero
			if winnerPot.IsPositive() {
				share = bet.Amount.Mul(distributable).Div(winnerPot).Round(payoutPlaces)
			}
			bet.Status = domain.BetStatusWon
			bet.Payout = share
			payouts = append(payouts, domain.Payout{
				BetID:         bet.ID,
				WalletAddress: bet.WalletAddress,
				Stake:         bet.Amount,
				Payout:        share,
				Profit:        share.Sub(bet.Amount),
				Won:           true,
			})
			continue
		}
		bet.Status = domain.BetStatusLost
		bet.Payout = decimal.Zero
		payouts = append(payouts, domain.Payout{
			BetID:         bet.ID,
			WalletAddress: bet.WalletAddress,
			Stake:         bet.Amount,
			Payout:        decimal.Zero,
			Profit:        bet.Amount.Neg(),
		})
	}
	return payouts, nil
}

// Summarize returns the public pool view with odds for every debater in
// debaters and every agent that has been backed.
func Summarize(p domain.Pool, debaters []string, rake decimal.Decimal) domain.PoolSummary {
	ids := map[string]struct{}{}
	for _, id := range debaters {
		ids[id] = struct{}{}
	}
	for id := range p.AgentPots {
		ids[id] = struct{}{}
	}

	odds := make(map[string]domain.Odds, len(ids))
	for id := range ids {
		odds[id] = oddsFor(p.Total, p.AgentPots[id], rake)
	}

	pots := make(map[string]decimal.Decimal, len(p.AgentPots))
	for k, v := range p.AgentPots {
		pots[k] = v
	}
	return domain.PoolSummary{
		MarketID:  p.MarketID,
		Total:     p.Total,
		AgentPots: pots,
		BetCount:  len(p.Bets),
		Status:    p.Status,
		Winner:    p.Winner,
		Rake:      p.Rake,
		Odds:      odds,
	}
}

func oddsFor(total, pot, rake decimal.Decimal) domain.Odds {
	if !total.IsPositive() {
		return domain.Odds{Percentage: "50.0", Multiplier: "1.86"}
	}
	o := domain.Odds{
		Percentage: pot.Div(total).Mul(hundred).StringFixed(1),
		Multiplier: "0.00",
	}
	if pot.IsPositive() {
		o.Multiplier = total.Div(pot).Mul(decimal.NewFromInt(1).Sub(rake)).StringFixed(2)
	}
	return o
}

// Leaderboard ranks wallets that have placed at least one bet by profit,
// highest first, and returns the top entries.
func Leaderboard(wallets []domain.Wallet) []domain.LeaderboardEntry {
	out := make([]domain.LeaderboardEntry, 0, len(wallets))
	for _, w := range wallets {
		if len(w.BetIDs) == 0 {
			continue
		}
		out = append(out, domain.LeaderboardEntry{
			Address:   w.Address,
			Balance:   w.Balance,
			TotalWon:  w.TotalWon,
			TotalLost: w.TotalLost,
			Profit:    w.TotalWon.Sub(w.TotalLost),
			TotalBets: len(w.BetIDs),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Profit.GreaterThan(out[j].Profit)
	})
	if len(out) > leaderboardLimit {
		out = out[:leaderboardLimit]
	}
	return out
}
