package betting

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/clawmarket/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func wallet(addr, balance string) *domain.Wallet {
	return &domain.Wallet{Address: addr, Balance: d(balance), TotalWon: decimal.Zero, TotalLost: decimal.Zero}
}

func TestPlaceBet(t *testing.T) {
	p := domain.NewPool("ai-wars")
	w := wallet("0xabc", "1000")

	bet, err := PlaceBet(&p, w, "bet-1", "pro-bot", d("250"), time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.BetStatusActive, bet.Status)
	assert.True(t, w.Balance.Equal(d("750")))
	assert.True(t, p.Total.Equal(d("250")))
	assert.True(t, p.AgentPots["pro-bot"].Equal(d("250")))
	assert.Equal(t, []string{"bet-1"}, w.BetIDs)

	_, err = PlaceBet(&p, w, "bet-2", "con-bot", d("100"), time.Now())
	require.NoError(t, err)
	sum := decimal.Zero
	for _, v := range p.AgentPots {
		sum = sum.Add(v)
	}
	assert.True(t, sum.Equal(p.Total))
}

func TestPlaceBet_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		status domain.PoolStatus
		amount string
		kind   error
		code   string
	}{
		{"zero", domain.PoolStatusOpen, "0", domain.ErrValidation, "invalid_amount"},
		{"negative", domain.PoolStatusOpen, "-5", domain.ErrValidation, "invalid_amount"},
		{"locked", domain.PoolStatusLocked, "5", domain.ErrStateConflict, "pool_locked"},
		{"resolved", domain.PoolStatusResolved, "5", domain.ErrStateConflict, "pool_resolved"},
		{"broke", domain.PoolStatusOpen, "1000.01", domain.ErrInsufficientFunds, "insufficient_funds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := domain.NewPool("m")
			p.Status = tt.status
			w := wallet("0xabc", "1000")

			_, err := PlaceBet(&p, w, "b", "pro-bot", d(tt.amount), time.Now())
			assert.ErrorIs(t, err, tt.kind)
			assert.Equal(t, tt.code, domain.CodeOf(err))
			assert.True(t, w.Balance.Equal(d("1000")))
			assert.True(t, p.Total.IsZero())
		})
	}
}

func TestResolve_ProportionalPayouts(t *testing.T) {
	p := domain.NewPool("m")
	alice := wallet("alice", "1000")
	bob := wallet("bob", "1000")
	carol := wallet("carol", "1000")

	_, err := PlaceBet(&p, alice, "a1", "pro-bot", d("100"), time.Now())
	require.NoError(t, err)
	_, err = PlaceBet(&p, bob, "b1", "pro-bot", d("300"), time.Now())
	require.NoError(t, err)
	_, err = PlaceBet(&p, carol, "c1", "con-bot", d("600"), time.Now())
	require.NoError(t, err)

	payouts, err := Resolve(&p, "pro-bot", domain.StancePro, DefaultRake, time.Now())
	require.NoError(t, err)
	require.Len(t, payouts, 3)

	// total 1000, rake 70, distributable 930 split 1:3
	assert.True(t, p.Rake.Equal(d("70")))
	assert.True(t, payouts[0].Payout.Equal(d("232.5")), payouts[0].Payout.String())
	assert.True(t, payouts[1].Payout.Equal(d("697.5")), payouts[1].Payout.String())
	assert.True(t, payouts[2].Payout.IsZero())
	assert.True(t, payouts[2].Profit.Equal(d("-600")))
	assert.False(t, payouts[2].Won)

	assert.Equal(t, domain.PoolStatusResolved, p.Status)
	assert.Equal(t, "pro-bot", p.Winner)
	assert.Equal(t, domain.BetStatusWon, p.Bets[0].Status)
	assert.Equal(t, domain.BetStatusWon, p.Bets[1].Status)
	assert.Equal(t, domain.BetStatusLost, p.Bets[2].Status)

	for i, w := range []*domain.Wallet{alice, bob, carol} {
		w.Apply(payouts[i])
	}
	assert.True(t, alice.Balance.Equal(d("1132.5")))
	assert.True(t, alice.TotalWon.Equal(d("132.5")))
	assert.True(t, carol.Balance.Equal(d("400")))
	assert.True(t, carol.TotalLost.Equal(d("600")))

	_, err = Resolve(&p, "con-bot", domain.StanceCon, DefaultRake, time.Now())
	assert.ErrorIs(t, err, domain.ErrStateConflict)
	assert.Equal(t, "pro-bot", p.Winner)
}

func TestResolve_NoWinningBets(t *testing.T) {
	p := domain.NewPool("m")
	w := wallet("w", "100")
	_, err := PlaceBet(&p, w, "x", "con-bot", d("50"), time.Now())
	require.NoError(t, err)

	payouts, err := Resolve(&p, "pro-bot", domain.StancePro, DefaultRake, time.Now())
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	assert.False(t, payouts[0].Won)
	assert.True(t, p.Rake.Equal(d("3.5")))
}

func TestSummarize(t *testing.T) {
	p := domain.NewPool("m")
	s := Summarize(p, []string{"pro-bot", "con-bot"}, DefaultRake)
	assert.Equal(t, domain.Odds{Percentage: "50.0", Multiplier: "1.86"}, s.Odds["pro-bot"])
	assert.Equal(t, domain.Odds{Percentage: "50.0", Multiplier: "1.86"}, s.Odds["con-bot"])

	w := wallet("w", "1000")
	_, err := PlaceBet(&p, w, "1", "pro-bot", d("300"), time.Now())
	require.NoError(t, err)
	_, err = PlaceBet(&p, w, "2", "con-bot", d("100"), time.Now())
	require.NoError(t, err)

	s = Summarize(p, []string{"pro-bot", "con-bot"}, DefaultRake)
	assert.Equal(t, 2, s.BetCount)
	assert.Equal(t, domain.Odds{Percentage: "75.0", Multiplier: "1.24"}, s.Odds["pro-bot"])
	assert.Equal(t, domain.Odds{Percentage: "25.0", Multiplier: "3.72"}, s.Odds["con-bot"])

	s = Summarize(p, []string{"pro-bot", "con-bot", "late-bot"}, DefaultRake)
	assert.Equal(t, domain.Odds{Percentage: "0.0", Multiplier: "0.00"}, s.Odds["late-bot"])
}

func TestLeaderboard(t *testing.T) {
	var wallets []domain.Wallet
	for i := 0; i < 25; i++ {
		wallets = append(wallets, domain.Wallet{
			Address:   fmt.Sprintf("w%02d", i),
			TotalWon:  decimal.NewFromInt(int64(i)),
			TotalLost: decimal.Zero,
			BetIDs:    []string{"x"},
		})
	}
	wallets = append(wallets, domain.Wallet{Address: "idle", TotalWon: decimal.NewFromInt(999)})

	board := Leaderboard(wallets)
	require.Len(t, board, 20)
	assert.Equal(t, "w24", board[0].Address)
	assert.Equal(t, "w05", board[19].Address)
	for _, e := range board {
		assert.NotEqual(t, "idle", e.Address)
	}
}
