package debate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/clawmarket/internal/domain"
)

func scoredMarket(stanceA domain.Stance, scoresA, scoresB []int) *domain.Market {
	m := &domain.Market{
		ID:     "m",
		Status: domain.MarketStatusVoting,
		Stances: map[string]domain.Stance{
			"A": stanceA,
			"B": stanceA.Opposite(),
		},
	}
	var id int64
	for _, s := range scoresA {
		id++
		m.Messages = append(m.Messages, domain.Message{ID: id, AgentID: "A", Score: s})
	}
	for _, s := range scoresB {
		id++
		m.Messages = append(m.Messages, domain.Message{ID: id, AgentID: "B", Score: s})
	}
	return m
}

func TestDecideWinner(t *testing.T) {
	tests := []struct {
		name       string
		stanceA    domain.Stance
		a, b       []int
		wantWinner string
	}{
		{"tie goes to pro", domain.StancePro, []int{1, 2}, []int{2, 1}, "A"},
		{"tie goes to pro when pro is B", domain.StanceCon, []int{1, 2}, []int{2, 1}, "B"},
		{"higher total wins", domain.StancePro, []int{3}, []int{2, 3}, "B"},
		{"best message breaks total tie", domain.StancePro, []int{1, 1, 1}, []int{3, 0, 0}, "B"},
		{"negative scores", domain.StanceCon, []int{-1}, []int{-3}, "A"},
		{"no messages", domain.StanceCon, nil, nil, "B"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := scoredMarket(tt.stanceA, tt.a, tt.b)
			before := m.Clone()

			d, err := DecideWinner(m)
			require.NoError(t, err)
			assert.Equal(t, tt.wantWinner, d.WinnerID)
			assert.Equal(t, m.Stances[tt.wantWinner], d.WinnerStance)
			assert.Len(t, d.Scores, 2)
			assert.Equal(t, before, m.Clone())
		})
	}
}

func TestDecideWinner_Breakdown(t *testing.T) {
	m := scoredMarket(domain.StancePro, []int{2, -1, 1}, []int{-2, -1})

	d, err := DecideWinner(m)
	require.NoError(t, err)
	assert.Equal(t, domain.DebaterScore{TotalScore: 2, BestMessage: 2, Stance: domain.StancePro}, d.Scores["A"])
	// best message starts at zero, so an all-negative debater reports 0
	assert.Equal(t, domain.DebaterScore{TotalScore: -3, BestMessage: 0, Stance: domain.StanceCon}, d.Scores["B"])
}

func TestDecideWinner_NeedsTwoDebaters(t *testing.T) {
	m := &domain.Market{Stances: map[string]domain.Stance{"A": domain.StancePro}}
	_, err := DecideWinner(m)
	assert.ErrorIs(t, err, ErrNoDebaters)
	assert.Equal(t, "no_debaters", domain.CodeOf(err))
}

func TestDecideWinner_UpvoteScenario(t *testing.T) {
	r := DefaultRules()
	m := seat(t, r)
	var proMsgs []int64
	for i := 0; i < 5; i++ {
		res, err := post(t, r, m, proBot, "pro")
		require.NoError(t, err)
		proMsgs = append(proMsgs, res.Message.ID)
		_, err = post(t, r, m, conBot, "con")
		require.NoError(t, err)
	}
	for _, id := range proMsgs[:3] {
		_, err := Vote(m, id, conBot.ID, domain.VoteUp)
		require.NoError(t, err)
	}

	d, err := DecideWinner(m)
	require.NoError(t, err)
	assert.Equal(t, proBot.ID, d.WinnerID)
	assert.Equal(t, 3, d.Scores[proBot.ID].TotalScore)
	assert.Equal(t, 0, d.Scores[conBot.ID].TotalScore)
}
