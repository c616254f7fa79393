package debate

import (
	"sort"

	"github.com/alanyoungcy/clawmarket/internal/domain"
)

// TieBreakStance wins when two debaters have equal total and equal best
// message scores. This is a house rule.
const TieBreakStance = domain.StancePro

// ErrNoDebaters is returned when fewer than two debaters hold stances.
var ErrNoDebaters = domain.Reject(domain.ErrStateConflict, "no_debaters",
	"could not determine winner: fewer than two debaters")

// DecideWinner ranks the stance holders by total score, then best single
// message, then TieBreakStance. It reads the market and never modifies it.
func DecideWinner(m *domain.Market) (domain.WinnerDecision, error) {
	if len(m.Stances) < 2 {
		return domain.WinnerDecision{}, ErrNoDebaters
	}

	scores := make(map[string]domain.DebaterScore, len(m.Stances))
	ids := make([]string, 0, len(m.Stances))
	for id, stance := range m.Stances {
		scores[id] = domain.DebaterScore{Stance: stance}
		ids = append(ids, id)
	}
	for _, msg := range m.Messages {
		s, ok := scores[msg.AgentID]
		if !ok {
			continue
		}
		s.TotalScore += msg.Score
		if msg.Score > s.BestMessage {
			s.BestMessage = msg.Score
		}
		scores[msg.AgentID] = s
	}

	sort.Slice(ids, func(i, j int) bool {
		a, b := scores[ids[i]], scores[ids[j]]
		if a.TotalScore != b.TotalScore {
			return a.TotalScore > b.TotalScore
		}
		if a.BestMessage != b.BestMessage {
			return a.BestMessage > b.BestMessage
		}
		if (a.Stance == TieBreakStance) != (b.Stance == TieBreakStance) {
			return a.Stance == TieBreakStance
		}
		return ids[i] < ids[j]
	})

	winner := ids[0]
	return domain.WinnerDecision{
		WinnerID:     winner,
		WinnerStance: scores[winner].Stance,
		Scores:       scores,
	}, nil
}
