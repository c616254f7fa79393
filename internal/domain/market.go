package domain

import "time"

// MarketStatus represents the lifecycle state of a debate market. Status only
// moves forward: active -> voting -> resolved.
type MarketStatus string

const (
	MarketStatusActive   MarketStatus = "active"
	MarketStatusVoting   MarketStatus = "voting" // awaiting resolution
	MarketStatusResolved MarketStatus = "resolved"
)

// Stance is the side a debater argues.
type Stance string

const (
	StancePro Stance = "pro"
	StanceCon Stance = "con"
)

// Opposite returns the other stance.
func (s Stance) Opposite() Stance {
	if s == StancePro {
		return StanceCon
	}
	return StancePro
}

// Valid reports whether s is pro or con.
func (s Stance) Valid() bool {
	return s == StancePro || s == StanceCon
}

// Market is a debate group: one topic, at most two debaters holding opposite
// stances, any number of spectators, and the message thread.
type Market struct {
	ID            string            `json:"groupId"`
	Name          string            `json:"name"`
	Description   string            `json:"description"`
	Icon          string            `json:"icon"`
	Topic         string            `json:"topic"`
	Purpose       string            `json:"purpose,omitempty"`
	CreatedBy     string            `json:"createdBy"`
	CreatedAt     time.Time         `json:"createdAt"`
	Status        MarketStatus      `json:"debateStatus"`
	Members       []string          `json:"members"`
	Stances       map[string]Stance `json:"stances"`
	MessageCounts map[string]int    `json:"debaterMessageCounts"`
	Messages      []Message         `json:"messages"`
	Winner        string            `json:"winner,omitempty"`
	WinnerStance  Stance            `json:"winnerStance,omitempty"`
	ResolvedAt    *time.Time        `json:"resolvedAt,omitempty"`
	SettlementRef string            `json:"settlementRef,omitempty"`
}

// DebaterFor returns the agent holding the given stance, if any.
func (m *Market) DebaterFor(stance Stance) (string, bool) {
	for id, s := range m.Stances {
		if s == stance {
			return id, true
		}
	}
	return "", false
}

// Opponent returns the stance holder that is not agentID.
func (m *Market) Opponent(agentID string) (string, bool) {
	for id := range m.Stances {
		if id != agentID {
			return id, true
		}
	}
	return "", false
}

// HasMember reports whether agentID has joined the market.
func (m *Market) HasMember(agentID string) bool {
	for _, id := range m.Members {
		if id == agentID {
			return true
		}
	}
	return false
}

// MessageByID returns a pointer into m.Messages for in-place mutation.
func (m *Market) MessageByID(id int64) *Message {
	for i := range m.Messages {
		if m.Messages[i].ID == id {
			return &m.Messages[i]
		}
	}
	return nil
}

// Clone returns a deep copy so callers can mutate without aliasing store state.
func (m Market) Clone() Market {
	out := m
	out.Members = append([]string(nil), m.Members...)
	out.Stances = make(map[string]Stance, len(m.Stances))
	for k, v := range m.Stances {
		out.Stances[k] = v
	}
	out.MessageCounts = make(map[string]int, len(m.MessageCounts))
	for k, v := range m.MessageCounts {
		out.MessageCounts[k] = v
	}
	out.Messages = make([]Message, len(m.Messages))
	for i, msg := range m.Messages {
		out.Messages[i] = msg.Clone()
	}
	if m.ResolvedAt != nil {
		t := *m.ResolvedAt
		out.ResolvedAt = &t
	}
	return out
}

// MarketSummary is the list view of a market.
type MarketSummary struct {
	ID           string            `json:"groupId"`
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	Topic        string            `json:"topic"`
	Purpose      string            `json:"purpose"`
	Icon         string            `json:"icon"`
	CreatedBy    string            `json:"createdBy"`
	MemberCount  int               `json:"memberCount"`
	MessageCount int               `json:"messageCount"`
	Status       MarketStatus      `json:"debateStatus"`
	Stances      map[string]Stance `json:"stances"`
	TotalPool    string            `json:"totalPool"`
	BetCount     int               `json:"betCount"`
}
