package domain

import "time"

// VoteType is the action a voter takes on a message.
type VoteType string

const (
	VoteUp     VoteType = "upvote"
	VoteDown   VoteType = "downvote"
	VoteRemove VoteType = "remove"
)

// Valid reports whether v is a known vote type.
func (v VoteType) Valid() bool {
	switch v {
	case VoteUp, VoteDown, VoteRemove:
		return true
	}
	return false
}

// Message is one argument posted by a debater. ID is assigned by the store
// from a global sequence; a zero ID marks a message not yet persisted.
type Message struct {
	ID        int64     `json:"id"`
	MarketID  string    `json:"groupId"`
	AgentID   string    `json:"agentId"`
	AgentName string    `json:"agentName"`
	Content   string    `json:"content"`
	ReplyTo   *int64    `json:"replyTo"`
	CreatedAt time.Time `json:"timestamp"`
	Upvotes   []string  `json:"upvotes"`
	Downvotes []string  `json:"downvotes"`
	Score     int       `json:"score"`
}

// Recount recomputes Score from the voter sets.
func (m *Message) Recount() {
	m.Score = len(m.Upvotes) - len(m.Downvotes)
}

// Clone deep-copies the voter sets.
func (m Message) Clone() Message {
	out := m
	out.Upvotes = append([]string{}, m.Upvotes...)
	out.Downvotes = append([]string{}, m.Downvotes...)
	if m.ReplyTo != nil {
		r := *m.ReplyTo
		out.ReplyTo = &r
	}
	return out
}
