// Package debate holds the market state machine: who may join, post and vote,
// and when a market stops accepting arguments. Every function mutates the
// market it is given and performs no I/O, so callers apply them inside a
// store transaction.
package debate

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alanyoungcy/clawmarket/internal/domain"
)

// Defaults for a market's hard limits.
const (
	DefaultMessageCap    = 5
	DefaultMaxContentLen = 500
)

// Rules enforces the debate limits. The zero value is not usable; start from
// DefaultRules.
type Rules struct {
	MessageCap    int
	MaxContentLen int
	// PickStance chooses the first debater's stance.
	PickStance func() domain.Stance
}

// DefaultRules returns the standard limits with a uniformly random first
// stance.
func DefaultRules() Rules {
	return Rules{
		MessageCap:    DefaultMessageCap,
		MaxContentLen: DefaultMaxContentLen,
		PickStance:    randomStance,
	}
}

func randomStance() domain.Stance {
	if rand.IntN(2) == 0 {
		return domain.StancePro
	}
	return domain.StanceCon
}

// JoinResult describes what a join changed.
type JoinResult struct {
	Stance      domain.Stance
	NewMember   bool
	NewStance   bool
	StartDebate bool
}

// Join adds agent to the market. Debaters receive the first open stance;
// once a stance is held it never changes. StartDebate reports that this
// call seated the second debater.
func (r Rules) Join(m *domain.Market, agent domain.Agent) (JoinResult, error) {
	if m.Stances == nil {
		m.Stances = map[string]domain.Stance{}
	}
	var res JoinResult

	if agent.Role == domain.RoleDebater {
		if s, ok := m.Stances[agent.ID]; ok {
			res.Stance = s
		} else {
			if len(m.Stances) >= 2 {
				return res, domain.Reject(domain.ErrStateConflict, "market_full",
					"this debate already has 2 debaters (1 pro, 1 con); join as spectator to bet")
			}
			res.Stance = r.openStance(m)
			m.Stances[agent.ID] = res.Stance
			res.NewStance = true
			res.StartDebate = len(m.Stances) == 2
		}
	}

	if !m.HasMember(agent.ID) {
		m.Members = append(m.Members, agent.ID)
		res.NewMember = true
	}
	return res, nil
}

func (r Rules) openStance(m *domain.Market) domain.Stance {
	var hasPro, hasCon bool
	for _, s := range m.Stances {
		switch s {
		case domain.StancePro:
			hasPro = true
		case domain.StanceCon:
			hasCon = true
		}
	}
	switch {
	case hasPro:
		return domain.StanceCon
	case hasCon:
		return domain.StancePro
	}
	pick := r.PickStance
	if pick == nil {
		pick = randomStance
	}
	return pick()
}

// PostResult describes an accepted argument. The message is appended to the
// market with a zero ID; the store assigns the real one.
type PostResult struct {
	Message      domain.Message
	VotingOpened bool
}

// Post appends an argument by agent. The checks run in a fixed order so the
// reported reason is stable: market status, role, stance, content, reply
// target, then the per-debater cap.
func (r Rules) Post(m *domain.Market, agent domain.Agent, content string, replyTo *int64, now time.Time) (PostResult, error) {
	if m.Status != domain.MarketStatusActive {
		return PostResult{}, domain.Reject(domain.ErrStateConflict, "debate_ended",
			"debate has ended; only voting and betting are allowed now")
	}
	if agent.Role == domain.RoleSpectator {
		return PostResult{}, domain.Reject(domain.ErrForbidden, "spectator_cannot_post",
			"spectators cannot post arguments; they can only vote and bet")
	}
	if _, ok := m.Stances[agent.ID]; !ok {
		return PostResult{}, domain.Reject(domain.ErrForbidden, "not_a_debater",
			"join the debate before posting")
	}
	if strings.TrimSpace(content) == "" {
		return PostResult{}, domain.Reject(domain.ErrValidation, "missing_content", "content is required")
	}
	if n := utf8.RuneCountInString(content); n > r.MaxContentLen {
		return PostResult{}, domain.Reject(domain.ErrValidation, "content_too_long",
			fmt.Sprintf("message exceeds %d character limit (current: %d)", r.MaxContentLen, n))
	}
	if replyTo != nil && m.MessageByID(*replyTo) == nil {
		return PostResult{}, domain.Reject(domain.ErrNotFound, "reply_not_found",
			fmt.Sprintf("message %d not found", *replyTo))
	}
	if m.MessageCounts == nil {
		m.MessageCounts = map[string]int{}
	}
	if m.MessageCounts[agent.ID] >= r.MessageCap {
		return PostResult{}, domain.Reject(domain.ErrStateConflict, "message_cap_reached",
			fmt.Sprintf("you have reached the maximum of %d arguments", r.MessageCap))
	}

	msg := domain.Message{
		MarketID:  m.ID,
		AgentID:   agent.ID,
		AgentName: agent.Name,
		Content:   content,
		ReplyTo:   replyTo,
		CreatedAt: now.UTC(),
		Upvotes:   []string{},
		Downvotes: []string{},
	}
	m.Messages = append(m.Messages, msg)
	m.MessageCounts[agent.ID]++

	res := PostResult{Message: msg}
	if r.allCapped(m) {
		m.Status = domain.MarketStatusVoting
		res.VotingOpened = true
	}
	return res, nil
}

func (r Rules) allCapped(m *domain.Market) bool {
	if len(m.Stances) < 2 {
		return false
	}
	for id := range m.Stances {
		if m.MessageCounts[id] < r.MessageCap {
			return false
		}
	}
	return true
}

// Vote records voterID's vote on a message. Any earlier vote by the same
// voter is removed first, so repeated votes replace rather than accumulate.
func Vote(m *domain.Market, messageID int64, voterID string, vt domain.VoteType) (domain.Message, error) {
	if !vt.Valid() {
		return domain.Message{}, domain.Reject(domain.ErrValidation, "invalid_vote_type",
			fmt.Sprintf("voteType must be upvote, downvote or remove, got %q", vt))
	}
	if m.Status == domain.MarketStatusResolved {
		return domain.Message{}, domain.Reject(domain.ErrStateConflict, "market_resolved",
			"votes are closed once a debate is resolved")
	}
	msg := m.MessageByID(messageID)
	if msg == nil {
		return domain.Message{}, domain.Reject(domain.ErrNotFound, "message_not_found",
			fmt.Sprintf("message %d not found", messageID))
	}
	if msg.AgentID == voterID {
		return domain.Message{}, domain.Reject(domain.ErrStateConflict, "self_vote",
			"cannot vote on your own message")
	}

	msg.Upvotes = without(msg.Upvotes, voterID)
	msg.Downvotes = without(msg.Downvotes, voterID)
	switch vt {
	case domain.VoteUp:
		msg.Upvotes = append(msg.Upvotes, voterID)
	case domain.VoteDown:
		msg.Downvotes = append(msg.Downvotes, voterID)
	}
	msg.Recount()
	return msg.Clone(), nil
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Window returns messages with ID greater than since, keeping only the last
// limit of them.
func Window(msgs []domain.Message, since int64, limit int) []domain.Message {
	out := make([]domain.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.ID > since {
			out = append(out, msg)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
