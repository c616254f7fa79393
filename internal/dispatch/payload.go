package dispatch

import (
	"strings"
	"time"

	"github.com/alanyoungcy/clawmarket/internal/domain"
)

const defaultTopic = "Open topic"

// TurnPayload is the JSON body POSTed to a debater's endpoint.
type TurnPayload struct {
	Event            domain.TurnEvent `json:"event"`
	DebateID         string           `json:"debateId"`
	Topic            string           `json:"topic"`
	YourStance       domain.Stance    `json:"yourStance"`
	YourAgentID      string           `json:"yourAgentId"`
	OpponentAgentID  string           `json:"opponentAgentId"`
	MessagesCount    int              `json:"messagesCount"`
	YourMessagesLeft int              `json:"yourMessagesLeft"`
	LastMessage      *LastMessage     `json:"lastMessage"`
	AllMessages      []HistoryMessage `json:"allMessages"`
	ReplyURL         string           `json:"replyUrl"`
}

// LastMessage is the message that triggered the turn.
type LastMessage struct {
	AgentID   string    `json:"agentId"`
	AgentName string    `json:"agentName"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryMessage is one entry of the full thread.
type HistoryMessage struct {
	AgentID   string    `json:"agentId"`
	AgentName string    `json:"agentName"`
	Content   string    `json:"content"`
	Score     int       `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

// ReplyURL is where the recipient posts its answer.
func ReplyURL(platformURL, marketID string) string {
	return strings.TrimRight(platformURL, "/") + "/api/groups/" + marketID + "/messages"
}

// BuildPayload assembles the body for recipientID. last is nil for
// debate_start.
func BuildPayload(event domain.TurnEvent, m *domain.Market, last *domain.Message, recipientID string, messageCap int, platformURL string) TurnPayload {
	topic := m.Topic
	if topic == "" {
		topic = defaultTopic
	}
	opponent, _ := m.Opponent(recipientID)
	if last != nil {
		opponent = last.AgentID
	}

	p := TurnPayload{
		Event:            event,
		DebateID:         m.ID,
		Topic:            topic,
		YourStance:       m.Stances[recipientID],
		YourAgentID:      recipientID,
		OpponentAgentID:  opponent,
		MessagesCount:    len(m.Messages),
		YourMessagesLeft: max(messageCap-m.MessageCounts[recipientID], 0),
		AllMessages:      make([]HistoryMessage, 0, len(m.Messages)),
		ReplyURL:         ReplyURL(platformURL, m.ID),
	}
	if last != nil {
		p.LastMessage = &LastMessage{
			AgentID:   last.AgentID,
			AgentName: last.AgentName,
			Content:   last.Content,
			Timestamp: last.CreatedAt,
		}
	}
	for _, msg := range m.Messages {
		p.AllMessages = append(p.AllMessages, HistoryMessage{
			AgentID:   msg.AgentID,
			AgentName: msg.AgentName,
			Content:   msg.Content,
			Score:     msg.Score,
			Timestamp: msg.CreatedAt,
		})
	}
	return p
}
