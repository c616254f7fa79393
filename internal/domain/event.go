package domain

import (
	"encoding/json"
	"time"
)

// EventType names a live market event published to spectators.
type EventType string

const (
	EventMessagePosted  EventType = "message_posted"
	EventVoteRecorded   EventType = "vote_recorded"
	EventMemberJoined   EventType = "member_joined"
	EventStatusChanged  EventType = "status_changed"
	EventMarketResolved EventType = "market_resolved"
)

// Event is a live update fanned out over the signal bus.
type Event struct {
	Type     EventType       `json:"type"`
	MarketID string          `json:"groupId"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	At       time.Time       `json:"at"`
}

// MarketChannel is the signal bus channel for a market's events.
func MarketChannel(marketID string) string {
	return "market:" + marketID
}
