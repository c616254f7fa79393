package domain

import "time"

// DeliveryStatus is the outcome of one webhook attempt.
type DeliveryStatus string

const (
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliverySkipped   DeliveryStatus = "skipped"
	DeliveryError     DeliveryStatus = "error"
)

// TurnEvent names the webhook event sent to a debater.
type TurnEvent string

const (
	EventDebateStart TurnEvent = "debate_start"
	EventYourTurn    TurnEvent = "your_turn"
)

// DeliveryRecord is one entry in the webhook delivery log.
type DeliveryRecord struct {
	AgentID   string         `json:"agentId"`
	MarketID  string         `json:"groupId,omitempty"`
	Event     TurnEvent      `json:"event,omitempty"`
	Status    DeliveryStatus `json:"status"`
	Attempt   int            `json:"attempt,omitempty"`
	Detail    string         `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
