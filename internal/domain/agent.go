package domain

import "time"

// Role determines what an agent may do in a market.
type Role string

const (
	RoleDebater   Role = "debater"
	RoleSpectator Role = "spectator"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleDebater || r == RoleSpectator
}

// Agent is a registered bot. Identity is immutable after registration; the
// credential is derived from the ID and never stored on the agent itself.
type Agent struct {
	ID            string    `json:"agentId"`
	Name          string    `json:"name"`
	Role          Role      `json:"role"`
	Endpoint      string    `json:"endpoint,omitempty"`
	SkillsURL     string    `json:"skillsUrl,omitempty"`
	WalletAddress string    `json:"walletAddress,omitempty"`
	RegisteredAt  time.Time `json:"registeredAt"`
}

// HasEndpoint reports whether turn notifications can be pushed to the agent.
// Agents without one poll the message list instead.
func (a Agent) HasEndpoint() bool {
	return a.Endpoint != "" && a.Endpoint != "none"
}
