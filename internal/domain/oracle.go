package domain

import "time"

// FailureReason is the typed outcome of a rejected resolution attempt.
type FailureReason string

const (
	ReasonGroupNotFound           FailureReason = "group_not_found"
	ReasonNotVoting               FailureReason = "not_voting"
	ReasonAlreadyResolvedOffchain FailureReason = "already_resolved_offchain"
	ReasonNoDebaters              FailureReason = "no_debaters"
	ReasonNoAddress               FailureReason = "no_address"
	ReasonOnchainFailed           FailureReason = "onchain_failed"
	ReasonResolutionInProgress    FailureReason = "resolution_in_progress"
	ReasonException               FailureReason = "exception"
)

// Fixed settlement targets for each stance on the escrow contract.
const (
	ProSettlementAddress = "0x0000000000000000000000000000000000000001"
	ConSettlementAddress = "0x0000000000000000000000000000000000000002"
)

// SettlementAddress maps a winning stance to its escrow target.
func SettlementAddress(s Stance) (string, bool) {
	switch s {
	case StancePro:
		return ProSettlementAddress, true
	case StanceCon:
		return ConSettlementAddress, true
	}
	return "", false
}

// DebaterScore is the per-debater breakdown used to pick a winner.
type DebaterScore struct {
	TotalScore  int    `json:"totalScore"`
	BestMessage int    `json:"bestMessage"`
	Stance      Stance `json:"stance"`
}

// WinnerDecision is the output of the winner resolver.
type WinnerDecision struct {
	WinnerID     string                  `json:"winnerId"`
	WinnerStance Stance                  `json:"winnerStance"`
	Scores       map[string]DebaterScore `json:"scores"`
}

// SettlementReceipt is what the settlement collaborator returns.
type SettlementReceipt struct {
	Onchain        bool   `json:"onchain"`
	TxHash         string `json:"txHash,omitempty"`
	BlockNumber    uint64 `json:"blockNumber,omitempty"`
	AlreadySettled bool   `json:"alreadySettled,omitempty"`
	Reference      string `json:"reference,omitempty"`
}

// ResolveResult is returned to callers of the oracle.
type ResolveResult struct {
	Success      bool                    `json:"success"`
	MarketID     string                  `json:"groupId"`
	Reason       FailureReason           `json:"reason,omitempty"`
	Detail       string                  `json:"detail,omitempty"`
	WinnerID     string                  `json:"winnerAgentId,omitempty"`
	WinnerStance Stance                  `json:"winnerStance,omitempty"`
	Scores       map[string]DebaterScore `json:"scores,omitempty"`
	Onchain      bool                    `json:"onchain"`
	TxHash       string                  `json:"txHash,omitempty"`
	BlockNumber  uint64                  `json:"blockNumber,omitempty"`
	Payouts      []Payout                `json:"payouts,omitempty"`
	Rake         string                  `json:"rake,omitempty"`
}

// OracleLogEntry records one resolution attempt, successful or not.
type OracleLogEntry struct {
	MarketID      string                  `json:"groupId"`
	StartedAt     time.Time               `json:"startedAt"`
	WinnerAgentID string                  `json:"winnerAgentId,omitempty"`
	WinnerStance  Stance                  `json:"winnerStance,omitempty"`
	Scores        map[string]DebaterScore `json:"scores,omitempty"`
	Onchain       bool                    `json:"onchain"`
	TxHash        string                  `json:"txHash,omitempty"`
	BlockNumber   uint64                  `json:"blockNumber,omitempty"`
	Success       bool                    `json:"success"`
	Reason        FailureReason           `json:"reason,omitempty"`
	Detail        string                  `json:"detail,omitempty"`
	CompletedAt   time.Time               `json:"completedAt"`
}

// SweepFailure is one failed market in a sweep.
type SweepFailure struct {
	MarketID string        `json:"groupId"`
	Reason   FailureReason `json:"reason"`
	Detail   string        `json:"detail,omitempty"`
}

// SweepResult buckets every market visited by a sweep.
type SweepResult struct {
	Resolved []ResolveResult `json:"resolved"`
	Failed   []SweepFailure  `json:"failed"`
	Skipped  []string        `json:"skipped"`
}
