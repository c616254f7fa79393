package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AgentStore persists agents together with the credential index. Create
// writes both the agent and its key entry in one transaction.
type AgentStore interface {
	Create(ctx context.Context, agent Agent, credential string) error
	Get(ctx context.Context, id string) (Agent, error)
	GetByCredential(ctx context.Context, credential string) (Agent, error)
	List(ctx context.Context) ([]Agent, error)
}

// MarketStore persists markets and their messages.
//
// Update loads the market under a row lock, applies fn and writes back the
// result. Messages with a zero ID are inserted and receive the next value of
// the global message sequence. If fn returns an error nothing is written.
type MarketStore interface {
	Create(ctx context.Context, market Market) error
	Get(ctx context.Context, id string) (Market, error)
	List(ctx context.Context) ([]Market, error)
	Update(ctx context.Context, id string, fn func(*Market) error) (Market, error)
}

// PoolStore persists betting pools and bets.
type PoolStore interface {
	GetPool(ctx context.Context, marketID string) (Pool, error)
	ListPools(ctx context.Context) ([]Pool, error)
	// SetPoolStatus moves the pool from one status to another, returning
	// ErrStateConflict if the current status is not from.
	SetPoolStatus(ctx context.Context, marketID string, from, to PoolStatus) error
	// Wager locks the pool and the wallet, applies fn and writes both back.
	Wager(ctx context.Context, marketID, address string, fn func(*Pool, *Wallet) error) (Pool, Wallet, error)
	ListBets(ctx context.Context, address string) ([]Bet, error)
}

// WalletStore persists ledger wallets.
type WalletStore interface {
	// Ensure returns the wallet, creating it with the given balance if missing.
	Ensure(ctx context.Context, address string, initial decimal.Decimal) (Wallet, error)
	Get(ctx context.Context, address string) (Wallet, error)
	// Fund adds amount to the wallet, creating it with a zero balance first.
	Fund(ctx context.Context, address string, amount decimal.Decimal) (Wallet, error)
	List(ctx context.Context) ([]Wallet, error)
}

// ResolutionStore commits a resolution atomically: the market moves from
// voting to resolved, the pool and its bets are stamped, and every payout is
// applied to its wallet. apply runs inside the transaction and must set the
// market and pool fields itself. Returns ErrStateConflict if the market is no
// longer voting.
type ResolutionStore interface {
	FinalizeResolution(ctx context.Context, marketID string, apply func(*Market, *Pool) ([]Payout, error)) (Market, []Payout, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"createdAt"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
