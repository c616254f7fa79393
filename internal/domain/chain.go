package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Settler performs the external settlement of a resolved market. It must
// return ErrAlreadySettled (or a receipt marked AlreadySettled) when the
// other side has already recorded the outcome.
type Settler interface {
	Settle(ctx context.Context, marketID, target string) (SettlementReceipt, error)
}

// PoolCreator opens the escrow pool for a new market.
type PoolCreator interface {
	CreatePool(ctx context.Context, marketID string) error
}

// TokenGate checks a wallet's balance of the gate token.
type TokenGate interface {
	Balance(ctx context.Context, address string) (decimal.Decimal, error)
}
