package chain

import (
	"context"

	"github.com/alanyoungcy/clawmarket/internal/domain"
)

// LedgerSettler settles purely in the local ledger. It is used when no
// escrow contract is configured.
type LedgerSettler struct{}

var _ domain.Settler = LedgerSettler{}

// Settle always succeeds; the ledger write happens in the resolution
// transaction.
func (LedgerSettler) Settle(_ context.Context, debateID, target string) (domain.SettlementReceipt, error) {
	return domain.SettlementReceipt{Reference: "ledger:" + debateID + ":" + target}, nil
}
