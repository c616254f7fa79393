package postgres

import (
	"context"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/clawmarket/internal/domain"
)

// ResolutionStore implements domain.ResolutionStore using PostgreSQL.
type ResolutionStore struct {
	pool *pgxpool.Pool
}

// NewResolutionStore creates a new ResolutionStore backed by the given
// connection pool.
func NewResolutionStore(pool *pgxpool.Pool) *ResolutionStore {
	return &ResolutionStore{pool: pool}
}

// FinalizeResolution locks the market, its pool and every paid wallet, then
// commits the market, pool, bets and wallet balances in one transaction.
// Wallets are locked in address order.
func (s *ResolutionStore) FinalizeResolution(ctx context.Context, marketID string, apply func(*domain.Market, *domain.Pool) ([]domain.Payout, error)) (domain.Market, []domain.Payout, error) {
	var outMarket domain.Market
	var outPayouts []domain.Payout
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		beforeMarket, err := loadMarket(ctx, tx, marketID, true)
		if err != nil {
			return err
		}
		if beforeMarket.Status != domain.MarketStatusVoting {
			return domain.ErrStateConflict
		}
		beforePool, err := loadPool(ctx, tx, marketID, true)
		if err != nil {
			return err
		}

		m := beforeMarket.Clone()
		p := beforePool.Clone()
		payouts, err := apply(&m, &p)
		if err != nil {
			return err
		}
		if err := saveMarket(ctx, tx, m); err != nil {
			return err
		}
		if err := savePool(ctx, tx, &beforePool, &p); err != nil {
			return err
		}

		byWallet := make(map[string][]domain.Payout)
		for _, po := range payouts {
			byWallet[po.WalletAddress] = append(byWallet[po.WalletAddress], po)
		}
		addrs := make([]string, 0, len(byWallet))
		for addr := range byWallet {
			addrs = append(addrs, addr)
		}
		sort.Strings(addrs)
		for _, addr := range addrs {
			w, err := loadWallet(ctx, tx, addr, true)
			if err != nil {
				return err
			}
			for _, po := range byWallet[addr] {
				w.Apply(po)
			}
			if err := saveWallet(ctx, tx, w); err != nil {
				return err
			}
		}

		outMarket, outPayouts = m, payouts
		return nil
	})
	if err != nil {
		return domain.Market{}, nil, err
	}
	return outMarket, outPayouts, nil
}

var _ domain.ResolutionStore = (*ResolutionStore)(nil)
