package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/clawmarket/internal/domain"
)

func TestMarketStore_UpdateAssignsGlobalMessageIDs(t *testing.T) {
	s := NewStores()
	ctx := context.Background()
	require.NoError(t, s.Markets.Create(ctx, domain.Market{ID: "a", Status: domain.MarketStatusActive}))
	require.NoError(t, s.Markets.Create(ctx, domain.Market{ID: "b", Status: domain.MarketStatusActive}))
	assert.ErrorIs(t, s.Markets.Create(ctx, domain.Market{ID: "a"}), domain.ErrAlreadyExists)

	post := func(id string) domain.Market {
		m, err := s.Markets.Update(ctx, id, func(m *domain.Market) error {
			m.Messages = append(m.Messages, domain.Message{AgentID: "x", Content: "hi"})
			return nil
		})
		require.NoError(t, err)
		return m
	}
	post("a")
	mb := post("b")
	ma := post("a")

	assert.Equal(t, int64(1), ma.Messages[0].ID)
	assert.Equal(t, int64(3), ma.Messages[1].ID)
	assert.Equal(t, int64(2), mb.Messages[0].ID)
	assert.Equal(t, "b", mb.Messages[0].MarketID)

	pool, err := s.Pools.GetPool(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.PoolStatusOpen, pool.Status)
}

func TestMarketStore_UpdateErrorWritesNothing(t *testing.T) {
	s := NewStores()
	ctx := context.Background()
	require.NoError(t, s.Markets.Create(ctx, domain.Market{ID: "a", Status: domain.MarketStatusActive}))

	boom := errors.New("boom")
	_, err := s.Markets.Update(ctx, "a", func(m *domain.Market) error {
		m.Status = domain.MarketStatusVoting
		return boom
	})
	assert.ErrorIs(t, err, boom)

	m, err := s.Markets.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusActive, m.Status)

	_, err = s.Markets.Update(ctx, "missing", func(*domain.Market) error { return nil })
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMarketStore_ConcurrentUpdatesSerialize(t *testing.T) {
	s := NewStores()
	ctx := context.Background()
	require.NoError(t, s.Markets.Create(ctx, domain.Market{ID: "a", Status: domain.MarketStatusActive}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Markets.Update(ctx, "a", func(m *domain.Market) error {
				if m.MessageCounts == nil {
					m.MessageCounts = map[string]int{}
				}
				m.MessageCounts["x"]++
				m.Messages = append(m.Messages, domain.Message{AgentID: "x", Content: "hi"})
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	m, err := s.Markets.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 50, m.MessageCounts["x"])
	require.Len(t, m.Messages, 50)
	seen := map[int64]bool{}
	for _, msg := range m.Messages {
		seen[msg.ID] = true
	}
	assert.Len(t, seen, 50)
}

func TestPoolStore_SetPoolStatusCAS(t *testing.T) {
	s := NewStores()
	ctx := context.Background()
	require.NoError(t, s.Markets.Create(ctx, domain.Market{ID: "a"}))

	require.NoError(t, s.Pools.SetPoolStatus(ctx, "a", domain.PoolStatusOpen, domain.PoolStatusLocked))
	assert.ErrorIs(t, s.Pools.SetPoolStatus(ctx, "a", domain.PoolStatusOpen, domain.PoolStatusLocked), domain.ErrStateConflict)
	assert.ErrorIs(t, s.Pools.SetPoolStatus(ctx, "nope", domain.PoolStatusOpen, domain.PoolStatusLocked), domain.ErrNotFound)
}

func TestWalletStore_EnsureAndFund(t *testing.T) {
	s := NewStores()
	ctx := context.Background()

	w, err := s.Wallets.Ensure(ctx, "0xabc", decimal.NewFromInt(1000))
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(1000)))

	w, err = s.Wallets.Ensure(ctx, "0xabc", decimal.NewFromInt(5))
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(1000)), "existing wallet keeps its balance")

	w, err = s.Wallets.Fund(ctx, "0xnew", decimal.NewFromInt(25))
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(25)))

	_, err = s.Wallets.Get(ctx, "0xmissing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPoolStore_WagerTracksBetIDs(t *testing.T) {
	s := NewStores()
	ctx := context.Background()
	require.NoError(t, s.Markets.Create(ctx, domain.Market{ID: "a", Name: "AI Wars"}))
	_, err := s.Wallets.Ensure(ctx, "0xabc", decimal.NewFromInt(100))
	require.NoError(t, err)

	_, w, err := s.Pools.Wager(ctx, "a", "0xabc", func(p *domain.Pool, w *domain.Wallet) error {
		p.Bets = append(p.Bets, domain.Bet{ID: "bet-1", WalletAddress: "0xabc", Amount: decimal.NewFromInt(10), PlacedAt: time.Now()})
		w.Balance = w.Balance.Sub(decimal.NewFromInt(10))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"bet-1"}, w.BetIDs)
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(90)))

	bets, err := s.Pools.ListBets(ctx, "0xabc")
	require.NoError(t, err)
	require.Len(t, bets, 1)
	assert.Equal(t, "AI Wars", bets[0].MarketName)

	_, _, err = s.Pools.Wager(ctx, "a", "0xnobody", func(*domain.Pool, *domain.Wallet) error { return nil })
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResolutionStore_RequiresVoting(t *testing.T) {
	s := NewStores()
	ctx := context.Background()
	require.NoError(t, s.Markets.Create(ctx, domain.Market{ID: "a", Status: domain.MarketStatusActive}))

	called := false
	_, _, err := s.Resolutions.FinalizeResolution(ctx, "a", func(*domain.Market, *domain.Pool) ([]domain.Payout, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, domain.ErrStateConflict)
	assert.False(t, called)
}

func TestResolutionStore_ConcurrentFinalizeCommitsOnce(t *testing.T) {
	s := NewStores()
	ctx := context.Background()
	require.NoError(t, s.Markets.Create(ctx, domain.Market{ID: "a", Status: domain.MarketStatusVoting}))

	var (
		wg        sync.WaitGroup
		applied   atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.Resolutions.FinalizeResolution(ctx, "a", func(m *domain.Market, p *domain.Pool) ([]domain.Payout, error) {
				applied.Add(1)
				m.Status = domain.MarketStatusResolved
				p.Status = domain.PoolStatusResolved
				return nil, nil
			})
			if errors.Is(err, domain.ErrStateConflict) {
				conflicts.Add(1)
				return
			}
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), applied.Load())
	assert.Equal(t, int32(9), conflicts.Load())
	m, err := s.Markets.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusResolved, m.Status)
}

func TestAuditStore_NewestFirst(t *testing.T) {
	s := NewStores()
	ctx := context.Background()
	for _, ev := range []string{"agent_registered", "bet_placed", "market_resolved"} {
		require.NoError(t, s.Audit.Log(ctx, ev, nil))
	}
	entries, err := s.Audit.List(ctx, domain.ListOpts{Limit: 2})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "market_resolved", entries[0].Event)
	assert.Equal(t, "bet_placed", entries[1].Event)
}
