package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/clawmarket/internal/domain"
)

// newTestClient connects to the database named by CLAW_TEST_DSN and applies
// the migrations. Tests are skipped when the variable is unset.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("CLAW_TEST_DSN")
	if dsn == "" {
		t.Skip("CLAW_TEST_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := New(ctx, ClientConfig{DSN: dsn, MaxConns: 8})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	require.NoError(t, c.RunMigrations(ctx))
	return c
}

func createMarket(t *testing.T, s *MarketStore, status domain.MarketStatus) string {
	t.Helper()
	id := "test-" + uuid.NewString()
	require.NoError(t, s.Create(context.Background(), domain.Market{
		ID:        id,
		Name:      "Test",
		CreatedBy: "system",
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
		Status:    status,
	}))
	t.Cleanup(func() {
		_, _ = s.pool.Exec(context.Background(), `DELETE FROM markets WHERE id = $1`, id)
	})
	return id
}

func TestRunMigrations_Idempotent(t *testing.T) {
	c := newTestClient(t)
	require.NoError(t, c.RunMigrations(context.Background()))
}

func TestMarketStore_CreateOpensPool(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	markets := NewMarketStore(c.Pool())
	pools := NewPoolStore(c.Pool())

	id := createMarket(t, markets, domain.MarketStatusActive)
	err := markets.Create(ctx, domain.Market{ID: id, Name: "dup", CreatedBy: "system"})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	m, err := markets.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusActive, m.Status)
	assert.Empty(t, m.Messages)

	pool, err := pools.GetPool(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PoolStatusOpen, pool.Status)

	_, err = markets.Get(ctx, "missing-"+uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMarketStore_ConcurrentUpdatesSerialize(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	markets := NewMarketStore(c.Pool())
	id := createMarket(t, markets, domain.MarketStatusActive)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := markets.Update(ctx, id, func(m *domain.Market) error {
				if m.MessageCounts == nil {
					m.MessageCounts = map[string]int{}
				}
				m.MessageCounts["pro-bot"]++
				m.Messages = append(m.Messages, domain.Message{
					AgentID:   "pro-bot",
					AgentName: "Pro",
					Content:   "point",
					CreatedAt: time.Now().UTC(),
				})
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	m, err := markets.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, n, m.MessageCounts["pro-bot"])
	require.Len(t, m.Messages, n)
	for i := 1; i < len(m.Messages); i++ {
		assert.Greater(t, m.Messages[i].ID, m.Messages[i-1].ID)
	}
}

func TestPoolStore_SetPoolStatusCAS(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	markets := NewMarketStore(c.Pool())
	pools := NewPoolStore(c.Pool())
	id := createMarket(t, markets, domain.MarketStatusVoting)

	require.NoError(t, pools.SetPoolStatus(ctx, id, domain.PoolStatusOpen, domain.PoolStatusLocked))
	assert.ErrorIs(t, pools.SetPoolStatus(ctx, id, domain.PoolStatusOpen, domain.PoolStatusLocked), domain.ErrStateConflict)
	require.NoError(t, pools.SetPoolStatus(ctx, id, domain.PoolStatusLocked, domain.PoolStatusOpen))
}

func TestResolutionStore_FinalizeOnlyFromVoting(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	markets := NewMarketStore(c.Pool())
	resolutions := NewResolutionStore(c.Pool())
	id := createMarket(t, markets, domain.MarketStatusVoting)

	resolve := func(m *domain.Market, p *domain.Pool) ([]domain.Payout, error) {
		now := time.Now().UTC()
		m.Status = domain.MarketStatusResolved
		m.Winner = "pro-bot"
		m.WinnerStance = domain.StancePro
		m.ResolvedAt = &now
		p.Status = domain.PoolStatusResolved
		p.Winner = "pro-bot"
		p.WinnerStance = domain.StancePro
		p.ResolvedAt = &now
		return nil, nil
	}

	m, _, err := resolutions.FinalizeResolution(ctx, id, resolve)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusResolved, m.Status)

	_, _, err = resolutions.FinalizeResolution(ctx, id, resolve)
	assert.ErrorIs(t, err, domain.ErrStateConflict)

	got, err := markets.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "pro-bot", got.Winner)
}

func TestResolutionStore_ConcurrentFinalizeCommitsOnce(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	markets := NewMarketStore(c.Pool())
	resolutions := NewResolutionStore(c.Pool())
	id := createMarket(t, markets, domain.MarketStatusVoting)

	var (
		wg        sync.WaitGroup
		committed atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := resolutions.FinalizeResolution(ctx, id, func(m *domain.Market, p *domain.Pool) ([]domain.Payout, error) {
				m.Status = domain.MarketStatusResolved
				p.Status = domain.PoolStatusResolved
				return nil, nil
			})
			switch {
			case err == nil:
				committed.Add(1)
			case errors.Is(err, domain.ErrStateConflict):
				conflicts.Add(1)
			default:
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), committed.Load())
	assert.Equal(t, int32(5), conflicts.Load())
}
