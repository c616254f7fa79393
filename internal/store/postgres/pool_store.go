package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/clawmarket/internal/domain"
)

// Money columns are NUMERIC; they are read as text and parsed into
// decimal.Decimal so no precision is lost on the way.

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// PoolStore implements domain.PoolStore using PostgreSQL.
type PoolStore struct {
	pool *pgxpool.Pool
}

// NewPoolStore creates a new PoolStore backed by the given connection pool.
func NewPoolStore(pool *pgxpool.Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

const poolCols = `market_id, total::text, agent_pots, status, winner, winner_stance, rake::text,
	resolved_at, settlement_ref`

const betCols = `b.id, b.market_id, b.wallet_address, b.agent_id, b.amount::text, b.status,
	b.payout::text, b.placed_at`

func scanPool(row pgx.Row) (domain.Pool, error) {
	var p domain.Pool
	var total, rake, status, winnerStance string
	var pots []byte
	if err := row.Scan(&p.MarketID, &total, &pots, &status, &p.Winner, &winnerStance, &rake,
		&p.ResolvedAt, &p.SettlementRef); err != nil {
		return domain.Pool{}, err
	}
	var err error
	if p.Total, err = parseDecimal(total); err != nil {
		return domain.Pool{}, fmt.Errorf("total: %w", err)
	}
	if p.Rake, err = parseDecimal(rake); err != nil {
		return domain.Pool{}, fmt.Errorf("rake: %w", err)
	}
	p.AgentPots = map[string]decimal.Decimal{}
	if err := json.Unmarshal(pots, &p.AgentPots); err != nil {
		return domain.Pool{}, fmt.Errorf("agent pots: %w", err)
	}
	p.Status = domain.PoolStatus(status)
	p.WinnerStance = domain.Stance(winnerStance)
	return p, nil
}

func scanBet(row pgx.Row, extra ...any) (domain.Bet, error) {
	var b domain.Bet
	var amount, payout, status string
	dest := append([]any{&b.ID, &b.MarketID, &b.WalletAddress, &b.AgentID, &amount, &status,
		&payout, &b.PlacedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return domain.Bet{}, err
	}
	var err error
	if b.Amount, err = parseDecimal(amount); err != nil {
		return domain.Bet{}, fmt.Errorf("amount: %w", err)
	}
	if b.Payout, err = parseDecimal(payout); err != nil {
		return domain.Bet{}, fmt.Errorf("payout: %w", err)
	}
	b.Status = domain.BetStatus(status)
	return b, nil
}

func loadBets(ctx context.Context, q querier, marketID string) ([]domain.Bet, error) {
	rows, err := q.Query(ctx,
		`SELECT `+betCols+` FROM bets b WHERE b.market_id = $1 ORDER BY b.placed_at, b.id`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets %s: %w", marketID, err)
	}
	defer rows.Close()
	bets := []domain.Bet{}
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		bets = append(bets, b)
	}
	return bets, rows.Err()
}

func loadPool(ctx context.Context, q querier, marketID string, forUpdate bool) (domain.Pool, error) {
	query := `SELECT ` + poolCols + ` FROM pools WHERE market_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	p, err := scanPool(q.QueryRow(ctx, query, marketID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Pool{}, domain.ErrNotFound
		}
		return domain.Pool{}, fmt.Errorf("postgres: get pool %s: %w", marketID, err)
	}
	if p.Bets, err = loadBets(ctx, q, marketID); err != nil {
		return domain.Pool{}, err
	}
	return p, nil
}

// savePool writes the pool row, inserts new bets and updates the status and
// payout of bets that changed.
func savePool(ctx context.Context, tx pgx.Tx, before, after *domain.Pool) error {
	pots, err := json.Marshal(orEmpty(after.AgentPots))
	if err != nil {
		return fmt.Errorf("postgres: marshal agent pots: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE pools SET
			total          = $2::numeric,
			agent_pots     = $3,
			status         = $4,
			winner         = $5,
			winner_stance  = $6,
			rake           = $7::numeric,
			resolved_at    = $8,
			settlement_ref = $9
		WHERE market_id = $1`,
		after.MarketID, after.Total.String(), pots, string(after.Status), after.Winner,
		string(after.WinnerStance), after.Rake.String(), after.ResolvedAt, after.SettlementRef,
	)
	if err != nil {
		return fmt.Errorf("postgres: update pool %s: %w", after.MarketID, err)
	}

	old := make(map[string]domain.Bet, len(before.Bets))
	for _, b := range before.Bets {
		old[b.ID] = b
	}
	batch := &pgx.Batch{}
	for _, b := range after.Bets {
		prev, ok := old[b.ID]
		switch {
		case !ok:
			batch.Queue(`
				INSERT INTO bets (id, market_id, wallet_address, agent_id, amount, status, payout, placed_at)
				VALUES ($1, $2, $3, $4, $5::numeric, $6, $7::numeric, $8)`,
				b.ID, after.MarketID, b.WalletAddress, b.AgentID, b.Amount.String(),
				string(b.Status), b.Payout.String(), b.PlacedAt)
		case prev.Status != b.Status || !prev.Payout.Equal(b.Payout):
			batch.Queue(`UPDATE bets SET status = $2, payout = $3::numeric WHERE id = $1`,
				b.ID, string(b.Status), b.Payout.String())
		}
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: write bets %s: %w", after.MarketID, err)
	}
	return nil
}

// GetPool retrieves a pool with its bets.
func (s *PoolStore) GetPool(ctx context.Context, marketID string) (domain.Pool, error) {
	return loadPool(ctx, s.pool, marketID, false)
}

// ListPools returns every pool with its bets.
func (s *PoolStore) ListPools(ctx context.Context) ([]domain.Pool, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+poolCols+` FROM pools ORDER BY market_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pools: %w", err)
	}
	var pools []domain.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: scan pool: %w", err)
		}
		p.Bets = []domain.Bet{}
		pools = append(pools, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list pools rows: %w", err)
	}

	idx := make(map[string]int, len(pools))
	for i, p := range pools {
		idx[p.MarketID] = i
	}
	betRows, err := s.pool.Query(ctx, `SELECT `+betCols+` FROM bets b ORDER BY b.placed_at, b.id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets: %w", err)
	}
	defer betRows.Close()
	for betRows.Next() {
		b, err := scanBet(betRows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		if i, ok := idx[b.MarketID]; ok {
			pools[i].Bets = append(pools[i].Bets, b)
		}
	}
	if err := betRows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bets rows: %w", err)
	}
	return pools, nil
}

// SetPoolStatus performs a compare-and-set on the pool status.
func (s *PoolStore) SetPoolStatus(ctx context.Context, marketID string, from, to domain.PoolStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pools SET status = $3 WHERE market_id = $1 AND status = $2`,
		marketID, string(from), string(to))
	if err != nil {
		return fmt.Errorf("postgres: set pool status %s: %w", marketID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM pools WHERE market_id = $1)`, marketID).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: check pool %s: %w", marketID, err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrStateConflict
}

// Wager locks the pool, then the wallet, applies fn and writes both back.
// The wallet must already exist.
func (s *PoolStore) Wager(ctx context.Context, marketID, address string, fn func(*domain.Pool, *domain.Wallet) error) (domain.Pool, domain.Wallet, error) {
	var outPool domain.Pool
	var outWallet domain.Wallet
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		before, err := loadPool(ctx, tx, marketID, true)
		if err != nil {
			return err
		}
		w, err := loadWallet(ctx, tx, address, true)
		if err != nil {
			return err
		}
		after := before.Clone()
		if err := fn(&after, &w); err != nil {
			return err
		}
		if err := savePool(ctx, tx, &before, &after); err != nil {
			return err
		}
		if err := saveWallet(ctx, tx, w); err != nil {
			return err
		}
		// New bets land after the wallet was read.
		if w.BetIDs, err = loadBetIDs(ctx, tx, address); err != nil {
			return err
		}
		outPool, outWallet = after, w
		return nil
	})
	if err != nil {
		return domain.Pool{}, domain.Wallet{}, err
	}
	return outPool, outWallet, nil
}

// ListBets returns the wallet's bets, newest first, with the market name.
func (s *PoolStore) ListBets(ctx context.Context, address string) ([]domain.Bet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+betCols+`, m.name
		FROM bets b JOIN markets m ON m.id = b.market_id
		WHERE b.wallet_address = $1
		ORDER BY b.placed_at DESC, b.id`, address)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets for %s: %w", address, err)
	}
	defer rows.Close()

	bets := []domain.Bet{}
	for rows.Next() {
		var name string
		b, err := scanBet(rows, &name)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		b.MarketName = name
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bets rows: %w", err)
	}
	return bets, nil
}

var _ domain.PoolStore = (*PoolStore)(nil)
