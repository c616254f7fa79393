package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/clawmarket/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL. Each market is
// one row in markets plus its rows in messages.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, name, description, icon, topic, purpose, created_by, created_at,
	status, members, stances, message_counts, winner, winner_stance, resolved_at, settlement_ref`

const messageCols = `id, market_id, agent_id, agent_name, content, reply_to, created_at,
	upvotes, downvotes, score`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var status, winnerStance string
	var stances, counts []byte
	err := row.Scan(
		&m.ID, &m.Name, &m.Description, &m.Icon, &m.Topic, &m.Purpose, &m.CreatedBy, &m.CreatedAt,
		&status, &m.Members, &stances, &counts, &m.Winner, &winnerStance, &m.ResolvedAt, &m.SettlementRef,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	m.WinnerStance = domain.Stance(winnerStance)
	if err := json.Unmarshal(stances, &m.Stances); err != nil {
		return domain.Market{}, fmt.Errorf("stances: %w", err)
	}
	if err := json.Unmarshal(counts, &m.MessageCounts); err != nil {
		return domain.Market{}, fmt.Errorf("message counts: %w", err)
	}
	if m.Members == nil {
		m.Members = []string{}
	}
	return m, nil
}

func scanMessage(row pgx.Row) (domain.Message, error) {
	var msg domain.Message
	err := row.Scan(
		&msg.ID, &msg.MarketID, &msg.AgentID, &msg.AgentName, &msg.Content, &msg.ReplyTo, &msg.CreatedAt,
		&msg.Upvotes, &msg.Downvotes, &msg.Score,
	)
	return msg, err
}

// loadMarket reads one market with its messages. forUpdate locks the market
// row until the surrounding transaction ends.
func loadMarket(ctx context.Context, q querier, id string, forUpdate bool) (domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	m, err := scanMarket(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}

	rows, err := q.Query(ctx, `SELECT `+messageCols+` FROM messages WHERE market_id = $1 ORDER BY id`, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: list messages %s: %w", id, err)
	}
	defer rows.Close()
	m.Messages = []domain.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return domain.Market{}, fmt.Errorf("postgres: scan message: %w", err)
		}
		m.Messages = append(m.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return domain.Market{}, fmt.Errorf("postgres: list messages rows: %w", err)
	}
	return m, nil
}

// saveMarket writes the market row. Messages are handled by saveMessages.
func saveMarket(ctx context.Context, q querier, m domain.Market) error {
	stances, err := json.Marshal(m.Stances)
	if err != nil {
		return fmt.Errorf("postgres: marshal stances: %w", err)
	}
	counts, err := json.Marshal(m.MessageCounts)
	if err != nil {
		return fmt.Errorf("postgres: marshal message counts: %w", err)
	}
	_, err = q.Exec(ctx, `
		UPDATE markets SET
			status         = $2,
			members        = $3,
			stances        = $4,
			message_counts = $5,
			winner         = $6,
			winner_stance  = $7,
			resolved_at    = $8,
			settlement_ref = $9
		WHERE id = $1`,
		m.ID, string(m.Status), m.Members, stances, counts,
		m.Winner, string(m.WinnerStance), m.ResolvedAt, m.SettlementRef,
	)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, err)
	}
	return nil
}

// saveMessages inserts messages without an ID, assigning them the next value
// of the global sequence, and rewrites the votes of messages that changed.
func saveMessages(ctx context.Context, tx pgx.Tx, before, after *domain.Market) error {
	old := make(map[int64]domain.Message, len(before.Messages))
	for _, msg := range before.Messages {
		old[msg.ID] = msg
	}

	batch := &pgx.Batch{}
	for _, msg := range after.Messages {
		if msg.ID == 0 {
			continue
		}
		prev, ok := old[msg.ID]
		if ok && slices.Equal(prev.Upvotes, msg.Upvotes) && slices.Equal(prev.Downvotes, msg.Downvotes) {
			continue
		}
		batch.Queue(`UPDATE messages SET upvotes = $2, downvotes = $3, score = $4 WHERE id = $1`,
			msg.ID, nonNil(msg.Upvotes), nonNil(msg.Downvotes), msg.Score)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("postgres: update votes: %w", err)
		}
	}

	for i := range after.Messages {
		msg := &after.Messages[i]
		if msg.ID != 0 {
			continue
		}
		err := tx.QueryRow(ctx, `
			INSERT INTO messages (market_id, agent_id, agent_name, content, reply_to, created_at, upvotes, downvotes, score)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id`,
			after.ID, msg.AgentID, msg.AgentName, msg.Content, msg.ReplyTo, msg.CreatedAt,
			nonNil(msg.Upvotes), nonNil(msg.Downvotes), msg.Score,
		).Scan(&msg.ID)
		if err != nil {
			return fmt.Errorf("postgres: insert message: %w", err)
		}
		msg.MarketID = after.ID
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Create inserts the market together with its open betting pool.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	stances, err := json.Marshal(orEmpty(m.Stances))
	if err != nil {
		return fmt.Errorf("postgres: marshal stances: %w", err)
	}
	counts, err := json.Marshal(orEmpty(m.MessageCounts))
	if err != nil {
		return fmt.Errorf("postgres: marshal message counts: %w", err)
	}

	err = inTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO markets (id, name, description, icon, topic, purpose, created_by, created_at,
				status, members, stances, message_counts)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO NOTHING`,
			m.ID, m.Name, m.Description, m.Icon, m.Topic, m.Purpose, m.CreatedBy, m.CreatedAt,
			string(m.Status), nonNil(m.Members), stances, counts,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrAlreadyExists
		}
		_, err = tx.Exec(ctx, `INSERT INTO pools (market_id) VALUES ($1)`, m.ID)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return err
		}
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

func orEmpty[V any](m map[string]V) map[string]V {
	if m == nil {
		return map[string]V{}
	}
	return m
}

// Get retrieves a market with its messages.
func (s *MarketStore) Get(ctx context.Context, id string) (domain.Market, error) {
	return loadMarket(ctx, s.pool, id, false)
}

// List returns every market with its messages, oldest first.
func (s *MarketStore) List(ctx context.Context) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+marketCols+` FROM markets ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		m.Messages = []domain.Message{}
		markets = append(markets, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	if len(markets) == 0 {
		return markets, nil
	}

	idx := make(map[string]int, len(markets))
	for i, m := range markets {
		idx[m.ID] = i
	}
	msgRows, err := s.pool.Query(ctx, `SELECT `+messageCols+` FROM messages ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list messages: %w", err)
	}
	defer msgRows.Close()
	for msgRows.Next() {
		msg, err := scanMessage(msgRows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan message: %w", err)
		}
		if i, ok := idx[msg.MarketID]; ok {
			markets[i].Messages = append(markets[i].Messages, msg)
		}
	}
	if err := msgRows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list messages rows: %w", err)
	}
	return markets, nil
}

// Update locks the market row, applies fn to a copy and writes the result
// back. Concurrent updates to the same market are serialised by the row lock.
func (s *MarketStore) Update(ctx context.Context, id string, fn func(*domain.Market) error) (domain.Market, error) {
	var out domain.Market
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		before, err := loadMarket(ctx, tx, id, true)
		if err != nil {
			return err
		}
		after := before.Clone()
		if err := fn(&after); err != nil {
			return err
		}
		if err := saveMarket(ctx, tx, after); err != nil {
			return err
		}
		if err := saveMessages(ctx, tx, &before, &after); err != nil {
			return err
		}
		out = after
		return nil
	})
	if err != nil {
		return domain.Market{}, err
	}
	return out, nil
}

var _ domain.MarketStore = (*MarketStore)(nil)
