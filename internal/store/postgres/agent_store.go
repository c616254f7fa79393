package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/clawmarket/internal/domain"
)

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// AgentStore implements domain.AgentStore using PostgreSQL.
type AgentStore struct {
	pool *pgxpool.Pool
}

// NewAgentStore creates a new AgentStore backed by the given connection pool.
func NewAgentStore(pool *pgxpool.Pool) *AgentStore {
	return &AgentStore{pool: pool}
}

const agentCols = `id, name, role, endpoint, skills_url, wallet_address, registered_at`

func scanAgent(row pgx.Row) (domain.Agent, error) {
	var a domain.Agent
	var role string
	if err := row.Scan(&a.ID, &a.Name, &role, &a.Endpoint, &a.SkillsURL, &a.WalletAddress, &a.RegisteredAt); err != nil {
		return domain.Agent{}, err
	}
	a.Role = domain.Role(role)
	return a, nil
}

// Create inserts the agent and its credential index row in one transaction.
func (s *AgentStore) Create(ctx context.Context, a domain.Agent, credential string) error {
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO agents (`+agentCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			a.ID, a.Name, string(a.Role), a.Endpoint, a.SkillsURL, a.WalletAddress, a.RegisteredAt,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO agent_keys (credential, agent_id) VALUES ($1, $2)`, credential, a.ID)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create agent %s: %w", a.ID, err)
	}
	return nil
}

// Get retrieves an agent by ID.
func (s *AgentStore) Get(ctx context.Context, id string) (domain.Agent, error) {
	a, err := scanAgent(s.pool.QueryRow(ctx, `SELECT `+agentCols+` FROM agents WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Agent{}, domain.ErrNotFound
		}
		return domain.Agent{}, fmt.Errorf("postgres: get agent %s: %w", id, err)
	}
	return a, nil
}

// GetByCredential resolves a credential through the key index.
func (s *AgentStore) GetByCredential(ctx context.Context, credential string) (domain.Agent, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT a.id, a.name, a.role, a.endpoint, a.skills_url, a.wallet_address, a.registered_at
		FROM agent_keys k JOIN agents a ON a.id = k.agent_id
		WHERE k.credential = $1`, credential)
	a, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Agent{}, domain.ErrNotFound
		}
		return domain.Agent{}, fmt.Errorf("postgres: get agent by credential: %w", err)
	}
	return a, nil
}

// List returns every agent in registration order.
func (s *AgentStore) List(ctx context.Context) ([]domain.Agent, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+agentCols+` FROM agents ORDER BY registered_at, id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list agents: %w", err)
	}
	defer rows.Close()

	var out []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan agent: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list agents rows: %w", err)
	}
	return out, nil
}

var _ domain.AgentStore = (*AgentStore)(nil)
