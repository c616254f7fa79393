package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/clawmarket/internal/domain"
)

// WalletStore implements domain.WalletStore using PostgreSQL.
type WalletStore struct {
	pool *pgxpool.Pool
}

// NewWalletStore creates a new WalletStore backed by the given connection pool.
func NewWalletStore(pool *pgxpool.Pool) *WalletStore {
	return &WalletStore{pool: pool}
}

const walletCols = `address, balance::text, total_won::text, total_lost::text, created_at`

func scanWallet(row pgx.Row) (domain.Wallet, error) {
	var w domain.Wallet
	var balance, won, lost string
	if err := row.Scan(&w.Address, &balance, &won, &lost, &w.CreatedAt); err != nil {
		return domain.Wallet{}, err
	}
	var err error
	if w.Balance, err = parseDecimal(balance); err != nil {
		return domain.Wallet{}, fmt.Errorf("balance: %w", err)
	}
	if w.TotalWon, err = parseDecimal(won); err != nil {
		return domain.Wallet{}, fmt.Errorf("total won: %w", err)
	}
	if w.TotalLost, err = parseDecimal(lost); err != nil {
		return domain.Wallet{}, fmt.Errorf("total lost: %w", err)
	}
	return w, nil
}

func loadBetIDs(ctx context.Context, q querier, address string) ([]string, error) {
	rows, err := q.Query(ctx,
		`SELECT id FROM bets WHERE wallet_address = $1 ORDER BY placed_at, id`, address)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bet ids %s: %w", address, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: collect bet ids %s: %w", address, err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func loadWallet(ctx context.Context, q querier, address string, forUpdate bool) (domain.Wallet, error) {
	query := `SELECT ` + walletCols + ` FROM wallets WHERE address = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	w, err := scanWallet(q.QueryRow(ctx, query, address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Wallet{}, domain.ErrNotFound
		}
		return domain.Wallet{}, fmt.Errorf("postgres: get wallet %s: %w", address, err)
	}
	if w.BetIDs, err = loadBetIDs(ctx, q, address); err != nil {
		return domain.Wallet{}, err
	}
	return w, nil
}

func saveWallet(ctx context.Context, q querier, w domain.Wallet) error {
	_, err := q.Exec(ctx, `
		UPDATE wallets SET
			balance    = $2::numeric,
			total_won  = $3::numeric,
			total_lost = $4::numeric
		WHERE address = $1`,
		w.Address, w.Balance.String(), w.TotalWon.String(), w.TotalLost.String())
	if err != nil {
		return fmt.Errorf("postgres: update wallet %s: %w", w.Address, err)
	}
	return nil
}

func insertWallet(ctx context.Context, q querier, address string, initial decimal.Decimal) error {
	_, err := q.Exec(ctx,
		`INSERT INTO wallets (address, balance) VALUES ($1, $2::numeric) ON CONFLICT (address) DO NOTHING`,
		address, initial.String())
	if err != nil {
		return fmt.Errorf("postgres: create wallet %s: %w", address, err)
	}
	return nil
}

// Ensure returns the wallet, creating it with the initial balance if it does
// not exist yet. A concurrent creator wins and its balance is kept.
func (s *WalletStore) Ensure(ctx context.Context, address string, initial decimal.Decimal) (domain.Wallet, error) {
	if err := insertWallet(ctx, s.pool, address, initial); err != nil {
		return domain.Wallet{}, err
	}
	return loadWallet(ctx, s.pool, address, false)
}

// Get retrieves a wallet with its bet IDs.
func (s *WalletStore) Get(ctx context.Context, address string) (domain.Wallet, error) {
	return loadWallet(ctx, s.pool, address, false)
}

// Fund adds amount to the wallet, creating an empty one first if needed.
func (s *WalletStore) Fund(ctx context.Context, address string, amount decimal.Decimal) (domain.Wallet, error) {
	var out domain.Wallet
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := insertWallet(ctx, tx, address, decimal.Zero); err != nil {
			return err
		}
		w, err := loadWallet(ctx, tx, address, true)
		if err != nil {
			return err
		}
		w.Balance = w.Balance.Add(amount)
		if err := saveWallet(ctx, tx, w); err != nil {
			return err
		}
		out = w
		return nil
	})
	if err != nil {
		return domain.Wallet{}, err
	}
	return out, nil
}

// List returns every wallet with its bet IDs.
func (s *WalletStore) List(ctx context.Context) ([]domain.Wallet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT w.address, w.balance::text, w.total_won::text, w.total_lost::text, w.created_at,
			COALESCE(array_agg(b.id ORDER BY b.placed_at, b.id) FILTER (WHERE b.id IS NOT NULL), '{}')
		FROM wallets w LEFT JOIN bets b ON b.wallet_address = w.address
		GROUP BY w.address
		ORDER BY w.created_at, w.address`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list wallets: %w", err)
	}
	defer rows.Close()

	var out []domain.Wallet
	for rows.Next() {
		var w domain.Wallet
		var balance, won, lost string
		if err := rows.Scan(&w.Address, &balance, &won, &lost, &w.CreatedAt, &w.BetIDs); err != nil {
			return nil, fmt.Errorf("postgres: scan wallet: %w", err)
		}
		if w.Balance, err = parseDecimal(balance); err != nil {
			return nil, fmt.Errorf("postgres: wallet %s balance: %w", w.Address, err)
		}
		if w.TotalWon, err = parseDecimal(won); err != nil {
			return nil, fmt.Errorf("postgres: wallet %s total won: %w", w.Address, err)
		}
		if w.TotalLost, err = parseDecimal(lost); err != nil {
			return nil, fmt.Errorf("postgres: wallet %s total lost: %w", w.Address, err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list wallets rows: %w", err)
	}
	return out, nil
}

var _ domain.WalletStore = (*WalletStore)(nil)
