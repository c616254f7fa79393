// Package memory implements the domain stores in process memory. It backs
// the "memory" storage mode and the service and handler tests.
package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/clawmarket/internal/domain"
)

// DB holds every table. All stores built on the same DB share one lock, so
// the multi-table writes of Wager and FinalizeResolution are atomic.
type DB struct {
	mu sync.Mutex

	agents      map[string]domain.Agent
	credentials map[string]string
	markets     map[string]domain.Market
	pools       map[string]domain.Pool
	wallets     map[string]domain.Wallet
	audit       []domain.AuditEntry
	messageSeq  int64
	auditSeq    int64
	now         func() time.Time
}

// New returns an empty DB.
func New() *DB {
	return &DB{
		agents:      make(map[string]domain.Agent),
		credentials: make(map[string]string),
		markets:     make(map[string]domain.Market),
		pools:       make(map[string]domain.Pool),
		wallets:     make(map[string]domain.Wallet),
		now:         time.Now,
	}
}

// Stores bundles one of each store over a DB.
type Stores struct {
	Agents      *AgentStore
	Markets     *MarketStore
	Pools       *PoolStore
	Wallets     *WalletStore
	Resolutions *ResolutionStore
	Audit       *AuditStore
}

// NewStores returns every store backed by a fresh DB.
func NewStores() Stores {
	db := New()
	return Stores{
		Agents:      &AgentStore{db: db},
		Markets:     &MarketStore{db: db},
		Pools:       &PoolStore{db: db},
		Wallets:     &WalletStore{db: db},
		Resolutions: &ResolutionStore{db: db},
		Audit:       &AuditStore{db: db},
	}
}

// AgentStore implements domain.AgentStore.
type AgentStore struct{ db *DB }

// Create stores the agent and its credential index entry. Either both are
// written or neither is.
func (s *AgentStore) Create(_ context.Context, a domain.Agent, credential string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.agents[a.ID]; ok {
		return domain.ErrAlreadyExists
	}
	if _, ok := s.db.credentials[credential]; ok {
		return domain.ErrAlreadyExists
	}
	s.db.agents[a.ID] = a
	s.db.credentials[credential] = a.ID
	return nil
}

// Get returns the agent with the given id.
func (s *AgentStore) Get(_ context.Context, id string) (domain.Agent, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	a, ok := s.db.agents[id]
	if !ok {
		return domain.Agent{}, domain.ErrNotFound
	}
	return a, nil
}

// GetByCredential resolves an API key to its agent.
func (s *AgentStore) GetByCredential(_ context.Context, credential string) (domain.Agent, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	id, ok := s.db.credentials[credential]
	if !ok {
		return domain.Agent{}, domain.ErrNotFound
	}
	a, ok := s.db.agents[id]
	if !ok {
		return domain.Agent{}, domain.ErrNotFound
	}
	return a, nil
}

// List returns all agents in registration order.
func (s *AgentStore) List(_ context.Context) ([]domain.Agent, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := make([]domain.Agent, 0, len(s.db.agents))
	for _, a := range s.db.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].RegisteredAt.Before(out[j].RegisteredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// MarketStore implements domain.MarketStore.
type MarketStore struct{ db *DB }

// Create stores the market and an open pool for it.
func (s *MarketStore) Create(_ context.Context, m domain.Market) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.markets[m.ID]; ok {
		return domain.ErrAlreadyExists
	}
	m = m.Clone()
	if m.Members == nil {
		m.Members = []string{}
	}
	if m.Stances == nil {
		m.Stances = map[string]domain.Stance{}
	}
	if m.MessageCounts == nil {
		m.MessageCounts = map[string]int{}
	}
	if m.Messages == nil {
		m.Messages = []domain.Message{}
	}
	s.db.markets[m.ID] = m
	s.db.pools[m.ID] = domain.NewPool(m.ID)
	return nil
}

// Get returns a copy of the market with its messages.
func (s *MarketStore) Get(_ context.Context, id string) (domain.Market, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	m, ok := s.db.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m.Clone(), nil
}

// List returns copies of all markets, oldest first.
func (s *MarketStore) List(_ context.Context) ([]domain.Market, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := make([]domain.Market, 0, len(s.db.markets))
	for _, m := range s.db.markets {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Update applies fn to a copy and stores it only if fn succeeds.
func (s *MarketStore) Update(_ context.Context, id string, fn func(*domain.Market) error) (domain.Market, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cur, ok := s.db.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		return domain.Market{}, err
	}
	s.db.assignMessageIDs(&next)
	s.db.markets[id] = next.Clone()
	return next, nil
}

func (db *DB) assignMessageIDs(m *domain.Market) {
	for i := range m.Messages {
		if m.Messages[i].ID != 0 {
			continue
		}
		db.messageSeq++
		m.Messages[i].ID = db.messageSeq
		m.Messages[i].MarketID = m.ID
	}
}

// PoolStore implements domain.PoolStore.
type PoolStore struct{ db *DB }

// GetPool returns a copy of the market's betting pool.
func (s *PoolStore) GetPool(_ context.Context, marketID string) (domain.Pool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.pools[marketID]
	if !ok {
		return domain.Pool{}, domain.ErrNotFound
	}
	return p.Clone(), nil
}

// ListPools returns every pool ordered by market id.
func (s *PoolStore) ListPools(_ context.Context) ([]domain.Pool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := make([]domain.Pool, 0, len(s.db.pools))
	for _, p := range s.db.pools {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out, nil
}

// SetPoolStatus moves the pool from one status to another. It returns
// domain.ErrStateConflict when the pool is not in the from status.
func (s *PoolStore) SetPoolStatus(_ context.Context, marketID string, from, to domain.PoolStatus) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.pools[marketID]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != from {
		return domain.ErrStateConflict
	}
	p.Status = to
	s.db.pools[marketID] = p
	return nil
}

// Wager applies fn to copies of the pool and wallet and stores both only if
// fn succeeds.
func (s *PoolStore) Wager(_ context.Context, marketID, address string, fn func(*domain.Pool, *domain.Wallet) error) (domain.Pool, domain.Wallet, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.pools[marketID]
	if !ok {
		return domain.Pool{}, domain.Wallet{}, domain.ErrNotFound
	}
	w, ok := s.db.wallets[address]
	if !ok {
		return domain.Pool{}, domain.Wallet{}, domain.ErrNotFound
	}
	np := p.Clone()
	nw := cloneWallet(w)
	if err := fn(&np, &nw); err != nil {
		return domain.Pool{}, domain.Wallet{}, err
	}
	nw.BetIDs = s.db.betIDsAfter(nw.BetIDs, p, np, address)
	s.db.pools[marketID] = np.Clone()
	s.db.wallets[address] = cloneWallet(nw)
	return np, nw, nil
}

// betIDsAfter appends the IDs of bets that fn added for address.
func (db *DB) betIDsAfter(ids []string, before, after domain.Pool, address string) []string {
	seen := make(map[string]bool, len(before.Bets))
	for _, b := range before.Bets {
		seen[b.ID] = true
	}
	for _, b := range after.Bets {
		if !seen[b.ID] && b.WalletAddress == address && !slices.Contains(ids, b.ID) {
			ids = append(ids, b.ID)
		}
	}
	return ids
}

// ListBets returns the wallet's bets, newest first, with the market name.
func (s *PoolStore) ListBets(_ context.Context, address string) ([]domain.Bet, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := []domain.Bet{}
	for id, p := range s.db.pools {
		for _, b := range p.Bets {
			if b.WalletAddress != address {
				continue
			}
			b.MarketName = s.db.markets[id].Name
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PlacedAt.Equal(out[j].PlacedAt) {
			return out[i].PlacedAt.After(out[j].PlacedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// WalletStore implements domain.WalletStore.
type WalletStore struct{ db *DB }

func cloneWallet(w domain.Wallet) domain.Wallet {
	w.BetIDs = append([]string{}, w.BetIDs...)
	return w
}

func (db *DB) ensureWallet(address string, initial decimal.Decimal) domain.Wallet {
	w, ok := db.wallets[address]
	if !ok {
		w = domain.Wallet{
			Address:   address,
			Balance:   initial,
			TotalWon:  decimal.Zero,
			TotalLost: decimal.Zero,
			BetIDs:    []string{},
			CreatedAt: db.now(),
		}
		db.wallets[address] = w
	}
	return cloneWallet(w)
}

// Ensure returns the wallet, creating it with the initial balance when missing.
func (s *WalletStore) Ensure(_ context.Context, address string, initial decimal.Decimal) (domain.Wallet, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.db.ensureWallet(address, initial), nil
}

// Get returns the wallet at address.
func (s *WalletStore) Get(_ context.Context, address string) (domain.Wallet, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	w, ok := s.db.wallets[address]
	if !ok {
		return domain.Wallet{}, domain.ErrNotFound
	}
	return cloneWallet(w), nil
}

// Fund credits amount to the wallet, creating it when missing.
func (s *WalletStore) Fund(_ context.Context, address string, amount decimal.Decimal) (domain.Wallet, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	w := s.db.ensureWallet(address, decimal.Zero)
	w.Balance = w.Balance.Add(amount)
	s.db.wallets[address] = w
	return cloneWallet(w), nil
}

// List returns every wallet ordered by address.
func (s *WalletStore) List(_ context.Context) ([]domain.Wallet, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := make([]domain.Wallet, 0, len(s.db.wallets))
	for _, w := range s.db.wallets {
		out = append(out, cloneWallet(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

// ResolutionStore implements domain.ResolutionStore.
type ResolutionStore struct{ db *DB }

// FinalizeResolution commits the market, pool and wallet changes together,
// or none of them.
func (s *ResolutionStore) FinalizeResolution(_ context.Context, marketID string, apply func(*domain.Market, *domain.Pool) ([]domain.Payout, error)) (domain.Market, []domain.Payout, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	m, ok := s.db.markets[marketID]
	if !ok {
		return domain.Market{}, nil, domain.ErrNotFound
	}
	if m.Status != domain.MarketStatusVoting {
		return domain.Market{}, nil, domain.ErrStateConflict
	}
	p, ok := s.db.pools[marketID]
	if !ok {
		return domain.Market{}, nil, domain.ErrNotFound
	}
	nm := m.Clone()
	np := p.Clone()
	payouts, err := apply(&nm, &np)
	if err != nil {
		return domain.Market{}, nil, err
	}

	wallets := make(map[string]domain.Wallet)
	for _, po := range payouts {
		w, ok := wallets[po.WalletAddress]
		if !ok {
			cur, exists := s.db.wallets[po.WalletAddress]
			if !exists {
				return domain.Market{}, nil, domain.ErrNotFound
			}
			w = cloneWallet(cur)
		}
		w.Apply(po)
		wallets[po.WalletAddress] = w
	}

	s.db.markets[marketID] = nm.Clone()
	s.db.pools[marketID] = np.Clone()
	for addr, w := range wallets {
		s.db.wallets[addr] = w
	}
	return nm, payouts, nil
}

// AuditStore implements domain.AuditStore.
type AuditStore struct{ db *DB }

// Log appends an audit entry.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.auditSeq++
	s.db.audit = append(s.db.audit, domain.AuditEntry{
		ID:        s.db.auditSeq,
		Event:     strings.TrimSpace(event),
		Detail:    detail,
		CreatedAt: s.db.now(),
	})
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := []domain.AuditEntry{}
	for i := len(s.db.audit) - 1; i >= 0; i-- {
		e := s.db.audit[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return []domain.AuditEntry{}, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

var (
	_ domain.AgentStore      = (*AgentStore)(nil)
	_ domain.MarketStore     = (*MarketStore)(nil)
	_ domain.PoolStore       = (*PoolStore)(nil)
	_ domain.WalletStore     = (*WalletStore)(nil)
	_ domain.ResolutionStore = (*ResolutionStore)(nil)
	_ domain.AuditStore      = (*AuditStore)(nil)
)
