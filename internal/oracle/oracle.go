// Package oracle resolves debate markets: it picks the winner from message
// scores, settles the pool through the configured Settler and commits the
// local resolution. Every attempt, successful or not, leaves an entry in the
// per-market oracle log.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/clawmarket/internal/betting"
	"github.com/alanyoungcy/clawmarket/internal/debate"
	"github.com/alanyoungcy/clawmarket/internal/domain"
)

const (
	DefaultLockTTL       = 2 * time.Minute
	DefaultSettleTimeout = 90 * time.Second

	// finalizeTimeout bounds the local commit after settlement. The commit
	// does not follow the caller's cancellation.
	finalizeTimeout = 15 * time.Second
)

// Archiver stores the transcript of a resolved market.
type Archiver interface {
	Archive(ctx context.Context, market domain.Market, pool domain.Pool) (string, error)
}

// Publisher emits live market events.
type Publisher interface {
	Publish(ctx context.Context, typ domain.EventType, marketID string, payload any)
}

// Alerter receives operator alerts.
type Alerter interface {
	MarketResolved(ctx context.Context, r domain.ResolveResult) error
	ResolutionFailed(ctx context.Context, marketID string, reason domain.FailureReason, detail string) error
	SweepCompleted(ctx context.Context, res domain.SweepResult) error
}

// Config tunes resolution.
type Config struct {
	LockTTL       time.Duration
	SettleTimeout time.Duration
	Rake          decimal.Decimal
}

// Oracle resolves markets. The zero values of the optional collaborators
// (archive, publisher, alerter, audit) disable them.
type Oracle struct {
	markets     domain.MarketStore
	pools       domain.PoolStore
	resolutions domain.ResolutionStore
	settler     domain.Settler
	locks       domain.LockManager
	log         domain.OracleLog
	cfg         Config

	archive   Archiver
	publisher Publisher
	alerter   Alerter
	audit     domain.AuditStore

	logger *slog.Logger
	now    func() time.Time
}

// New creates an Oracle.
func New(
	markets domain.MarketStore,
	pools domain.PoolStore,
	resolutions domain.ResolutionStore,
	settler domain.Settler,
	locks domain.LockManager,
	log domain.OracleLog,
	cfg Config,
	logger *slog.Logger,
) *Oracle {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = DefaultSettleTimeout
	}
	if cfg.Rake.IsZero() {
		cfg.Rake = betting.DefaultRake
	}
	return &Oracle{
		markets:     markets,
		pools:       pools,
		resolutions: resolutions,
		settler:     settler,
		locks:       locks,
		log:         log,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "oracle")),
		now:         time.Now,
	}
}

// SetArchive enables transcript archiving after resolution.
func (o *Oracle) SetArchive(a Archiver) { o.archive = a }

// SetPublisher enables live events.
func (o *Oracle) SetPublisher(p Publisher) { o.publisher = p }

// SetAlerter enables operator alerts.
func (o *Oracle) SetAlerter(a Alerter) { o.alerter = a }

// SetAudit enables the audit trail.
func (o *Oracle) SetAudit(a domain.AuditStore) { o.audit = a }

func lockKey(marketID string) string {
	return "resolve:" + marketID
}

// attempt accumulates what one resolution learned so far. It becomes the
// oracle log entry and the returned result.
type attempt struct {
	entry    domain.OracleLogEntry
	decision *domain.WinnerDecision
}

// Resolve runs one resolution attempt for marketID. It never returns an
// error: every failure is reported as a typed reason in the result and in the
// oracle log. Precondition failures leave state untouched and are safe to
// retry.
func (o *Oracle) Resolve(ctx context.Context, marketID string) (res domain.ResolveResult) {
	a := &attempt{entry: domain.OracleLogEntry{MarketID: marketID, StartedAt: o.now().UTC()}}
	defer func() {
		if r := recover(); r != nil {
			o.logger.ErrorContext(ctx, "oracle: resolution panicked",
				slog.String("market_id", marketID),
				slog.Any("panic", r),
			)
			res = o.fail(ctx, a, domain.ReasonException, fmt.Sprint(r))
		}
	}()

	unlock, err := o.locks.Acquire(ctx, lockKey(marketID), o.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return o.fail(ctx, a, domain.ReasonResolutionInProgress, "another resolution is running for this debate")
		}
		return o.fail(ctx, a, domain.ReasonException, err.Error())
	}
	defer unlock()

	m, err := o.markets.Get(ctx, marketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return o.fail(ctx, a, domain.ReasonGroupNotFound, fmt.Sprintf("Group '%s' not found", marketID))
		}
		return o.fail(ctx, a, domain.ReasonException, err.Error())
	}
	if m.Status != domain.MarketStatusVoting {
		return o.fail(ctx, a, domain.ReasonNotVoting, fmt.Sprintf("Debate status is '%s', not 'voting'", m.Status))
	}

	pool, err := o.pools.GetPool(ctx, marketID)
	switch {
	case err == nil && pool.Status == domain.PoolStatusResolved:
		return o.fail(ctx, a, domain.ReasonAlreadyResolvedOffchain, "Pool already resolved")
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return o.fail(ctx, a, domain.ReasonException, err.Error())
	}

	decision, err := debate.DecideWinner(&m)
	if err != nil {
		return o.fail(ctx, a, domain.ReasonNoDebaters, "Could not determine winner (need 2 debaters)")
	}
	a.decision = &decision
	a.entry.WinnerAgentID = decision.WinnerID
	a.entry.WinnerStance = decision.WinnerStance
	a.entry.Scores = decision.Scores

	target, ok := domain.SettlementAddress(decision.WinnerStance)
	if !ok {
		return o.fail(ctx, a, domain.ReasonNoAddress, fmt.Sprintf("No settlement address for stance '%s'", decision.WinnerStance))
	}

	locked := o.lockPool(ctx, marketID)

	receipt, err := o.settle(ctx, marketID, target)
	if err != nil {
		if locked {
			o.reopenPool(ctx, marketID)
		}
		return o.fail(ctx, a, domain.ReasonOnchainFailed, err.Error())
	}
	a.entry.Onchain = receipt.Onchain
	a.entry.TxHash = receipt.TxHash
	a.entry.BlockNumber = receipt.BlockNumber

	ref := receipt.Reference
	if receipt.TxHash != "" {
		ref = receipt.TxHash
	}
	resolvedAt := o.now().UTC()
	var resolvedPool domain.Pool
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	market, payouts, err := o.resolutions.FinalizeResolution(commitCtx, marketID, func(m *domain.Market, p *domain.Pool) ([]domain.Payout, error) {
		m.Status = domain.MarketStatusResolved
		m.Winner = decision.WinnerID
		m.WinnerStance = decision.WinnerStance
		m.ResolvedAt = &resolvedAt
		m.SettlementRef = ref
		p.SettlementRef = ref
		out, err := betting.Resolve(p, decision.WinnerID, decision.WinnerStance, o.cfg.Rake, resolvedAt)
		if err != nil {
			return nil, err
		}
		resolvedPool = p.Clone()
		return out, nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrStateConflict) {
			return o.fail(ctx, a, domain.ReasonNotVoting, "Debate was resolved by a concurrent attempt")
		}
		return o.fail(ctx, a, domain.ReasonException, err.Error())
	}

	a.entry.Success = true
	a.entry.CompletedAt = o.now().UTC()
	o.appendLog(ctx, a.entry)

	res = domain.ResolveResult{
		Success:      true,
		MarketID:     marketID,
		WinnerID:     decision.WinnerID,
		WinnerStance: decision.WinnerStance,
		Scores:       decision.Scores,
		Onchain:      receipt.Onchain,
		TxHash:       receipt.TxHash,
		BlockNumber:  receipt.BlockNumber,
		Payouts:      payouts,
		Rake:         resolvedPool.Rake.String(),
	}
	o.logger.InfoContext(ctx, "oracle: market resolved",
		slog.String("market_id", marketID),
		slog.String("winner", decision.WinnerID),
		slog.String("stance", string(decision.WinnerStance)),
		slog.Bool("onchain", receipt.Onchain),
		slog.Bool("already_settled", receipt.AlreadySettled),
		slog.Int("payouts", len(payouts)),
	)

	o.afterResolve(ctx, market, resolvedPool, res)
	return res
}

func (o *Oracle) settle(ctx context.Context, marketID, target string) (domain.SettlementReceipt, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.SettleTimeout)
	defer cancel()

	receipt, err := o.settler.Settle(ctx, marketID, target)
	if errors.Is(err, domain.ErrAlreadySettled) {
		o.logger.InfoContext(ctx, "oracle: pool already settled upstream",
			slog.String("market_id", marketID),
		)
		return domain.SettlementReceipt{Onchain: true, AlreadySettled: true}, nil
	}
	if err != nil {
		return domain.SettlementReceipt{}, err
	}
	return receipt, nil
}

// lockPool stops new wagers while settlement is in flight. It reports
// whether this attempt moved the pool from open to locked. A pool already
// locked by an earlier interrupted attempt is adopted but never reopened
// here, since that attempt may have settled upstream.
func (o *Oracle) lockPool(ctx context.Context, marketID string) bool {
	err := o.pools.SetPoolStatus(ctx, marketID, domain.PoolStatusOpen, domain.PoolStatusLocked)
	if err != nil && !errors.Is(err, domain.ErrStateConflict) && !errors.Is(err, domain.ErrNotFound) {
		o.logger.WarnContext(ctx, "oracle: lock pool failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
	return err == nil
}

func (o *Oracle) reopenPool(ctx context.Context, marketID string) {
	err := o.pools.SetPoolStatus(context.WithoutCancel(ctx), marketID, domain.PoolStatusLocked, domain.PoolStatusOpen)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		o.logger.WarnContext(ctx, "oracle: reopen pool failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
}

// afterResolve runs the best-effort side effects of a committed resolution.
func (o *Oracle) afterResolve(ctx context.Context, m domain.Market, p domain.Pool, res domain.ResolveResult) {
	ctx = context.WithoutCancel(ctx)

	if o.archive != nil {
		if path, err := o.archive.Archive(ctx, m, p); err != nil {
			o.logger.WarnContext(ctx, "oracle: archive transcript failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
		} else {
			o.logger.DebugContext(ctx, "oracle: transcript archived", slog.String("path", path))
		}
	}
	if o.publisher != nil {
		o.publisher.Publish(ctx, domain.EventStatusChanged, m.ID, map[string]any{"debateStatus": m.Status})
		o.publisher.Publish(ctx, domain.EventMarketResolved, m.ID, res)
	}
	if o.alerter != nil {
		if err := o.alerter.MarketResolved(ctx, res); err != nil {
			o.logger.WarnContext(ctx, "oracle: resolution alert failed", slog.String("error", err.Error()))
		}
	}
	if o.audit != nil {
		detail := map[string]any{
			"market_id":     m.ID,
			"winner":        res.WinnerID,
			"winner_stance": string(res.WinnerStance),
			"onchain":       res.Onchain,
			"tx_hash":       res.TxHash,
			"rake":          res.Rake,
			"payouts":       len(res.Payouts),
		}
		if err := o.audit.Log(ctx, "oracle.resolved", detail); err != nil {
			o.logger.WarnContext(ctx, "oracle: audit log failed", slog.String("error", err.Error()))
		}
	}
}

// fail records a failed attempt and builds its result. Winner and scores are
// included when they were computed before the failure.
func (o *Oracle) fail(ctx context.Context, a *attempt, reason domain.FailureReason, detail string) domain.ResolveResult {
	a.entry.Success = false
	a.entry.Reason = reason
	a.entry.Detail = detail
	a.entry.CompletedAt = o.now().UTC()
	o.appendLog(ctx, a.entry)

	o.logger.WarnContext(ctx, "oracle: resolution failed",
		slog.String("market_id", a.entry.MarketID),
		slog.String("reason", string(reason)),
		slog.String("detail", detail),
	)

	if o.alerter != nil && alertable(reason) {
		if err := o.alerter.ResolutionFailed(context.WithoutCancel(ctx), a.entry.MarketID, reason, detail); err != nil {
			o.logger.WarnContext(ctx, "oracle: failure alert failed", slog.String("error", err.Error()))
		}
	}

	res := domain.ResolveResult{
		MarketID: a.entry.MarketID,
		Reason:   reason,
		Detail:   detail,
	}
	if a.decision != nil {
		res.WinnerID = a.decision.WinnerID
		res.WinnerStance = a.decision.WinnerStance
		res.Scores = a.decision.Scores
	}
	return res
}

// alertable reports whether a failure needs an operator. Precondition
// failures are routine during sweeps.
func alertable(reason domain.FailureReason) bool {
	switch reason {
	case domain.ReasonOnchainFailed, domain.ReasonException, domain.ReasonNoAddress:
		return true
	}
	return false
}

func (o *Oracle) appendLog(ctx context.Context, e domain.OracleLogEntry) {
	if o.log == nil {
		return
	}
	if err := o.log.Append(context.WithoutCancel(ctx), e); err != nil {
		o.logger.WarnContext(ctx, "oracle: save log failed",
			slog.String("market_id", e.MarketID),
			slog.String("error", err.Error()),
		)
	}
}

// Log returns the most recent attempts for marketID, newest first.
func (o *Oracle) Log(ctx context.Context, marketID string) ([]domain.OracleLogEntry, error) {
	if o.log == nil {
		return []domain.OracleLogEntry{}, nil
	}
	entries, err := o.log.List(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("oracle: list log: %w", err)
	}
	return entries, nil
}
