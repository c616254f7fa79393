package oracle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/clawmarket/internal/domain"
)

// Sweep resolves every market that is waiting for resolution. Markets in any
// other status are skipped. A market resolved a moment earlier by a manual
// trigger simply fails its precondition here.
func (o *Oracle) Sweep(ctx context.Context) (domain.SweepResult, error) {
	markets, err := o.markets.List(ctx)
	if err != nil {
		return domain.SweepResult{}, fmt.Errorf("oracle: sweep list markets: %w", err)
	}

	res := domain.SweepResult{
		Resolved: []domain.ResolveResult{},
		Failed:   []domain.SweepFailure{},
		Skipped:  []string{},
	}
	for _, m := range markets {
		if m.Status != domain.MarketStatusVoting {
			res.Skipped = append(res.Skipped, m.ID)
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("oracle: sweep interrupted: %w", err)
		}
		r := o.Resolve(ctx, m.ID)
		if r.Success {
			res.Resolved = append(res.Resolved, r)
			continue
		}
		res.Failed = append(res.Failed, domain.SweepFailure{
			MarketID: m.ID,
			Reason:   r.Reason,
			Detail:   r.Detail,
		})
	}

	o.logger.InfoContext(ctx, "oracle: sweep complete",
		slog.Int("resolved", len(res.Resolved)),
		slog.Int("failed", len(res.Failed)),
		slog.Int("skipped", len(res.Skipped)),
	)
	if o.alerter != nil {
		if err := o.alerter.SweepCompleted(context.WithoutCancel(ctx), res); err != nil {
			o.logger.WarnContext(ctx, "oracle: sweep alert failed", slog.String("error", err.Error()))
		}
	}
	return res, nil
}
