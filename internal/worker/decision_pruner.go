package worker

import (
	"context"
	"log/slog"
	"time"
)

const pruneInterval = time.Hour

// PruneStore is the persistence interface consumed by DecisionPruner.
type PruneStore interface {
	PruneDecisions(ctx context.Context, before time.Time) (int64, error)
}

// DecisionPruner deletes decision records older than the retention period.
type DecisionPruner struct {
	store     PruneStore
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
}

// NewDecisionPruner creates a pruner keeping retention worth of records.
func NewDecisionPruner(store PruneStore, retention time.Duration) *DecisionPruner {
	return &DecisionPruner{
		store:     store,
		retention: retention,
		interval:  pruneInterval,
		now:       time.Now,
	}
}

// Name returns the worker identifier.
func (p *DecisionPruner) Name() string { return "decision_pruner" }

// Run prunes once at start and then on every interval until ctx is cancelled.
func (p *DecisionPruner) Run(ctx context.Context) error {
	p.prune(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *DecisionPruner) prune(ctx context.Context) {
	cutoff := p.now().Add(-p.retention)
	n, err := p.store.PruneDecisions(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			slog.LogAttrs(ctx, slog.LevelError, "decision prune failed",
				slog.String("error", err.Error()),
			)
		}
		return
	}
	if n > 0 {
		slog.LogAttrs(ctx, slog.LevelInfo, "decisions pruned",
			slog.Int64("count", n),
			slog.Time("before", cutoff),
		)
	}
}
