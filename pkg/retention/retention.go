package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"chatcore/pkg/config"
	"chatcore/pkg/logger"
	"chatcore/pkg/store"
)

// Runner purges old tombstones on a cron schedule. Purging trades
// idempotent re-delete of long-gone messages for bounded growth; it is
// disabled unless configured.
type Runner struct {
	cfg    config.RetentionConfig
	engine store.Engine
}

func New(cfg config.RetentionConfig, engine store.Engine) *Runner {
	return &Runner{cfg: cfg, engine: engine}
}

// Start launches the scheduler if enabled. Returns a cancel func.
func (r *Runner) Start(ctx context.Context) (context.CancelFunc, error) {
	if !r.cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}
	if r.cfg.Period.Duration() <= 0 {
		return nil, fmt.Errorf("retention enabled but period not set")
	}

	cronExpr := r.cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", r.cfg.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", r.cfg.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "period", r.cfg.Period.Duration().String())
	ctx2, cancel := context.WithCancel(ctx)
	go r.runScheduler(ctx2, cronExpr)
	return cancel, nil
}

// runScheduler uses gronx to compute the next tick for the configured cron
// expression and sleeps until that time.
func (r *Runner) runScheduler(ctx context.Context, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if err := r.RunOnce(ctx); err != nil {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// RunOnce performs a single purge pass. Exposed for on-demand runs.
func (r *Runner) RunOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-r.cfg.Period.Duration())
	if r.cfg.DryRun {
		logger.Info("retention_dry_run", "cutoff", cutoff.Format(time.RFC3339))
		return nil
	}
	n, err := r.engine.PurgeTombstones(ctx, cutoff)
	if err != nil {
		return err
	}
	logger.Info("retention_purged", "count", n, "cutoff", cutoff.Format(time.RFC3339))
	return nil
}
