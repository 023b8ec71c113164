// Package retention runs a scheduled sweep that hard-deletes long-stale
// typing signal rows. Typing liveness is always filtered at read time;
// the sweep only bounds storage growth, so the purge window must stay far
// beyond the read-time staleness window.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"parley/pkg/config"
	"parley/pkg/logger"
	"parley/pkg/store"
	"parley/pkg/telemetry"
)

const minTypingMaxAge = time.Minute

// Start starts the retention scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg config.RetentionConfig) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "*/10 * * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", cfg.Cron)
	}

	maxAge := cfg.TypingMaxAge.Duration()
	if maxAge < minTypingMaxAge {
		maxAge = time.Hour
	}

	logger.Info("retention_enabled", "cron", cronExpr, "typing_max_age", maxAge.String())
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cronExpr, maxAge)
	return cancel, nil
}

// runScheduler computes the next cron tick with gronx and sleeps until
// then, purging on each tick.
func runScheduler(ctx context.Context, cronExpr string, maxAge time.Duration) {
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

		wait := time.Until(next)
		if wait <= 0 {
			RunOnce(maxAge)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(wait):
			RunOnce(maxAge)
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// RunOnce purges typing rows older than maxAge and reports the count.
func RunOnce(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge).UnixNano()
	n, err := store.PurgeTypingOlderThan(cutoff)
	if err != nil {
		logger.Error("retention_run_error", "error", err)
		return
	}
	if n > 0 {
		telemetry.CountTypingPurged(n)
		logger.Info("retention_typing_purged", "count", n)
	}
}
