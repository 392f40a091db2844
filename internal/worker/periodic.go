package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/assignment-service/internal/domain"
	"github.com/spec-kit/assignment-service/internal/service"
)

// BreachWarner emits SLA breach warnings.
type BreachWarner interface {
	WarnApproachingBreaches(ctx context.Context) (int, error)
}

// Rebalancer runs one rebalance pass.
type Rebalancer interface {
	Rebalance(ctx context.Context, scope service.RebalanceScope) (*service.RebalanceReport, error)
}

// runEvery calls fn every interval until ctx is done. A non-positive interval disables the loop.
func runEvery(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// RunSLAWatcher scans for tickets approaching breach on every tick.
func RunSLAWatcher(ctx context.Context, warner BreachWarner, interval time.Duration, logger *zap.Logger) {
	logger.Info("sla watcher started", zap.Duration("interval", interval))
	runEvery(ctx, interval, func(ctx context.Context) {
		if _, err := warner.WarnApproachingBreaches(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("sla breach scan failed", zap.Error(err))
		}
	})
}

// RunRebalanceScheduler triggers a full-scope rebalance on every tick. A run still in progress
// elsewhere is not an error.
func RunRebalanceScheduler(ctx context.Context, rebalancer Rebalancer, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		logger.Info("scheduled rebalancing disabled")
		return
	}
	logger.Info("rebalance scheduler started", zap.Duration("interval", interval))
	runEvery(ctx, interval, func(ctx context.Context) {
		_, err := rebalancer.Rebalance(ctx, service.RebalanceScope{})
		switch {
		case err == nil, ctx.Err() != nil:
		case errors.Is(err, domain.ErrRebalanceInProgress):
			logger.Debug("scheduled rebalance skipped, another run in progress")
		default:
			logger.Warn("scheduled rebalance failed", zap.Error(err))
		}
	})
}
