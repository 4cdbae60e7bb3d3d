package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// AttemptPruner removes idle login attempt state.
type AttemptPruner interface {
	PruneIdle(ctx context.Context, retention time.Duration) (int64, error)
}

// CleanupManager periodically prunes login attempt rows that carry no
// failure or lockout history.
type CleanupManager struct {
	pruner    AttemptPruner
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(pruner AttemptPruner, logger *slog.Logger, interval, retention time.Duration) *CleanupManager {
	return &CleanupManager{
		pruner:    pruner,
		logger:    logger,
		interval:  interval,
		retention: retention,
		stopCh:    make(chan struct{}),
	}
}

// Start runs a cleanup immediately and then on every tick until Stop is
// called or ctx is cancelled.
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce prunes idle attempt state a single time.
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	removed, err := cm.pruner.PruneIdle(cleanupCtx, cm.retention)
	if err != nil {
		cm.logger.Error("failed to prune login attempt state", slog.Any("error", err))
		return
	}

	if removed > 0 {
		cm.logger.Info("login attempt cleanup completed", slog.Int64("rows_deleted", removed))
	}
}

// Stop signals the cleanup manager to stop. Safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
