package background

import (
	"context"
	"log/slog"
	"time"
)

// ExpiredTokenStore removes CSRF tokens whose expiry has passed.
type ExpiredTokenStore interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SweepObserver receives the number of tokens removed by each sweep.
type SweepObserver interface {
	ObserveSweep(removed int64)
}

// CleanupManager periodically sweeps expired CSRF tokens from the ledger.
type CleanupManager struct {
	store    ExpiredTokenStore
	observer SweepObserver
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
	stopCh   chan struct{}
}

func NewCleanupManager(store ExpiredTokenStore, observer SweepObserver, logger *slog.Logger, interval time.Duration) *CleanupManager {
	if interval <= 0 {
		interval = time.Hour
	}
	return &CleanupManager{
		store:    store,
		observer: observer,
		logger:   logger,
		interval: interval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start sweeps once immediately and then every interval until ctx is
// cancelled or Stop is called. It blocks.
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("csrf sweep stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("csrf sweep context cancelled")
			return
		}
	}
}

// RunOnce performs a single sweep. Failures are logged and retried on the
// next tick.
func (cm *CleanupManager) RunOnce(ctx context.Context) int64 {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	removed, err := cm.store.DeleteExpired(sweepCtx, cm.now())
	if err != nil {
		cm.logger.Error("failed to sweep expired csrf tokens", slog.Any("error", err))
		return 0
	}

	if cm.observer != nil {
		cm.observer.ObserveSweep(removed)
	}
	if removed > 0 {
		cm.logger.Info("expired csrf tokens swept", slog.Int64("removed", removed))
	}
	return removed
}

// Stop signals Start to return. It must be called at most once.
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
