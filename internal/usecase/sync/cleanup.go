package sync

import (
	"context"
	"log/slog"
	"time"

	"fieldsync/internal/bootstrap/logging"
	"fieldsync/internal/errs"
	"fieldsync/internal/ports"
)

// CleanupConfig bounds retention of already-synced rows.
type CleanupConfig struct {
	RetentionWindow  time.Duration
	CleanupThreshold int
}

// Cleanup removes synced rows older than the retention window. It only
// ever touches SYNCED rows, so it can run unordered with respect to a
// drain.
type Cleanup struct {
	repo  ports.ResponseRepository
	clock ports.Clock
	cfg   CleanupConfig
}

func NewCleanup(repo ports.ResponseRepository, clock ports.Clock, cfg CleanupConfig) *Cleanup {
	return &Cleanup{repo: repo, clock: clock, cfg: cfg}
}

// ShouldTrigger reports whether the queue has grown enough to make a
// cleanup pass worthwhile.
func (c *Cleanup) ShouldTrigger(pendingCount int) bool {
	return pendingCount >= c.cfg.CleanupThreshold
}

// CleanupOldSynced deletes every SYNCED row created before
// now - retention window.
func (c *Cleanup) CleanupOldSynced(ctx context.Context) error {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "sync.cleanup"))

	cutoff := c.clock.NowMillis() - c.cfg.RetentionWindow.Milliseconds()
	deleted, err := c.repo.DeleteSyncedBefore(ctx, cutoff)
	if err != nil {
		logging.Error(logCtx, "cleanup failed", slog.Any("err", errs.Loggable(err)))
		return errs.Wrap(err, "delete old synced responses")
	}

	logging.Info(logCtx, "cleanup finished", slog.Int64("deleted", deleted), slog.Int64("cutoff", cutoff))
	return nil
}
