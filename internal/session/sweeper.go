package session

import (
	"context"
	"log/slog"
	"time"
)

// CleanupCallback is called for every session the sweeper ends.
type CleanupCallback func(sess *Session)

// ExportPruner removes archived exports older than a cutoff.
type ExportPruner interface {
	DeleteExportsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CachePruner drops stale entries from an in-memory cache.
type CachePruner interface {
	Prune() int
}

// SweeperConfig controls the background sweeper.
type SweeperConfig struct {
	Interval        time.Duration
	SessionTTL      time.Duration
	ExportRetention time.Duration
	Caches          []CachePruner
}

// StartSweeper runs a background goroutine that periodically ends idle
// sessions and prunes old exports until ctx is cancelled.
func StartSweeper(ctx context.Context, m *Manager, pruner ExportPruner, cfg SweeperConfig, onCleanup CleanupCallback) {
	ticker := time.NewTicker(cfg.Interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", cfg.Interval, "ttl", cfg.SessionTTL)

		for {
			select {
			case <-ticker.C:
				Sweep(ctx, m, pruner, cfg, onCleanup)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep performs one cleanup pass and returns the number of sessions ended.
func Sweep(ctx context.Context, m *Manager, pruner ExportPruner, cfg SweeperConfig, onCleanup CleanupCallback) int {
	expired := m.Expired(cfg.SessionTTL)
	for _, sess := range expired {
		slog.Info("Sweeper ending idle session",
			"user_id", sess.UserID,
			"session_id", sess.SessionID,
			"last_seen", sess.LastSeen(),
		)
		m.End(sess.UserID, sess.SessionID)
		if onCleanup != nil {
			onCleanup(sess)
		}
	}
	if len(expired) > 0 {
		slog.Info("Sweeper cleanup completed", "ended", len(expired))
	}

	if pruner != nil && cfg.ExportRetention > 0 {
		cutoff := time.Now().Add(-cfg.ExportRetention)
		if deleted, err := pruner.DeleteExportsBefore(ctx, cutoff); err != nil {
			slog.Error("Sweeper failed to prune exports", "error", err)
		} else if deleted > 0 {
			slog.Info("Sweeper pruned old exports", "count", deleted)
		}
	}

	for _, c := range cfg.Caches {
		if n := c.Prune(); n > 0 {
			slog.Info("Sweeper pruned cache entries", "count", n)
		}
	}
	return len(expired)
}
