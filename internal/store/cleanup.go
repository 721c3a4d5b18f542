package store

import (
	"context"
	"log/slog"
	"time"
)

const cleanupWorkerInterval = 5 * time.Minute

// StartCleanupWorker runs a background goroutine that periodically sweeps
// idle sessions and their message history out of the database.
func StartCleanupWorker(ctx context.Context, repo Repository, ttl time.Duration) {
	ticker := time.NewTicker(cleanupWorkerInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("session cleanup worker started", "interval", cleanupWorkerInterval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweepExpiredSessions(ctx, repo, ttl)
			case <-ctx.Done():
				slog.Info("session cleanup worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepExpiredSessions(ctx context.Context, repo Repository, ttl time.Duration) {
	removed, err := repo.CleanupExpiredSessions(ctx, ttl)
	if err != nil {
		slog.Error("session cleanup sweep failed", "error", err)
		return
	}
	if removed > 0 {
		slog.Info("session cleanup removed idle sessions", "count", removed)
	}
}
