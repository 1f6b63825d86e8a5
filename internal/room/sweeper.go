package room

import (
	"context"
	"log/slog"
	"time"
)

const defaultSweepInterval = time.Minute

// StartSweeper runs a background goroutine that periodically closes rooms
// idle longer than ttl. It stops when ctx is cancelled.
func StartSweeper(ctx context.Context, mgr *Manager, ttl, interval time.Duration) {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Room sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case now := <-ticker.C:
				if closed := mgr.SweepIdle(now, ttl); closed > 0 {
					slog.Info("Room sweeper closed idle rooms", "count", closed, "active", mgr.Count())
				}
			case <-ctx.Done():
				slog.Info("Room sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
