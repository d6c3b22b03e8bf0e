package core

// scheduler.go runs the retention sweep for finished jobs.
//
// The sweep is optional: job correctness never depends on it. Each cycle asks
// the store for completed or failed jobs older than MaxAge and evicts them.
// Failures are logged and retried on the next tick; they never stop the
// scheduler.

import (
	"context"
	"log/slog"
	"time"
)

// RetentionConfig holds configuration for the retention sweeper.
type RetentionConfig struct {
	MaxAge        time.Duration // Terminal jobs older than this are evicted (default: 1h)
	CheckInterval time.Duration // How often to sweep (default: 10m)
}

func (c RetentionConfig) withDefaults() RetentionConfig {
	if c.MaxAge <= 0 {
		c.MaxAge = time.Hour
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 10 * time.Minute
	}
	return c
}

// StartRetentionSweeper sweeps immediately, then every CheckInterval, until
// ctx is cancelled. It blocks; run it on its own goroutine.
func (s *Service) StartRetentionSweeper(ctx context.Context, cfg RetentionConfig) {
	cfg = cfg.withDefaults()
	s.logger.Info("retention sweeper started",
		"max_age", cfg.MaxAge.String(),
		"check_interval", cfg.CheckInterval.String(),
	)

	s.SweepOnce(ctx, cfg.MaxAge)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx, cfg.MaxAge)
		}
	}
}

// SweepOnce evicts terminal jobs that completed more than maxAge ago and
// returns how many were evicted.
func (s *Service) SweepOnce(ctx context.Context, maxAge time.Duration) int {
	start := time.Now()
	cutoff := s.now().Add(-maxAge)

	ids, err := s.store.ListStaleTerminal(ctx, cutoff)
	if err != nil {
		s.logger.Error("retention sweep failed", "error", err)
		return 0
	}

	evicted := 0
	for _, id := range ids {
		if err := s.store.Evict(ctx, id); err != nil {
			s.logger.Warn("evict failed", "upload_id", id, "error", err)
			continue
		}
		evicted++
	}

	level := slog.LevelDebug
	if evicted > 0 {
		level = slog.LevelInfo
	}
	s.logger.Log(ctx, level, "retention sweep completed",
		"evicted", evicted,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return evicted
}
