package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
)

// Sweeper periodically requeues jobs abandoned by crashed workers and
// purges finished jobs past retention.
type Sweeper struct {
	queue    *Queue
	interval time.Duration
	logger   *slog.Logger
	// onExhausted is called for stale jobs that ran out of attempts.
	onExhausted func(ctx context.Context, job *models.Job)
}

// NewSweeper creates a sweeper running every interval.
func NewSweeper(queue *Queue, interval time.Duration, logger *slog.Logger, onExhausted func(context.Context, *models.Job)) *Sweeper {
	return &Sweeper{
		queue:       queue,
		interval:    interval,
		logger:      logger.With("module", "sweeper"),
		onExhausted: onExhausted,
	}
}

// Run sweeps until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "Sweeper started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "Sweeper stopped")

			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one maintenance pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	requeued, err := s.queue.RequeueStale(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to requeue stale jobs", "error", err)
	}

	for _, job := range requeued {
		if job.Status == models.JobStatusFailed && s.onExhausted != nil {
			s.onExhausted(ctx, job)
		}
	}

	if len(requeued) > 0 {
		s.logger.InfoContext(ctx, "Requeued stale jobs", "count", len(requeued))
	}

	purged, err := s.queue.Purge(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to purge finished jobs", "error", err)

		return
	}

	if purged > 0 {
		s.logger.InfoContext(ctx, "Purged finished jobs", "count", purged)
	}
}
