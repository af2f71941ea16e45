package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PollerConfig holds the poll loop settings.
type PollerConfig struct {
	// PollInterval is how long an idle slot waits before claiming again.
	PollInterval time.Duration
	// Concurrency is the number of jobs processed at once.
	Concurrency int
	// ShutdownGrace bounds how long in-flight jobs may keep running after
	// the poller is stopped. Zero waits for them indefinitely.
	ShutdownGrace time.Duration
}

// Poller keeps Concurrency slots busy with queued jobs.
type Poller struct {
	processor *Processor
	config    PollerConfig
	logger    *slog.Logger
}

// NewPoller creates a poller over processor.
func NewPoller(processor *Processor, config PollerConfig, logger *slog.Logger) *Poller {
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}

	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}

	return &Poller{
		processor: processor,
		config:    config,
		logger:    logger.With("module", "poller"),
	}
}

// Run polls until ctx is done, then waits for in-flight jobs. Jobs keep
// their own context so a shutdown does not abort a node mid-flight unless
// the grace period runs out.
func (p *Poller) Run(ctx context.Context) {
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	var wg sync.WaitGroup

	p.logger.InfoContext(ctx, "Poller started",
		"concurrency", p.config.Concurrency, "poll_interval", p.config.PollInterval)

	for slot := range p.config.Concurrency {
		wg.Add(1)

		go func() {
			defer wg.Done()
			p.slot(ctx, jobCtx, slot)
		}()
	}

	<-ctx.Done()
	p.logger.InfoContext(ctx, "Poller stopping, waiting for in-flight jobs")

	done := make(chan struct{})

	go func() {
		wg.Wait()
		close(done)
	}()

	if p.config.ShutdownGrace <= 0 {
		<-done
	} else {
		timer := time.NewTimer(p.config.ShutdownGrace)
		defer timer.Stop()

		select {
		case <-done:
		case <-timer.C:
			p.logger.WarnContext(jobCtx, "Shutdown grace elapsed, cancelling in-flight jobs")
			cancelJobs()
			<-done
		}
	}

	p.logger.InfoContext(jobCtx, "Poller stopped")
}

func (p *Poller) slot(ctx, jobCtx context.Context, slot int) {
	logger := p.logger.With("slot", slot)

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.processor.queue.Claim(ctx, p.processor.id)
		if err != nil && ctx.Err() == nil {
			logger.ErrorContext(ctx, "Failed to claim job", "error", err)
		}

		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.config.PollInterval):
			}

			continue
		}

		result := p.processor.Process(jobCtx, job)
		if !result.Success {
			logger.WarnContext(jobCtx, "Job did not succeed",
				"job_id", result.JobID, "outcome", result.Outcome, "error", result.Error)
		}
	}
}
