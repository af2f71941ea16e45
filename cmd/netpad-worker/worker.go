package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/mrlynn/netpad-v3-sub010/pkg/cmd"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence"
	"github.com/mrlynn/netpad-v3-sub010/pkg/queue"
	"github.com/mrlynn/netpad-v3-sub010/pkg/worker"
	"golang.org/x/sync/errgroup"
)

// Worker runs the poll loop, the stale job sweeper and, when a port is
// set, a metrics listener until its context is done.
type Worker struct {
	id          string
	engine      *cmd.Engine
	workflows   persistence.WorkflowRepository
	metricsPort int
	logger      *slog.Logger
}

func NewWorker(id string, engine *cmd.Engine, workflows persistence.WorkflowRepository, metricsPort int, logger *slog.Logger) *Worker {
	return &Worker{
		id:          id,
		engine:      engine,
		workflows:   workflows,
		metricsPort: metricsPort,
		logger:      logger,
	}
}

func (w *Worker) Run(ctx context.Context) error {
	processor := w.engine.Processor(w.id, w.workflows, w.logger)

	poller := worker.NewPoller(processor, worker.PollerConfig{
		PollInterval:  w.engine.Config.PollInterval,
		Concurrency:   w.engine.Config.Concurrency,
		ShutdownGrace: cmd.ShutdownTimeout,
	}, w.logger)

	sweeper := queue.NewSweeper(w.engine.Queue, w.engine.Config.SweepInterval, w.logger, processor.Exhausted)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		poller.Run(ctx)

		return nil
	})

	g.Go(func() error {
		sweeper.Run(ctx)

		return nil
	})

	if w.metricsPort > 0 {
		g.Go(func() error {
			return w.serveMetrics(ctx)
		})
	}

	w.logger.InfoContext(ctx, "Worker started",
		"concurrency", w.engine.Config.Concurrency,
		"poll_interval", w.engine.Config.PollInterval,
		"sweep_interval", w.engine.Config.SweepInterval)

	err := g.Wait()

	w.logger.InfoContext(ctx, "Worker stopped")

	return err
}

func (w *Worker) metricsApp() *fiber.App {
	app := fiber.New()
	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get("/metrics", adaptor.HTTPHandler(w.engine.Metrics.Handler()))

	return app
}

func (w *Worker) serveMetrics(ctx context.Context) error {
	app := w.metricsApp()

	go func() {
		<-ctx.Done()

		if err := app.Shutdown(); err != nil {
			w.logger.Warn("Failed to stop metrics listener", "error", err)
		}
	}()

	return app.Listen(":"+strconv.Itoa(w.metricsPort), fiber.ListenConfig{DisableStartupMessage: true})
}
