package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mrlynn/netpad-v3-sub010/pkg/auth"
	"github.com/mrlynn/netpad-v3-sub010/pkg/config"
	"github.com/mrlynn/netpad-v3-sub010/pkg/dispatcher"
	"github.com/mrlynn/netpad-v3-sub010/pkg/eventbus"
	"github.com/mrlynn/netpad-v3-sub010/pkg/execution"
	"github.com/mrlynn/netpad-v3-sub010/pkg/metrics"
	"github.com/mrlynn/netpad-v3-sub010/pkg/otelhelper"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence"
	"github.com/mrlynn/netpad-v3-sub010/pkg/queue"
	"github.com/mrlynn/netpad-v3-sub010/pkg/registry"
	"github.com/mrlynn/netpad-v3-sub010/pkg/usage"
	"github.com/mrlynn/netpad-v3-sub010/pkg/worker"
	"github.com/mrlynn/netpad-v3-sub010/pkg/workflow"
)

// Engine is the set of services every binary builds the same way, once
// per process.
type Engine struct {
	Config     config.Engine
	Queue      *queue.Queue
	Executions *execution.Manager
	Dispatcher *dispatcher.Dispatcher
	Walker     *workflow.Walker
	Metrics    *metrics.Metrics
}

// EngineDeps are the collaborators of NewEngine. Publisher and Meter are
// optional.
type EngineDeps struct {
	Store     persistence.Persistence
	Registry  *registry.Registry
	Publisher eventbus.EventPublisher
	Meter     usage.Meter
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// NewEngine wires the queue, the execution record manager, the dispatcher
// and the graph walker over one store.
func NewEngine(cfg config.Engine, deps EngineDeps) (*Engine, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}

	if deps.Meter == nil {
		deps.Meter = usage.NewMemoryMeter(config.DefaultLimits(), time.Now)
	}

	var managerOpts []execution.Option
	if deps.Publisher != nil {
		managerOpts = append(managerOpts, execution.WithPublisher(deps.Publisher))
	}

	jobs := queue.New(deps.Store.Jobs(), queue.Config{
		MaxDepth:           cfg.MaxQueueDepth,
		DefaultMaxAttempts: cfg.DefaultMaxAttempts,
		VisibilityTimeout:  cfg.VisibilityTimeout,
		Retention:          cfg.Retention,
	}, deps.Logger, queue.WithObserver(deps.Metrics))

	executions := execution.NewManager(deps.Store, deps.Logger, managerOpts...)

	return &Engine{
		Config:     cfg,
		Queue:      jobs,
		Executions: executions,
		Dispatcher: dispatcher.New(deps.Store.Workflows(), jobs, executions, deps.Meter,
			auth.NewOrgAuthorizer(), deps.Logger, dispatcher.WithObserver(deps.Metrics)),
		Walker: workflow.NewWalker(deps.Registry, executions, deps.Logger,
			workflow.WithObserver(deps.Metrics), workflow.WithDefaultParallelism(cfg.MaxParallelBranches)),
		Metrics: deps.Metrics,
	}, nil
}

// Processor returns a job processor claiming as workerID.
func (e *Engine) Processor(workerID string, workflows persistence.WorkflowRepository, logger *slog.Logger) *worker.Processor {
	return worker.NewProcessor(workerID, e.Queue, workflows, e.Walker, e.Executions, logger)
}

// NewMeter returns the Redis meter when redisURL is set, the in-process
// one otherwise. limitsFile may be empty for unlimited plans.
func NewMeter(redisURL, limitsFile string) (usage.Meter, error) {
	limits := config.DefaultLimits()

	if limitsFile != "" {
		loaded, err := config.LoadLimits(limitsFile)
		if err != nil {
			return nil, err
		}

		limits = loaded
	}

	if redisURL == "" {
		return usage.NewMemoryMeter(limits, time.Now), nil
	}

	meter, err := usage.NewRedisMeterFromURL(redisURL, limits)
	if err != nil {
		return nil, fmt.Errorf("failed to connect usage meter: %w", err)
	}

	return meter, nil
}

// SetupTracing installs the OTLP tracer provider when enabled. Without it
// spans go to the no-op global provider.
func SetupTracing(ctx context.Context, logger *slog.Logger, enabled bool, serviceName string) {
	if !enabled {
		return
	}

	_, err := otelhelper.NewTracer(ctx, serviceName)
	if err != nil {
		logger.WarnContext(ctx, "Tracing disabled", "error", err)

		return
	}

	logger.InfoContext(ctx, "Tracing enabled", "service", serviceName)
}
