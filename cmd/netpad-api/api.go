package main

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/mrlynn/netpad-v3-sub010/pkg/cmd"
	"github.com/mrlynn/netpad-v3-sub010/pkg/eventbus"
	"github.com/mrlynn/netpad-v3-sub010/pkg/registry"
	"github.com/mrlynn/netpad-v3-sub010/pkg/services"
	"github.com/mrlynn/netpad-v3-sub010/pkg/web"
	"github.com/mrlynn/netpad-v3-sub010/pkg/worker"
)

type API struct {
	logger    *slog.Logger
	store     cmd.Store
	registry  *registry.Registry
	engine    *cmd.Engine
	publisher eventbus.EventPublisher
	tokens    web.TokenValidator
	processor *worker.Processor
	validate  *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	store cmd.Store,
	registry *registry.Registry,
	engine *cmd.Engine,
	publisher eventbus.EventPublisher,
	tokens web.TokenValidator,
) *API {
	return &API{
		logger:    logger,
		store:     store,
		registry:  registry,
		engine:    engine,
		publisher: publisher,
		tokens:    tokens,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

// WithProcessor enables the worker processing endpoint in this process.
func (a *API) WithProcessor(workerID string) *API {
	a.processor = a.engine.Processor(workerID, a.store.Workflows(), a.logger)

	return a
}

func (a *API) App() *fiber.App {
	workflowService := services.NewWorkflow(a.store)
	publishingService := services.NewPublishing(a.store, a.registry, a.publisher, a.logger)
	nodeService := services.NewNode(workflowService)

	handlers := web.NewAPIHandlers(web.Dependencies{
		Workflows:  workflowService,
		Nodes:      nodeService,
		Publishing: publishingService,
		Dispatcher: a.engine.Dispatcher,
		Queue:      a.engine.Queue,
		Executions: a.engine.Executions,
		Processor:  a.processor,
		Registry:   a.registry,
		Validator:  a.validate,
		Logger:     a.logger,
	})

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))
	app.Use(web.WithLogger(a.logger))
	app.Use(web.Metrics(a.engine.Metrics))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: func(c fiber.Ctx) bool {
			return a.store.HealthCheck(c.Context()) == nil
		},
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("NetPad Workflow API")
	})

	app.Get("/metrics", adaptor.HTTPHandler(a.engine.Metrics.Handler()))

	web.Register(app, handlers, a.tokens)

	return app
}

// Start serves until ctx is done, then shuts down gracefully.
func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()

	errCh := make(chan error, 1)

	go func() {
		errCh <- app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	a.logger.InfoContext(ctx, "API listening", "port", port)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cmd.ShutdownTimeout)
	defer cancel()

	err := app.ShutdownWithContext(shutdownCtx)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return nil
}
