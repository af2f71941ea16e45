// Package main provides the NetPad workflow API server.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/mrlynn/netpad-v3-sub010/pkg/auth"
	"github.com/mrlynn/netpad-v3-sub010/pkg/cmd"
	"github.com/mrlynn/netpad-v3-sub010/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.StringFlag{
			Name:     "jwt-secret",
			Usage:    "HMAC secret verifying internal bearer tokens",
			Required: true,
			Sources:  cli.EnvVars("JWT_SECRET"),
		},
		&cli.StringFlag{
			Name:    "jwt-issuer",
			Usage:   "Expected issuer of internal bearer tokens",
			Value:   "netpad",
			Sources: cli.EnvVars("JWT_ISSUER"),
		},
		&cli.BoolFlag{
			Name:    "worker-endpoint",
			Usage:   "Serve POST /api/worker/process from this process",
			Value:   true,
			Sources: cli.EnvVars("WORKER_ENDPOINT"),
		},
		&cli.StringFlag{
			Name:    "worker-id",
			Usage:   "Worker ID used by the processing endpoint (auto-generated if not provided)",
			Sources: cli.EnvVars("WORKER_ID"),
		},
	}
	flags = append(flags, cmd.CommonFlags()...)
	flags = append(flags, cmd.EngineFlags()...)

	command := &cli.Command{
		Name:                  "netpad-api",
		Usage:                 "Manage workflows and accept triggers",
		EnableShellCompletion: true,
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger.InfoContext(ctx, "Initializing NetPad API")

			cmd.SetupTracing(ctx, logger, command.Bool("otel-enabled"), "netpad-api")

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := store.Close(context.WithoutCancel(ctx))
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			messaging, err := cmd.NewMessaging(command.String("event-bus"), command.String("kafka-brokers"), logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := messaging.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			meter, err := cmd.NewMeter(command.String("redis-url"), command.String("limits-file"))
			if err != nil {
				return err
			}

			registry := cmd.NewRegistry(logger, messaging.Publisher, store.Documents(), cmd.AIConfigFrom(command))

			engine, err := cmd.NewEngine(cmd.EngineConfig(command), cmd.EngineDeps{
				Store:     store,
				Registry:  registry,
				Publisher: messaging.EventBus,
				Meter:     meter,
				Logger:    logger,
			})
			if err != nil {
				return err
			}

			api := NewAPI(
				logger,
				store,
				registry,
				engine,
				messaging.EventBus,
				auth.NewJWTManager(command.String("jwt-secret"), command.String("jwt-issuer")),
			)

			if command.Bool("worker-endpoint") {
				workerID := command.String("worker-id")
				if workerID == "" {
					workerID = "api-" + uuid.New().String()[:8]
				}

				api.WithProcessor(workerID)
			}

			return api.Start(ctx, command.Int("port"))
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := command.Run(ctx, os.Args)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("NetPad API stopped", "error", err)
		stop()
		os.Exit(1)
	}
}
