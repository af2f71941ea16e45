// Package main provides the NetPad job worker.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/mrlynn/netpad-v3-sub010/pkg/cmd"
	"github.com/mrlynn/netpad-v3-sub010/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultMetricsPort = 9092

func main() {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "worker-id",
			Aliases: []string{"id"},
			Usage:   "Custom worker ID (auto-generated if not provided)",
			Value:   "",
			Sources: cli.EnvVars("WORKER_ID"),
		},
		&cli.IntFlag{
			Name:    "metrics-port",
			Usage:   "Port serving /metrics; 0 disables it",
			Value:   defaultMetricsPort,
			Sources: cli.EnvVars("METRICS_PORT"),
		},
	}
	flags = append(flags, cmd.CommonFlags()...)
	flags = append(flags, cmd.EngineFlags()...)

	command := &cli.Command{
		Name:                  "netpad-worker",
		EnableShellCompletion: true,
		Usage:                 "Claim and execute queued workflow jobs",
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("netpad-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing NetPad Worker")

			cmd.SetupTracing(ctx, logger, command.Bool("otel-enabled"), "netpad-worker")

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

			registry := cmd.NewRegistry(logger, messaging.Publisher, store.Documents(), cmd.AIConfigFrom(command))

			engine, err := cmd.NewEngine(cmd.EngineConfig(command), cmd.EngineDeps{
				Store:     store,
				Registry:  registry,
				Publisher: messaging.EventBus,
				Logger:    logger,
			})
			if err != nil {
				return err
			}

			return NewWorker(workerID, engine, store.Workflows(), command.Int("metrics-port"), logger).Run(ctx)
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := command.Run(ctx, os.Args)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.WithModule("netpad-worker").Error("NetPad Worker stopped", "error", err)
		stop()
		os.Exit(1)
	}
}
