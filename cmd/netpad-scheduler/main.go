// Package main provides the NetPad schedule trigger service.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mrlynn/netpad-v3-sub010/pkg/cmd"
	"github.com/mrlynn/netpad-v3-sub010/pkg/log"
	"github.com/mrlynn/netpad-v3-sub010/pkg/registry"
	"github.com/mrlynn/netpad-v3-sub010/pkg/scheduler"
	cli "github.com/urfave/cli/v3"
)

const defaultReloadInterval = 30 * time.Second

func main() {
	logger := log.WithModule("netpad-scheduler")

	flags := []cli.Flag{
		&cli.DurationFlag{
			Name:    "reload-interval",
			Usage:   "How often schedules are resynced with the active workflows",
			Value:   defaultReloadInterval,
			Sources: cli.EnvVars("SCHEDULER_RELOAD_INTERVAL"),
		},
	}
	flags = append(flags, cmd.CommonFlags()...)
	flags = append(flags, cmd.EngineFlags()...)

	command := &cli.Command{
		Name:                  "netpad-scheduler",
		EnableShellCompletion: true,
		Usage:                 "Fire schedule triggers of active workflows",
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger.InfoContext(ctx, "Initializing NetPad Scheduler")

			cmd.SetupTracing(ctx, logger, command.Bool("otel-enabled"), "netpad-scheduler")

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

			engine, err := cmd.NewEngine(cmd.EngineConfig(command), cmd.EngineDeps{
				Store:     store,
				Registry:  registry.New(logger, registry.Dependencies{}),
				Publisher: messaging.EventBus,
				Logger:    logger,
			})
			if err != nil {
				return err
			}

			schedules := scheduler.New(store.Workflows(), engine.Dispatcher, logger)

			err = schedules.Watch(ctx, messaging.EventBus)
			if err != nil {
				return err
			}

			return schedules.Run(ctx, command.Duration("reload-interval"))
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := command.Run(ctx, os.Args)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("NetPad Scheduler stopped", "error", err)
		stop()
		os.Exit(1)
	}
}
