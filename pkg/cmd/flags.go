package cmd

import (
	"time"

	"github.com/mrlynn/netpad-v3-sub010/pkg/config"
	cli "github.com/urfave/cli/v3"
)

// CommonFlags are accepted by every binary.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL (postgres://, mongodb://, file://, memory)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma-separated Kafka brokers used by the kafka event bus",
			Value:   "localhost:9092",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for usage metering; in-process metering when empty",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "limits-file",
			Usage:   "YAML file mapping organizations to execution plans",
			Sources: cli.EnvVars("LIMITS_FILE"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
		&cli.BoolFlag{
			Name:    "otel-enabled",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "ai-base-url",
			Usage:   "OpenAI-compatible endpoint used by ai nodes",
			Sources: cli.EnvVars("AI_BASE_URL"),
		},
		&cli.StringFlag{
			Name:    "ai-api-key",
			Usage:   "API key for the ai node endpoint",
			Sources: cli.EnvVars("AI_API_KEY"),
		},
		&cli.StringFlag{
			Name:    "ai-model",
			Usage:   "Model name used by ai nodes",
			Value:   "gpt-4o-mini",
			Sources: cli.EnvVars("AI_MODEL"),
		},
	}
}

// EngineFlags tune the queue and the walker.
func EngineFlags() []cli.Flag {
	defaults := config.DefaultEngine()

	return []cli.Flag{
		&cli.IntFlag{
			Name:    "max-queue-depth",
			Usage:   "Maximum pending plus processing jobs per organization",
			Value:   defaults.MaxQueueDepth,
			Sources: cli.EnvVars("MAX_QUEUE_DEPTH"),
		},
		&cli.IntFlag{
			Name:    "max-attempts",
			Usage:   "Default attempt budget of a job",
			Value:   defaults.DefaultMaxAttempts,
			Sources: cli.EnvVars("MAX_ATTEMPTS"),
		},
		&cli.DurationFlag{
			Name:    "poll-interval",
			Usage:   "How long an idle worker slot waits before claiming again",
			Value:   defaults.PollInterval,
			Sources: cli.EnvVars("POLL_INTERVAL"),
		},
		&cli.IntFlag{
			Name:    "concurrency",
			Usage:   "Jobs processed at once by one worker",
			Value:   defaults.Concurrency,
			Sources: cli.EnvVars("WORKER_CONCURRENCY"),
		},
		&cli.IntFlag{
			Name:    "batch-size",
			Usage:   "Default batch size of the worker processing endpoint",
			Value:   defaults.BatchSize,
			Sources: cli.EnvVars("BATCH_SIZE"),
		},
		&cli.DurationFlag{
			Name:    "visibility-timeout",
			Usage:   "How long a job may stay processing before it is requeued",
			Value:   defaults.VisibilityTimeout,
			Sources: cli.EnvVars("VISIBILITY_TIMEOUT"),
		},
		&cli.DurationFlag{
			Name:    "sweep-interval",
			Usage:   "Interval of the stale job sweeper",
			Value:   defaults.SweepInterval,
			Sources: cli.EnvVars("SWEEP_INTERVAL"),
		},
		&cli.DurationFlag{
			Name:    "retention",
			Usage:   "How long finished jobs are kept",
			Value:   defaults.Retention,
			Sources: cli.EnvVars("JOB_RETENTION"),
		},
		&cli.IntFlag{
			Name:    "max-parallel-branches",
			Usage:   "Default branch parallelism of parallel workflows",
			Value:   defaults.MaxParallelBranches,
			Sources: cli.EnvVars("MAX_PARALLEL_BRANCHES"),
		},
	}
}

// EngineConfig reads EngineFlags.
func EngineConfig(command *cli.Command) config.Engine {
	return config.Engine{
		MaxQueueDepth:       command.Int("max-queue-depth"),
		DefaultMaxAttempts:  command.Int("max-attempts"),
		PollInterval:        command.Duration("poll-interval"),
		Concurrency:         command.Int("concurrency"),
		BatchSize:           command.Int("batch-size"),
		VisibilityTimeout:   command.Duration("visibility-timeout"),
		SweepInterval:       command.Duration("sweep-interval"),
		Retention:           command.Duration("retention"),
		MaxParallelBranches: command.Int("max-parallel-branches"),
	}
}

// AIConfigFrom reads the ai node flags.
func AIConfigFrom(command *cli.Command) AIConfig {
	return AIConfig{
		BaseURL: command.String("ai-base-url"),
		APIKey:  command.String("ai-api-key"),
		Model:   command.String("ai-model"),
	}
}

// ShutdownTimeout bounds graceful shutdown of every binary.
const ShutdownTimeout = 30 * time.Second
