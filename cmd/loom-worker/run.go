package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/loomery/loom/pkg/eventlog/redisstream"
	"github.com/loomery/loom/pkg/flow"
	"github.com/loomery/loom/pkg/lifecycle"
	"github.com/loomery/loom/pkg/log"
	"github.com/loomery/loom/pkg/otelhelper"
	"github.com/loomery/loom/pkg/registry"
	storeredis "github.com/loomery/loom/pkg/store/redis"
	"github.com/loomery/loom/pkg/web"
	"github.com/loomery/loom/pkg/worker"
)

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "worker-id",
			Aliases: []string{"id"},
			Usage:   "Custom worker ID (auto-generated if not provided)",
			Value:   "",
			Sources: cli.EnvVars("WORKER_ID"),
		},
		&cli.StringFlag{
			Name:    "redis-addr",
			Usage:   "Redis address for the event log and state store",
			Value:   "localhost:6379",
			Sources: cli.EnvVars("REDIS_ADDR"),
		},
		&cli.StringFlag{
			Name:    "redis-password",
			Usage:   "Redis password",
			Value:   "",
			Sources: cli.EnvVars("REDIS_PASSWORD"),
		},
		&cli.IntFlag{
			Name:    "redis-db",
			Usage:   "Redis database number",
			Value:   0,
			Sources: cli.EnvVars("REDIS_DB"),
		},
		&cli.StringFlag{
			Name:    "stream-prefix",
			Usage:   "Key prefix for event streams",
			Value:   "loom:events",
			Sources: cli.EnvVars("STREAM_PREFIX"),
		},
		&cli.StringFlag{
			Name:    "consumer-group",
			Usage:   "Consumer group shared by the worker pool",
			Value:   "loom-workers",
			Sources: cli.EnvVars("CONSUMER_GROUP"),
		},
		&cli.IntFlag{
			Name:    "max-stream-length",
			Usage:   "Approximate cap on entries per event stream",
			Value:   10000,
			Sources: cli.EnvVars("MAX_STREAM_LENGTH"),
		},
		&cli.IntFlag{
			Name:    "workers",
			Usage:   "Number of pollers in the pool (defaults to CPU count)",
			Value:   0,
			Sources: cli.EnvVars("WORKER_COUNT"),
		},
		&cli.IntFlag{
			Name:    "poll-interval-ms",
			Usage:   "Pause after an empty or failed read",
			Value:   1000,
			Sources: cli.EnvVars("POLL_INTERVAL_MS"),
		},
		&cli.IntFlag{
			Name:    "batch-size",
			Usage:   "Maximum messages read per poll",
			Value:   10,
			Sources: cli.EnvVars("BATCH_SIZE"),
		},
		&cli.IntFlag{
			Name:    "max-retries",
			Usage:   "Event-processing retries before an event is marked failed",
			Value:   3,
			Sources: cli.EnvVars("MAX_RETRIES"),
		},
		&cli.IntFlag{
			Name:    "concurrency-limit",
			Usage:   "In-flight event-processing tasks per worker",
			Value:   5,
			Sources: cli.EnvVars("CONCURRENCY_LIMIT"),
		},
		&cli.IntFlag{
			Name:    "block-timeout-ms",
			Usage:   "Blocking read timeout against the event log",
			Value:   2000,
			Sources: cli.EnvVars("BLOCK_TIMEOUT_MS"),
		},
		&cli.IntFlag{
			Name:    "claim-timeout-ms",
			Usage:   "Idle time before peers may reclaim a pending message",
			Value:   30000,
			Sources: cli.EnvVars("CLAIM_TIMEOUT_MS"),
		},
		&cli.IntFlag{
			Name:    "health-check-interval-ms",
			Usage:   "Worker heartbeat interval",
			Value:   30000,
			Sources: cli.EnvVars("HEALTH_CHECK_INTERVAL_MS"),
		},
		&cli.IntFlag{
			Name:    "metrics-reporting-interval-ms",
			Usage:   "Pool statistics reporting interval",
			Value:   60000,
			Sources: cli.EnvVars("METRICS_REPORTING_INTERVAL_MS"),
		},
		&cli.StringFlag{
			Name:    "api-addr",
			Usage:   "Address for the HTTP API (disabled when empty)",
			Value:   "",
			Sources: cli.EnvVars("API_ADDR"),
		},
		&cli.StringFlag{
			Name:    "sample-tenant",
			Usage:   "Tenant the built-in sample workflow is registered under",
			Value:   "acme",
			Sources: cli.EnvVars("SAMPLE_TENANT"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Enable OpenTelemetry tracing",
			Value:   false,
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("loom-worker").With("worker_id", workerID)

	logger.InfoContext(ctx, "Initializing Loom worker")

	if command.Bool("tracing") {
		if _, err := otelhelper.NewTracer(ctx, "loom-worker"); err != nil {
			logger.WarnContext(ctx, "Failed to initialize tracer, continuing without tracing", "error", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	handleSignals(ctx, cancel, logger)

	actions := registry.NewActionRegistry()
	catalog := registry.NewEventCatalog()
	bodies := flow.NewBodyRegistry()

	eventTypes, err := registerSampleWorkflow(actions, catalog, bodies, logger)
	if err != nil {
		return err
	}

	eventLog, err := redisstream.NewLog(ctx, redisstream.Config{
		Addr:         command.String("redis-addr"),
		Password:     command.String("redis-password"),
		DB:           command.Int("redis-db"),
		StreamPrefix: command.String("stream-prefix"),
		Group:        command.String("consumer-group"),
		MaxLen:       int64(command.Int("max-stream-length")),
		EventTypes:   eventTypes,
	}, logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventLog.Close(); err != nil {
			logger.Error("Failed to close event log", "error", err)
		}
	}()

	st := storeredis.NewStoreWithClient(eventLog.Client(), "loom")

	bus := lifecycle.NewBus(logger)
	defer func() {
		if err := bus.Close(); err != nil {
			logger.Error("Failed to close lifecycle bus", "error", err)
		}
	}()

	subscribeLifecycleLogging(bus, logger)

	if err := bus.Subscribe(ctx); err != nil {
		return err
	}

	engine := flow.NewEngine(st, eventLog, actions, catalog, bodies, bus, logger)

	if err := registerSampleDefinitions(ctx, engine, command.String("sample-tenant")); err != nil {
		return err
	}

	config := worker.Config{
		WorkerCount:         command.Int("workers"),
		PollInterval:        time.Duration(command.Int("poll-interval-ms")) * time.Millisecond,
		BatchSize:           int64(command.Int("batch-size")),
		MaxRetries:          command.Int("max-retries"),
		ConcurrencyLimit:    int64(command.Int("concurrency-limit")),
		BlockTimeout:        time.Duration(command.Int("block-timeout-ms")) * time.Millisecond,
		ClaimTimeout:        time.Duration(command.Int("claim-timeout-ms")) * time.Millisecond,
		HealthCheckInterval: time.Duration(command.Int("health-check-interval-ms")) * time.Millisecond,
		MetricsInterval:     time.Duration(command.Int("metrics-reporting-interval-ms")) * time.Millisecond,
	}

	pool := worker.NewPool(workerID, eventLog, engine, eventTypes, config, logger)

	if addr := command.String("api-addr"); addr != "" {
		handlers := web.NewAPIHandlers(engine, st, catalog, pool, logger)
		app := web.NewApp(handlers)

		go func() {
			logger.InfoContext(ctx, "Starting HTTP API", "addr", addr)

			if err := web.Listen(ctx, app, addr, logger); err != nil {
				logger.ErrorContext(ctx, "HTTP API stopped", "error", err)
				cancel()
			}
		}()
	}

	return pool.Start(ctx)
}

func handleSignals(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signals
		logger.InfoContext(ctx, "Received signal, shutting down", "signal", sig.String())
		cancel()
	}()
}

func subscribeLifecycleLogging(bus *lifecycle.Bus, logger *slog.Logger) {
	bus.Handle(lifecycle.ExecutionStartedEvent, func(_ context.Context, event any) error {
		if started, ok := event.(*lifecycle.ExecutionStarted); ok {
			logger.Info("Execution started",
				"tenant", started.Tenant, "execution_id", started.ExecutionID,
				"workflow", started.Workflow, "trigger", started.TriggerEvent)
		}

		return nil
	})

	bus.Handle(lifecycle.ExecutionSuspendedEvent, func(_ context.Context, event any) error {
		if suspended, ok := event.(*lifecycle.ExecutionSuspended); ok {
			logger.Info("Execution suspended",
				"tenant", suspended.Tenant, "execution_id", suspended.ExecutionID,
				"workflow", suspended.Workflow, "waiting_for", suspended.WaitingFor)
		}

		return nil
	})

	bus.Handle(lifecycle.ExecutionCompletedEvent, func(_ context.Context, event any) error {
		if completed, ok := event.(*lifecycle.ExecutionCompleted); ok {
			logger.Info("Execution completed",
				"tenant", completed.Tenant, "execution_id", completed.ExecutionID,
				"workflow", completed.Workflow, "duration_ms", completed.DurationMs)
		}

		return nil
	})

	bus.Handle(lifecycle.ExecutionFailedEvent, func(_ context.Context, event any) error {
		if failed, ok := event.(*lifecycle.ExecutionFailed); ok {
			logger.Info("Execution failed",
				"tenant", failed.Tenant, "execution_id", failed.ExecutionID,
				"workflow", failed.Workflow, "error", failed.Error)
		}

		return nil
	})
}
