package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/angelmondragon/highlightz-backend/internal/analytics/writer"
	"github.com/angelmondragon/highlightz-backend/internal/mladapter"
	"github.com/angelmondragon/highlightz-backend/internal/queue"
	"github.com/angelmondragon/highlightz-backend/internal/tasks"
	"github.com/angelmondragon/highlightz-backend/pkg/bigquery"
	"github.com/angelmondragon/highlightz-backend/pkg/config"
	"github.com/angelmondragon/highlightz-backend/pkg/db"
	"github.com/angelmondragon/highlightz-backend/pkg/logger"
	"github.com/angelmondragon/highlightz-backend/pkg/metrics"
	"github.com/angelmondragon/highlightz-backend/pkg/migrate"
	"github.com/angelmondragon/highlightz-backend/pkg/redis"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	backend, err := queue.Open(context.Background(), cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap queue", err)
		os.Exit(1)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logg.Error(context.Background(), "error closing queue", err)
		}
	}()

	consumer, err := backend.Consumer(cfg.Worker.Concurrency, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create job consumer", err)
		os.Exit(1)
	}

	var (
		outcomes    tasks.OutcomeRecorder
		bqReadiness pinger
	)
	if cfg.BigQuery.Enabled() {
		bq, err := bigquery.NewClient(context.Background(), cfg.GCP, cfg.BigQuery, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap bigquery", err)
			os.Exit(1)
		}
		defer func() {
			if err := bq.Close(); err != nil {
				logg.Error(context.Background(), "error closing bigquery", err)
			}
		}()
		outcomeWriter, err := writer.Open(context.Background(), bq, bq.TaskOutcomesTable())
		if err != nil {
			logg.Error(context.Background(), "failed to create outcome writer", err)
			os.Exit(1)
		}
		outcomes = outcomeWriter
		bqReadiness = bq
	}

	taskMetrics := metrics.NewTaskMetrics(prometheus.DefaultRegisterer)
	taskRepo := tasks.NewRepository(dbClient.DB())
	notifier := tasks.NewRedisNotifier(redisClient)

	finalizer, err := tasks.NewFinalizer(tasks.FinalizerParams{
		Repo:     taskRepo,
		Notifier: notifier,
		Outcomes: outcomes,
		Metrics:  taskMetrics,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create finalizer", err)
		os.Exit(1)
	}

	runner, err := tasks.NewRunner(tasks.RunnerParams{
		Repo:       taskRepo,
		Classifier: mladapter.New(cfg.ML.APIURL, cfg.ML.RequestTimeout),
		Finalizer:  finalizer,
		Metrics:    taskMetrics,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create task runner", err)
		os.Exit(1)
	}

	guard, err := tasks.NewGuard(tasks.GuardParams{
		Repo:         taskRepo,
		Runner:       runner,
		Notifier:     notifier,
		Finalizer:    finalizer,
		Ceiling:      cfg.Tasks.Timeout,
		PollInterval: cfg.Tasks.PollInterval,
		StopGrace:    cfg.ML.RequestTimeout,
		Logger:       logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create task guard", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Logger:      logg,
		DB:          dbClient,
		Redis:       redisClient,
		Queue:       backend,
		BigQuery:    bqReadiness,
		Consumer:    consumer,
		Guard:       guard,
		MetricsAddr: cfg.Worker.MetricsAddr,
		Gatherer:    prometheus.DefaultGatherer,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create worker service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"queue":       backend.Kind(),
		"concurrency": cfg.Worker.Concurrency,
	})
	logg.Info(ctx, "starting worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "worker shutting down gracefully")
}
