package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/highlightz-backend/internal/analytics/writer"
	"github.com/angelmondragon/highlightz-backend/internal/cron"
	"github.com/angelmondragon/highlightz-backend/internal/tasks"
	"github.com/angelmondragon/highlightz-backend/internal/videos"
	"github.com/angelmondragon/highlightz-backend/pkg/bigquery"
	"github.com/angelmondragon/highlightz-backend/pkg/config"
	"github.com/angelmondragon/highlightz-backend/pkg/db"
	"github.com/angelmondragon/highlightz-backend/pkg/logger"
	"github.com/angelmondragon/highlightz-backend/pkg/metrics"
	"github.com/angelmondragon/highlightz-backend/pkg/migrate"
	"github.com/angelmondragon/highlightz-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	var outcomes tasks.OutcomeRecorder
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
	}

	taskMetrics := metrics.NewTaskMetrics(prometheus.DefaultRegisterer)
	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)

	taskRepo := tasks.NewRepository(dbClient.DB())
	finalizer, err := tasks.NewFinalizer(tasks.FinalizerParams{
		Repo:     taskRepo,
		Notifier: tasks.NewRedisNotifier(redisClient),
		Outcomes: outcomes,
		Metrics:  taskMetrics,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create finalizer", err)
		os.Exit(1)
	}
	reaper, err := tasks.NewReaper(taskRepo, finalizer, cfg.Tasks.Timeout, cfg.Tasks.StaleGrace, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create task reaper", err)
		os.Exit(1)
	}

	staleJob, err := cron.NewStaleTaskJob(cron.StaleTaskJobParams{Logger: logg, Reaper: reaper})
	if err != nil {
		logg.Error(context.Background(), "failed to create stale task job", err)
		os.Exit(1)
	}
	downloadJob, err := cron.NewAbandonedDownloadJob(cron.AbandonedDownloadJobParams{
		Logger:    logg,
		Videos:    videos.NewRepository(dbClient.DB()),
		Retention: 2 * cfg.Fetcher.Timeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create abandoned download job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker"), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   cron.NewRegistry(staleJob, downloadJob),
		Lock:       lock,
		Metrics:    cronMetrics,
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.LockTTL * 4 / 5,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"interval":    cfg.Cron.Interval.String(),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
