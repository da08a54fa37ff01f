package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/angelmondragon/highlightz-backend/api/controllers"
	"github.com/angelmondragon/highlightz-backend/api/routes"
	"github.com/angelmondragon/highlightz-backend/internal/analytics/writer"
	"github.com/angelmondragon/highlightz-backend/internal/highlights"
	"github.com/angelmondragon/highlightz-backend/internal/queue"
	"github.com/angelmondragon/highlightz-backend/internal/tasks"
	"github.com/angelmondragon/highlightz-backend/internal/videos"
	"github.com/angelmondragon/highlightz-backend/pkg/bigquery"
	"github.com/angelmondragon/highlightz-backend/pkg/config"
	"github.com/angelmondragon/highlightz-backend/pkg/db"
	"github.com/angelmondragon/highlightz-backend/pkg/logger"
	"github.com/angelmondragon/highlightz-backend/pkg/metrics"
	"github.com/angelmondragon/highlightz-backend/pkg/migrate"
	"github.com/angelmondragon/highlightz-backend/pkg/redis"
	"github.com/angelmondragon/highlightz-backend/pkg/storage"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	publisher, err := backend.Publisher()
	if err != nil {
		logg.Error(context.Background(), "failed to create job publisher", err)
		os.Exit(1)
	}

	store, err := storage.NewClient(context.Background(), cfg.Storage, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap object storage", err)
		os.Exit(1)
	}

	taskMetrics := metrics.NewTaskMetrics(prometheus.DefaultRegisterer)
	httpMetrics := metrics.NewHTTPMetrics(prometheus.DefaultRegisterer)

	readiness := []controllers.Dependency{
		{Name: "postgres", Pinger: dbClient},
		{Name: "redis", Pinger: redisClient},
		{Name: "storage", Pinger: store},
		{Name: "queue", Pinger: backend},
		{Name: "bigquery"},
	}

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
		readiness[len(readiness)-1].Pinger = bq
	}

	taskRepo := tasks.NewRepository(dbClient.DB())
	dispatcher, err := tasks.NewDispatcher(publisher, taskMetrics, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create dispatcher", err)
		os.Exit(1)
	}
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
	callback, err := tasks.NewCallbackHandler(taskRepo, finalizer, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create callback handler", err)
		os.Exit(1)
	}
	taskService, err := tasks.NewService(taskRepo, dispatcher, callback)
	if err != nil {
		logg.Error(context.Background(), "failed to create task service", err)
		os.Exit(1)
	}

	videoService, err := videos.NewService(videos.ServiceParams{
		Tx:         dbClient,
		Repo:       videos.NewRepository(dbClient.DB()),
		Tasks:      taskRepo,
		Dispatcher: dispatcher,
		Store:      store,
		Fetcher:    videos.NewURLFetcher(cfg.Fetcher.YtdlpPath, cfg.Fetcher.Timeout, cfg.Fetcher.MaxDownloadBytes()),
		Logger:     logg,
		MaxUpload:  cfg.Fetcher.MaxUploadBytes(),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create video service", err)
		os.Exit(1)
	}

	highlightService, err := highlights.NewService(highlights.ServiceParams{
		Tx:        dbClient,
		Repo:      highlights.NewRepository(dbClient.DB()),
		Store:     store,
		MediaRoot: cfg.Storage.MediaRoot,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create highlight service", err)
		os.Exit(1)
	}

	var idempotencyStore redis.IdempotencyStore
	if cfg.FeatureFlags.Idempotency {
		idempotencyStore = redisClient
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":   cfg.App.Env,
		"addr":  addr,
		"queue": backend.Kind(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			idempotencyStore,
			httpMetrics,
			prometheus.DefaultGatherer,
			readiness,
			videoService,
			taskService,
			highlightService,
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}
}
