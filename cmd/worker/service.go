package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/angelmondragon/highlightz-backend/internal/queue"
	"github.com/angelmondragon/highlightz-backend/pkg/enums"
	"github.com/angelmondragon/highlightz-backend/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

const metricsShutdownTimeout = 5 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

type taskGuard interface {
	Run(ctx context.Context, taskID int64, extra map[string]any) (enums.TaskStatus, error)
}

type ServiceParams struct {
	Logger   *logger.Logger
	DB       pinger
	Redis    pinger
	Queue    pinger
	BigQuery pinger
	Consumer queue.Consumer
	Guard    taskGuard

	MetricsAddr string
	Gatherer    prometheus.Gatherer
}

type Service struct {
	logg     *logger.Logger
	db       pinger
	redis    pinger
	queue    pinger
	bigquery pinger
	consumer queue.Consumer
	guard    taskGuard

	metricsAddr string
	gatherer    prometheus.Gatherer
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if params.Queue == nil {
		return nil, errors.New("queue backend is required")
	}
	if params.Consumer == nil {
		return nil, errors.New("job consumer is required")
	}
	if params.Guard == nil {
		return nil, errors.New("task guard is required")
	}
	gatherer := params.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Service{
		logg:        params.Logger,
		db:          params.DB,
		redis:       params.Redis,
		queue:       params.Queue,
		bigquery:    params.BigQuery,
		consumer:    params.Consumer,
		guard:       params.Guard,
		metricsAddr: params.MetricsAddr,
		gatherer:    gatherer,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "redis", s.redis.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "queue", s.queue.Ping); err != nil {
		return err
	}
	if s.bigquery != nil {
		if err := pingDependency(ctx, s.logg, "bigquery", s.bigquery.Ping); err != nil {
			return err
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- s.consumer.Run(ctx, s.handleJob)
	}()

	if s.metricsAddr != "" {
		server := &http.Server{
			Addr:              s.metricsAddr,
			Handler:           promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics listener: %w", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
		s.logg.Info(s.logg.WithField(ctx, "addr", s.metricsAddr), "worker metrics listener started")
	}

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "worker context canceled")
			return ctx.Err()
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logg.Error(ctx, "consumer stopped unexpectedly", err)
				return err
			}
			return err
		}
	}
}

// handleJob runs one task under the guard. Only infrastructure failures are
// redelivered; a task the guard settled, or one that no longer exists, is
// acknowledged.
func (s *Service) handleJob(ctx context.Context, msg queue.JobMessage) queue.Outcome {
	ctx = s.logg.WithTaskID(ctx, msg.TaskID)
	if !msg.EnqueuedAt.IsZero() {
		ctx = s.logg.WithField(ctx, "queue_wait_ms", time.Since(msg.EnqueuedAt).Milliseconds())
	}

	status, err := s.guard.Run(ctx, msg.TaskID, nil)
	switch {
	case err == nil:
		s.logg.Info(s.logg.WithField(ctx, "status", string(status)), "task settled")
		return queue.Ack
	case errors.Is(err, gorm.ErrRecordNotFound):
		s.logg.Warn(ctx, "task not found; dropping job")
		return queue.Ack
	case errors.Is(err, context.Canceled):
		return queue.Nack
	default:
		s.logg.Error(ctx, "task run failed; job will be redelivered", err)
		return queue.Nack
	}
}
