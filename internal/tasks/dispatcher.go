package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/highlightz-backend/internal/queue"
	"github.com/angelmondragon/highlightz-backend/pkg/logger"
	"github.com/angelmondragon/highlightz-backend/pkg/metrics"
)

// Enqueuer hands tasks to the worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskID int64)
	Publish(ctx context.Context, taskID int64) error
}

// Dispatcher publishes job messages for freshly created tasks.
type Dispatcher struct {
	publisher queue.Publisher
	metrics   *metrics.TaskMetrics
	logg      *logger.Logger
	now       func() time.Time
}

func NewDispatcher(publisher queue.Publisher, m *metrics.TaskMetrics, logg *logger.Logger) (*Dispatcher, error) {
	if publisher == nil {
		return nil, errors.New("queue publisher required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &Dispatcher{publisher: publisher, metrics: m, logg: logg, now: time.Now}, nil
}

// Publish submits taskID and reports broker errors.
func (d *Dispatcher) Publish(ctx context.Context, taskID int64) error {
	return d.publisher.Publish(ctx, queue.JobMessage{
		TaskID:     taskID,
		EnqueuedAt: d.now().UTC(),
	})
}

// Enqueue submits taskID after its creation committed. Failures are logged
// and swallowed: the task stays pending and can be re-dispatched.
func (d *Dispatcher) Enqueue(ctx context.Context, taskID int64) {
	if err := d.Publish(ctx, taskID); err != nil {
		d.metrics.IncDispatchFailure()
		d.logg.Warn(d.logg.WithFields(ctx, map[string]any{
			"task_id": taskID,
			"error":   err.Error(),
		}), "enqueue task failed; task left pending")
		return
	}
	d.logg.Info(d.logg.WithTaskID(ctx, taskID), "task enqueued")
}
