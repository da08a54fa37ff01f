package tasks

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/highlightz-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/highlightz-backend/pkg/db/types"
	"github.com/angelmondragon/highlightz-backend/pkg/enums"
	"github.com/angelmondragon/highlightz-backend/pkg/logger"
	"github.com/angelmondragon/highlightz-backend/pkg/metrics"
)

// Source names the writer of a state change.
type Source string

const (
	SourceWorker   Source = "worker"
	SourceGuard    Source = "guard"
	SourceCallback Source = "callback"
	SourceReaper   Source = "reaper"
)

const defaultFailureMessage = "task failed"

// OutcomeEvent describes an applied terminal write.
type OutcomeEvent struct {
	TaskID       int64
	VideoID      int64
	Status       enums.TaskStatus
	Source       Source
	Custom       bool
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   time.Time
}

// OutcomeRecorder receives applied terminal writes, e.g. for analytics export.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, event OutcomeEvent) error
}

// Finalizer is the single path through which tasks reach success or failed.
// Side effects (metrics, completion signal, outcome export) run only when the
// compare-and-set applied.
type Finalizer struct {
	repo     Repository
	notifier Notifier
	outcomes OutcomeRecorder
	metrics  *metrics.TaskMetrics
	logg     *logger.Logger
	now      func() time.Time
}

type FinalizerParams struct {
	Repo     Repository
	Notifier Notifier
	Outcomes OutcomeRecorder
	Metrics  *metrics.TaskMetrics
	Logger   *logger.Logger
}

func NewFinalizer(params FinalizerParams) (*Finalizer, error) {
	if params.Repo == nil {
		return nil, errors.New("task repository required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	return &Finalizer{
		repo:     params.Repo,
		notifier: params.Notifier,
		outcomes: params.Outcomes,
		metrics:  params.Metrics,
		logg:     params.Logger,
		now:      time.Now,
	}, nil
}

// Succeed finalizes task as success with the given result payload.
func (f *Finalizer) Succeed(ctx context.Context, task *models.Task, source Source, result dbtypes.JSON) (bool, error) {
	return f.finalize(ctx, task, source, TerminalUpdate{
		Status: enums.TaskStatusSuccess,
		Result: result,
	})
}

// Fail finalizes task as failed. A blank message is replaced so failed tasks
// always explain themselves.
func (f *Finalizer) Fail(ctx context.Context, task *models.Task, source Source, message string) (bool, error) {
	if strings.TrimSpace(message) == "" {
		message = defaultFailureMessage
	}
	return f.finalize(ctx, task, source, TerminalUpdate{
		Status:       enums.TaskStatusFailed,
		ErrorMessage: message,
	})
}

func (f *Finalizer) finalize(ctx context.Context, task *models.Task, source Source, update TerminalUpdate) (bool, error) {
	update.FinishedAt = f.now().UTC()

	applied, err := f.repo.Finalize(ctx, task.ID, update)
	if err != nil {
		return false, err
	}

	ctx = f.logg.WithFields(ctx, map[string]any{
		"task_id":  task.ID,
		"video_id": task.VideoID,
		"from":     task.Status.String(),
		"to":       update.Status.String(),
		"source":   string(source),
	})
	if !applied {
		f.metrics.IncFinalizeRejected(string(source))
		f.logg.Info(ctx, "task already terminal; finalize skipped")
		return false, nil
	}

	f.metrics.ObserveFinalized(update.Status.String(), string(source), update.FinishedAt.Sub(task.CreatedAt))
	if update.Status == enums.TaskStatusFailed {
		f.logg.Warn(f.logg.WithField(ctx, "error_message", update.ErrorMessage), "task failed")
	} else {
		f.logg.Info(ctx, "task succeeded")
	}

	if f.notifier != nil {
		if err := f.notifier.NotifyDone(ctx, task.ID, update.Status); err != nil {
			f.logg.Warn(f.logg.WithField(ctx, "error", err.Error()), "publish task completion signal failed")
		}
	}
	if f.outcomes != nil {
		event := OutcomeEvent{
			TaskID:       task.ID,
			VideoID:      task.VideoID,
			Status:       update.Status,
			Source:       source,
			Custom:       task.IsCustom(),
			ErrorMessage: update.ErrorMessage,
			CreatedAt:    task.CreatedAt,
			StartedAt:    task.StartedAt,
			FinishedAt:   update.FinishedAt,
		}
		if err := f.outcomes.RecordOutcome(ctx, event); err != nil {
			f.logg.Warn(f.logg.WithField(ctx, "error", err.Error()), "record task outcome failed")
		}
	}
	return true, nil
}

// MarkRunning claims a pending task for source.
func (f *Finalizer) MarkRunning(ctx context.Context, task *models.Task, source Source) (bool, error) {
	at := f.now().UTC()
	applied, err := f.repo.MarkRunning(ctx, task.ID, at)
	if err != nil || !applied {
		return false, err
	}
	f.logg.Info(f.logg.WithFields(ctx, map[string]any{
		"task_id":  task.ID,
		"video_id": task.VideoID,
		"from":     enums.TaskStatusPending.String(),
		"to":       enums.TaskStatusRunning.String(),
		"source":   string(source),
	}), "task running")
	task.Status = enums.TaskStatusRunning
	task.StartedAt = &at
	return true, nil
}

// Release hands a task claimed by source back to pending.
func (f *Finalizer) Release(ctx context.Context, task *models.Task, source Source) (bool, error) {
	applied, err := f.repo.Release(ctx, task.ID)
	if err != nil || !applied {
		return false, err
	}
	f.logg.Info(f.logg.WithFields(ctx, map[string]any{
		"task_id":  task.ID,
		"video_id": task.VideoID,
		"from":     enums.TaskStatusRunning.String(),
		"to":       enums.TaskStatusPending.String(),
		"source":   string(source),
	}), "task released")
	task.Status = enums.TaskStatusPending
	task.StartedAt = nil
	return true, nil
}
