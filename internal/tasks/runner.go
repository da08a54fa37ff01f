package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/highlightz-backend/internal/mladapter"
	"github.com/angelmondragon/highlightz-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/highlightz-backend/pkg/db/types"
	"github.com/angelmondragon/highlightz-backend/pkg/enums"
	"github.com/angelmondragon/highlightz-backend/pkg/logger"
	"github.com/angelmondragon/highlightz-backend/pkg/metrics"
	"gorm.io/gorm"
)

const (
	msgMLNotConfigured = "ml api url is not configured"
	msgNoStoredFile    = "video has no stored file"
)

// ErrStopping is the cancel cause used when the worker shuts down mid-run.
var ErrStopping = errors.New("worker stopping")

// Classifier is the ML surface the runner depends on.
type Classifier interface {
	mladapter.Classifier
	Configured() bool
}

// Starter executes a task once.
type Starter interface {
	Start(ctx context.Context, taskID int64, extra map[string]any) error
}

// Runner claims a pending task, calls the ML service and records the outcome.
type Runner struct {
	repo       Repository
	classifier Classifier
	finalizer  *Finalizer
	metrics    *metrics.TaskMetrics
	logg       *logger.Logger
}

type RunnerParams struct {
	Repo       Repository
	Classifier Classifier
	Finalizer  *Finalizer
	Metrics    *metrics.TaskMetrics
	Logger     *logger.Logger
}

func NewRunner(params RunnerParams) (*Runner, error) {
	switch {
	case params.Repo == nil:
		return nil, errors.New("task repository required")
	case params.Classifier == nil:
		return nil, errors.New("classifier required")
	case params.Finalizer == nil:
		return nil, errors.New("finalizer required")
	case params.Logger == nil:
		return nil, errors.New("logger required")
	}
	return &Runner{
		repo:       params.Repo,
		classifier: params.Classifier,
		finalizer:  params.Finalizer,
		metrics:    params.Metrics,
		logg:       params.Logger,
	}, nil
}

// Start runs task taskID if it is still pending. Tasks in any other state are
// left untouched. The returned error reports infrastructure failures only; ML
// failures are recorded on the task.
func (r *Runner) Start(ctx context.Context, taskID int64, extra map[string]any) error {
	ctx = r.logg.WithTaskID(ctx, taskID)

	task, err := r.repo.FindByID(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task %d: %w", taskID, err)
	}
	if task.Status != enums.TaskStatusPending {
		r.logg.Info(r.logg.WithField(ctx, "status", task.Status.String()), "task not pending; start skipped")
		return nil
	}

	claimed, err := r.finalizer.MarkRunning(ctx, task, SourceWorker)
	if err != nil {
		return fmt.Errorf("mark task %d running: %w", taskID, err)
	}
	if !claimed {
		r.logg.Info(ctx, "task claimed elsewhere; start skipped")
		return nil
	}

	status, message, payload := r.execute(ctx, task.VideoID, taskID, task.Prompt, extra)
	if status != enums.TaskStatusSuccess && ctx.Err() != nil {
		return r.interrupted(ctx, task)
	}

	writeCtx := context.WithoutCancel(ctx)
	if status == enums.TaskStatusSuccess {
		_, err = r.finalizer.Succeed(writeCtx, task, SourceWorker, payload)
	} else {
		_, err = r.finalizer.Fail(writeCtx, task, SourceWorker, message)
	}
	if err != nil {
		return fmt.Errorf("finalize task %d: %w", taskID, err)
	}
	return nil
}

// interrupted settles a run cut short by ctx without recording a failure. On
// shutdown the task goes back to pending for redelivery; any other cancel
// comes from the guard, which owns the outcome.
func (r *Runner) interrupted(ctx context.Context, task *models.Task) error {
	if !errors.Is(context.Cause(ctx), ErrStopping) {
		r.logg.Info(ctx, "run canceled; outcome left to guard")
		return nil
	}
	released, err := r.finalizer.Release(context.WithoutCancel(ctx), task, SourceWorker)
	if err != nil {
		return fmt.Errorf("release task %d: %w", task.ID, err)
	}
	if !released {
		r.logg.Info(ctx, "task settled elsewhere; release skipped")
	}
	return fmt.Errorf("task %d: %w", task.ID, ErrStopping)
}

func (r *Runner) execute(ctx context.Context, videoID, taskID int64, prompt *string, extra map[string]any) (enums.TaskStatus, string, dbtypes.JSON) {
	if !r.classifier.Configured() {
		return enums.TaskStatusFailed, msgMLNotConfigured, nil
	}

	video, err := r.repo.FindVideo(ctx, videoID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return enums.TaskStatusFailed, fmt.Sprintf("load video: %v", err), nil
	}
	if video == nil || !video.HasFile() {
		return enums.TaskStatusFailed, msgNoStoredFile, nil
	}

	result := r.classifier.Classify(ctx, mladapter.Request{
		TaskID:        taskID,
		VideoFilename: video.File,
		Prompt:        prompt,
		Extra:         extra,
	})
	r.metrics.IncAdapterCall(result.Outcome())
	if !result.IsOk() {
		return enums.TaskStatusFailed, result.Message(), nil
	}
	return enums.TaskStatusSuccess, "", dbtypes.JSON(result.Payload())
}
