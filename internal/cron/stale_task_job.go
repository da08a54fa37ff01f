package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/highlightz-backend/pkg/logger"
)

type taskReaper interface {
	Reap(ctx context.Context) (int, error)
}

type StaleTaskJobParams struct {
	Logger *logger.Logger
	Reaper taskReaper
}

// NewStaleTaskJob fails tasks left running by a worker that died before its
// guard could.
func NewStaleTaskJob(params StaleTaskJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reaper == nil {
		return nil, fmt.Errorf("task reaper required")
	}
	return &staleTaskJob{logg: params.Logger, reaper: params.Reaper}, nil
}

type staleTaskJob struct {
	logg   *logger.Logger
	reaper taskReaper
}

func (j *staleTaskJob) Name() string { return "stale-task-reaper" }

func (j *staleTaskJob) Run(ctx context.Context) error {
	failed, err := j.reaper.Reap(ctx)
	logCtx := j.logg.WithField(ctx, "tasks_failed", failed)
	if err != nil {
		return fmt.Errorf("stale task reaper: %w", err)
	}
	j.logg.Info(logCtx, "stale task sweep complete")
	return nil
}
