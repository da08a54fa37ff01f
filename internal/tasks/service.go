package tasks

import (
	"context"
	"strings"

	"github.com/angelmondragon/highlightz-backend/pkg/db/models"
	"github.com/angelmondragon/highlightz-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/highlightz-backend/pkg/errors"
)

const maxPromptLength = 2000

// Service exposes task reads plus the task-creating and dispatch actions.
type Service interface {
	CreateForVideo(ctx context.Context, videoID int64, prompt *string) (*models.Task, error)
	Get(ctx context.Context, id int64) (*models.Task, error)
	ListByVideo(ctx context.Context, videoID int64) ([]models.Task, error)
	Dispatch(ctx context.Context, id int64) (*models.Task, error)
	ApplyCallback(ctx context.Context, id int64, in CallbackInput) (*models.Task, error)
}

type service struct {
	repo     Repository
	enqueuer Enqueuer
	callback *CallbackHandler
}

func NewService(repo Repository, enqueuer Enqueuer, callback *CallbackHandler) (Service, error) {
	switch {
	case repo == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "task repository required")
	case enqueuer == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "task enqueuer required")
	case callback == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "callback handler required")
	}
	return &service{repo: repo, enqueuer: enqueuer, callback: callback}, nil
}

// NormalizePrompt trims prompt and maps blank input to nil.
func NormalizePrompt(prompt *string) (*string, error) {
	if prompt == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*prompt)
	if trimmed == "" {
		return nil, nil
	}
	if len(trimmed) > maxPromptLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "prompt is too long")
	}
	return &trimmed, nil
}

// CreateForVideo starts a new processing run for an existing video. A
// previously failed task is never reset; retries create a new task.
func (s *service) CreateForVideo(ctx context.Context, videoID int64, prompt *string) (*models.Task, error) {
	if videoID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "video id required")
	}
	prompt, err := NormalizePrompt(prompt)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.FindVideo(ctx, videoID); err != nil {
		return nil, pkgerrors.Lookup(err, "video not found", "load video")
	}

	task, err := s.repo.Create(ctx, videoID, prompt)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create task")
	}
	s.enqueuer.Enqueue(ctx, task.ID)
	return task, nil
}

func (s *service) Get(ctx context.Context, id int64) (*models.Task, error) {
	task, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Lookup(err, "task not found", "load task")
	}
	return task, nil
}

func (s *service) ListByVideo(ctx context.Context, videoID int64) ([]models.Task, error) {
	if _, err := s.repo.FindVideo(ctx, videoID); err != nil {
		return nil, pkgerrors.Lookup(err, "video not found", "load video")
	}
	rows, err := s.repo.ListByVideo(ctx, videoID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list tasks")
	}
	return rows, nil
}

// Dispatch re-publishes a task that is still pending, e.g. after the broker
// was unavailable at creation time.
func (s *service) Dispatch(ctx context.Context, id int64) (*models.Task, error) {
	task, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status != enums.TaskStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only pending tasks can be dispatched").
			WithDetails(map[string]any{"status": task.Status})
	}
	if err := s.enqueuer.Publish(ctx, task.ID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "publish task")
	}
	return task, nil
}

func (s *service) ApplyCallback(ctx context.Context, id int64, in CallbackInput) (*models.Task, error) {
	return s.callback.Apply(ctx, id, in)
}
