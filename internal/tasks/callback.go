package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/angelmondragon/highlightz-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/highlightz-backend/pkg/db/types"
	"github.com/angelmondragon/highlightz-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/highlightz-backend/pkg/errors"
	"github.com/angelmondragon/highlightz-backend/pkg/logger"
)

const callbackFailureMessage = "failed by status callback"

// CallbackInput is a status push from the ML service.
type CallbackInput struct {
	Status       string          `json:"status"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
}

// CallbackHandler applies inbound status pushes through the same
// compare-and-set path as the worker.
type CallbackHandler struct {
	repo      Repository
	finalizer *Finalizer
	logg      *logger.Logger
}

func NewCallbackHandler(repo Repository, finalizer *Finalizer, logg *logger.Logger) (*CallbackHandler, error) {
	switch {
	case repo == nil:
		return nil, errors.New("task repository required")
	case finalizer == nil:
		return nil, errors.New("finalizer required")
	case logg == nil:
		return nil, errors.New("logger required")
	}
	return &CallbackHandler{repo: repo, finalizer: finalizer, logg: logg}, nil
}

// Apply validates and applies a status push, returning the task as persisted
// after the call. Terminal tasks are returned unchanged. A running push is
// accepted but writes nothing; only the worker claims a task.
func (h *CallbackHandler) Apply(ctx context.Context, taskID int64, in CallbackInput) (*models.Task, error) {
	task, err := h.repo.FindByID(ctx, taskID)
	if err != nil {
		return nil, pkgerrors.Lookup(err, "task not found", "load task")
	}
	status, err := enums.ParseTaskStatus(strings.TrimSpace(in.Status))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status; allowed: running, success, failed")
	}
	if status == enums.TaskStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tasks cannot move back to pending")
	}
	var result dbtypes.JSON
	if status == enums.TaskStatusSuccess && len(in.Result) > 0 && string(in.Result) != "null" {
		if !json.Valid(in.Result) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "result must be valid json")
		}
		result = dbtypes.JSON(in.Result)
	}

	if task.Status.IsTerminal() || status == enums.TaskStatusRunning {
		return task, nil
	}

	switch status {
	case enums.TaskStatusSuccess:
		_, err = h.finalizer.Succeed(ctx, task, SourceCallback, result)
	case enums.TaskStatusFailed:
		message := callbackFailureMessage
		if in.ErrorMessage != nil && strings.TrimSpace(*in.ErrorMessage) != "" {
			message = *in.ErrorMessage
		}
		_, err = h.finalizer.Fail(ctx, task, SourceCallback, message)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update task status")
	}

	current, err := h.repo.FindByID(ctx, taskID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload task")
	}
	return current, nil
}
