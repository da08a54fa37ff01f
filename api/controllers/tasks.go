package controllers

import (
	"net/http"

	"github.com/angelmondragon/highlightz-backend/api/responses"
	"github.com/angelmondragon/highlightz-backend/api/validators"
	"github.com/angelmondragon/highlightz-backend/internal/tasks"
	"github.com/angelmondragon/highlightz-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/highlightz-backend/pkg/errors"
	"github.com/angelmondragon/highlightz-backend/pkg/logger"
)

type callbackResponse struct {
	ID     int64            `json:"id"`
	Status enums.TaskStatus `json:"status"`
}

func GetTask(svc tasks.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParsePathID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		task, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, tasks.NewView(*task))
	}
}

// ListVideoTasks returns every task of a video, newest first.
func ListVideoTasks(svc tasks.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParsePathID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.ListByVideo(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"items": tasks.NewViews(rows)})
	}
}

// DispatchTask republishes a pending task to the job queue.
func DispatchTask(svc tasks.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParsePathID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		task, err := svc.Dispatch(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, tasks.NewView(*task))
	}
}

// TaskStatusCallback receives status pushes from the ML service. It speaks
// the bare {id, status} / {error} format the ML service expects.
func TaskStatusCallback(svc tasks.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, err := validators.ParsePathID(r, "id")
		if err != nil {
			responses.WriteBareError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "task not found"))
			return
		}
		if logg != nil {
			ctx = logg.WithTaskID(ctx, id)
		}

		var in tasks.CallbackInput
		if err := validators.DecodeJSON(r, &in); err != nil {
			responses.WriteBareError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid JSON body"))
			return
		}

		task, err := svc.ApplyCallback(ctx, id, in)
		if err != nil {
			responses.WriteBareError(ctx, logg, w, err)
			return
		}
		responses.WriteJSON(w, http.StatusOK, callbackResponse{ID: task.ID, Status: task.Status})
	}
}
