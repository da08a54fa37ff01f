package controllers

import (
	"net/http"

	"github.com/angelmondragon/highlightz-backend/api/responses"
	"github.com/angelmondragon/highlightz-backend/api/validators"
	"github.com/angelmondragon/highlightz-backend/internal/highlights"
	pkgerrors "github.com/angelmondragon/highlightz-backend/pkg/errors"
	"github.com/angelmondragon/highlightz-backend/pkg/logger"
	"github.com/angelmondragon/highlightz-backend/pkg/pagination"
)

type uploadHighlightFilesRequest struct {
	TaskID int64    `json:"task_id" validate:"gt=0"`
	Paths  []string `json:"paths" validate:"required,min=1"`
}

// ListHighlights lists highlights, ordered by start time when filtered by
// video_id and newest first otherwise.
func ListHighlights(svc highlights.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		videoID, err := validators.ParseOptionalQueryID(r, "video_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.List(r.Context(), highlights.ListParams{VideoID: videoID, Limit: limit})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"items": rows})
	}
}

// BulkCreateHighlights ingests the highlights reported by the ML service.
// The batch is stored all-or-nothing.
func BulkCreateHighlights(svc highlights.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var items []highlights.BulkItem
		if err := validators.DecodeJSON(r, &items); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		created, err := svc.BulkCreate(r.Context(), items)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]any{
			"created": len(created),
			"items":   created,
		})
	}
}

// UploadHighlightFiles copies clip files written by the ML service to the
// shared media volume into object storage.
func UploadHighlightFiles(svc highlights.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req uploadHighlightFilesRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		files, err := svc.UploadFiles(r.Context(), req.TaskID, req.Paths)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]any{"items": files})
	}
}

func ListHighlightFiles(svc highlights.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		videoID, err := validators.ParseOptionalQueryID(r, "video_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if videoID == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "video_id is required").
				WithDetails(map[string]string{"video_id": "is required"}))
			return
		}
		files, err := svc.ListFiles(r.Context(), *videoID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"items": files})
	}
}
