package controllers

import (
	"errors"
	"mime"
	"net/http"
	"strings"

	"github.com/angelmondragon/highlightz-backend/api/responses"
	"github.com/angelmondragon/highlightz-backend/api/validators"
	"github.com/angelmondragon/highlightz-backend/internal/tasks"
	"github.com/angelmondragon/highlightz-backend/internal/videos"
	pkgerrors "github.com/angelmondragon/highlightz-backend/pkg/errors"
	"github.com/angelmondragon/highlightz-backend/pkg/logger"
	"github.com/angelmondragon/highlightz-backend/pkg/pagination"
)

const (
	multipartMemory   = 32 << 20
	multipartOverhead = 1 << 20
)

type createVideoRequest struct {
	Title     string  `json:"title" validate:"max=255"`
	SourceURL string  `json:"source_url" validate:"required"`
	Prompt    *string `json:"prompt"`
}

type createTaskRequest struct {
	Prompt *string `json:"prompt"`
}

// CreateVideo accepts a multipart upload in the "file" field, or a source_url
// as JSON or form data, and starts the first processing task.
func CreateVideo(svc videos.Service, maxUpload int64, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "videos service unavailable"))
			return
		}

		input, cleanup, err := parseCreateVideo(w, r, maxUpload)
		if cleanup != nil {
			defer cleanup()
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

func parseCreateVideo(w http.ResponseWriter, r *http.Request, maxUpload int64) (videos.CreateInput, func(), error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "multipart/form-data":
		if maxUpload > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxUpload+multipartOverhead)
		}
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return videos.CreateInput{}, nil, bodyError(err)
		}
		cleanup := func() { _ = r.MultipartForm.RemoveAll() }

		input := formInput(r)
		file, header, err := r.FormFile("file")
		switch {
		case err == nil:
			input.Upload = &videos.Upload{Filename: header.Filename, Size: header.Size, Body: file}
			cleanup = func() {
				_ = file.Close()
				_ = r.MultipartForm.RemoveAll()
			}
		case errors.Is(err, http.ErrMissingFile):
		default:
			return videos.CreateInput{}, cleanup, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid file field")
		}
		return input, cleanup, nil

	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return videos.CreateInput{}, nil, bodyError(err)
		}
		return formInput(r), nil, nil

	default:
		var req createVideoRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			return videos.CreateInput{}, nil, err
		}
		return videos.CreateInput{Title: req.Title, SourceURL: req.SourceURL, Prompt: req.Prompt}, nil, nil
	}
}

func formInput(r *http.Request) videos.CreateInput {
	input := videos.CreateInput{
		Title:     r.PostForm.Get("title"),
		SourceURL: r.PostForm.Get("source_url"),
	}
	if r.PostForm.Has("prompt") {
		prompt := r.PostForm.Get("prompt")
		input.Prompt = &prompt
	}
	return input
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return pkgerrors.Wrap(pkgerrors.CodePayloadTooLarge, err, "upload exceeds the size limit")
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body")
}

// ListVideos returns videos newest first with cursor pagination.
func ListVideos(svc videos.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params := videos.ListParams{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}

		resp, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, resp)
	}
}

func GetVideo(svc videos.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParsePathID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func GetVideoStatus(svc videos.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParsePathID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.Status(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// DeleteVideo removes the video, its tasks and highlights, and the stored
// objects.
func DeleteVideo(svc videos.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParsePathID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Delete(r.Context(), id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// CreateVideoTask starts another processing run on an existing video,
// optionally with a custom prompt.
func CreateVideoTask(svc tasks.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParsePathID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req createTaskRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		task, err := svc.CreateForVideo(r.Context(), id, req.Prompt)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, tasks.NewView(*task))
	}
}
