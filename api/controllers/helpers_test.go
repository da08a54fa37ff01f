package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/highlightz-backend/internal/highlights"
	"github.com/angelmondragon/highlightz-backend/internal/tasks"
	"github.com/angelmondragon/highlightz-backend/internal/videos"
	"github.com/angelmondragon/highlightz-backend/pkg/db/models"
	"github.com/angelmondragon/highlightz-backend/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "controllers-test", Output: io.Discard})
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

func decodeData(t *testing.T, body io.Reader, dest any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(body).Decode(&envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if err := json.Unmarshal(envelope.Data, dest); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func errorCode(t *testing.T, body io.Reader) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(body).Decode(&envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	return envelope.Error.Code
}

type stubVideosService struct {
	createFn func(ctx context.Context, input videos.CreateInput) (*videos.CreateResult, error)
	listFn   func(ctx context.Context, params videos.ListParams) (*videos.ListResult, error)
	getFn    func(ctx context.Context, id int64) (*videos.VideoView, error)
	statusFn func(ctx context.Context, id int64) (*videos.StatusView, error)
	deleteFn func(ctx context.Context, id int64) error
}

func (s *stubVideosService) Create(ctx context.Context, input videos.CreateInput) (*videos.CreateResult, error) {
	return s.createFn(ctx, input)
}

func (s *stubVideosService) List(ctx context.Context, params videos.ListParams) (*videos.ListResult, error) {
	return s.listFn(ctx, params)
}

func (s *stubVideosService) Get(ctx context.Context, id int64) (*videos.VideoView, error) {
	return s.getFn(ctx, id)
}

func (s *stubVideosService) Status(ctx context.Context, id int64) (*videos.StatusView, error) {
	return s.statusFn(ctx, id)
}

func (s *stubVideosService) Delete(ctx context.Context, id int64) error {
	return s.deleteFn(ctx, id)
}

type stubTasksService struct {
	createFn   func(ctx context.Context, videoID int64, prompt *string) (*models.Task, error)
	getFn      func(ctx context.Context, id int64) (*models.Task, error)
	listFn     func(ctx context.Context, videoID int64) ([]models.Task, error)
	dispatchFn func(ctx context.Context, id int64) (*models.Task, error)
	callbackFn func(ctx context.Context, id int64, in tasks.CallbackInput) (*models.Task, error)
}

func (s *stubTasksService) CreateForVideo(ctx context.Context, videoID int64, prompt *string) (*models.Task, error) {
	return s.createFn(ctx, videoID, prompt)
}

func (s *stubTasksService) Get(ctx context.Context, id int64) (*models.Task, error) {
	return s.getFn(ctx, id)
}

func (s *stubTasksService) ListByVideo(ctx context.Context, videoID int64) ([]models.Task, error) {
	return s.listFn(ctx, videoID)
}

func (s *stubTasksService) Dispatch(ctx context.Context, id int64) (*models.Task, error) {
	return s.dispatchFn(ctx, id)
}

func (s *stubTasksService) ApplyCallback(ctx context.Context, id int64, in tasks.CallbackInput) (*models.Task, error) {
	return s.callbackFn(ctx, id, in)
}

type stubHighlightsService struct {
	bulkFn      func(ctx context.Context, items []highlights.BulkItem) ([]highlights.HighlightView, error)
	listFn      func(ctx context.Context, params highlights.ListParams) ([]highlights.HighlightView, error)
	uploadFn    func(ctx context.Context, taskID int64, paths []string) ([]highlights.FileView, error)
	listFilesFn func(ctx context.Context, videoID int64) ([]highlights.FileView, error)
}

func (s *stubHighlightsService) BulkCreate(ctx context.Context, items []highlights.BulkItem) ([]highlights.HighlightView, error) {
	return s.bulkFn(ctx, items)
}

func (s *stubHighlightsService) List(ctx context.Context, params highlights.ListParams) ([]highlights.HighlightView, error) {
	return s.listFn(ctx, params)
}

func (s *stubHighlightsService) UploadFiles(ctx context.Context, taskID int64, paths []string) ([]highlights.FileView, error) {
	return s.uploadFn(ctx, taskID, paths)
}

func (s *stubHighlightsService) ListFiles(ctx context.Context, videoID int64) ([]highlights.FileView, error) {
	return s.listFilesFn(ctx, videoID)
}
