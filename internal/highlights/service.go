package highlights

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/angelmondragon/highlightz-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/highlightz-backend/pkg/errors"
	"github.com/angelmondragon/highlightz-backend/pkg/logger"
	"github.com/angelmondragon/highlightz-backend/pkg/pagination"
	"github.com/angelmondragon/highlightz-backend/pkg/storage"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const maxBulkItems = 1000

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// BulkItem is one highlight reported by the ML service. The time range is
// sent as a start and a duration.
type BulkItem struct {
	TaskID       FlexID     `json:"task_id" validate:"gt=0"`
	EventType    string     `json:"event_type" validate:"required,max=32"`
	TimeStart    *FlexInt   `json:"time_start" validate:"required,min=0,max=2147483647"`
	TimeDuration *FlexInt   `json:"time_duration" validate:"required,min=0,max=2147483647"`
	Confidence   *FlexFloat `json:"confidence" validate:"required"`
	Description  string     `json:"description"`
}

type HighlightView struct {
	ID          int64     `json:"id"`
	VideoID     int64     `json:"video"`
	EventType   string    `json:"event_type"`
	StartTime   int       `json:"start_time"`
	EndTime     int       `json:"end_time"`
	Confidence  float64   `json:"confidence"`
	Description string    `json:"description"`
	IsCustom    bool      `json:"is_custom"`
	CreatedAt   time.Time `json:"created_at"`
}

type FileView struct {
	ID        int64     `json:"id"`
	VideoID   int64     `json:"video"`
	File      string    `json:"file"`
	CreatedAt time.Time `json:"created_at"`
}

type ListParams struct {
	VideoID *int64
	Limit   int
}

// Service ingests and serves highlights and their clip files.
type Service interface {
	BulkCreate(ctx context.Context, items []BulkItem) ([]HighlightView, error)
	List(ctx context.Context, params ListParams) ([]HighlightView, error)
	UploadFiles(ctx context.Context, taskID int64, paths []string) ([]FileView, error)
	ListFiles(ctx context.Context, videoID int64) ([]FileView, error)
}

type ServiceParams struct {
	Tx        txRunner
	Repo      Repository
	Store     storage.ObjectStore
	MediaRoot string
	Logger    *logger.Logger
}

type service struct {
	tx        txRunner
	repo      Repository
	store     storage.ObjectStore
	mediaRoot string
	logg      *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Tx == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	case params.Repo == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "highlights repository required")
	case params.Store == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "object store required")
	case params.Logger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &service{
		tx:        params.Tx,
		repo:      params.Repo,
		store:     params.Store,
		mediaRoot: params.MediaRoot,
		logg:      params.Logger,
	}, nil
}

// BulkCreate stores every item or none. Each highlight is attached to its
// task's video and inherits is_custom from whether the task had a prompt.
func (s *service) BulkCreate(ctx context.Context, items []BulkItem) ([]HighlightView, error) {
	if len(items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one highlight is required")
	}
	if len(items) > maxBulkItems {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "at most %d highlights per request", maxBulkItems)
	}

	details := map[string]string{}
	taskIDs := make([]int64, 0, len(items))
	seen := map[int64]struct{}{}
	for i := range items {
		items[i].EventType = strings.TrimSpace(items[i].EventType)
		if err := validate.Struct(items[i]); err != nil {
			var verrs validator.ValidationErrors
			if !errors.As(err, &verrs) {
				return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
			}
			for _, fe := range verrs {
				details[fmt.Sprintf("%d.%s", i, fe.Field())] = validationMessage(fe)
			}
			continue
		}
		if int64(*items[i].TimeStart)+int64(*items[i].TimeDuration) > math.MaxInt32 {
			details[fmt.Sprintf("%d.time_duration", i)] = fmt.Sprintf("end time must be at most %d", math.MaxInt32)
			continue
		}
		id := int64(items[i].TaskID)
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			taskIDs = append(taskIDs, id)
		}
	}
	if len(details) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
	}

	taskByID, err := s.repo.FindTasks(ctx, taskIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load tasks")
	}
	for i, item := range items {
		if _, ok := taskByID[int64(item.TaskID)]; !ok {
			details[fmt.Sprintf("%d.task_id", i)] = "task not found"
		}
	}
	if len(details) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
	}

	rows := make([]models.Highlight, 0, len(items))
	for _, item := range items {
		task := taskByID[int64(item.TaskID)]
		start := int(*item.TimeStart)
		rows = append(rows, models.Highlight{
			VideoID:     task.VideoID,
			EventType:   item.EventType,
			StartTime:   start,
			EndTime:     start + int(*item.TimeDuration),
			Confidence:  float64(*item.Confidence),
			Description: item.Description,
			IsCustom:    task.IsCustom(),
		})
	}

	if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).CreateBatch(ctx, rows)
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store highlights")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"count":    len(rows),
		"task_ids": taskIDs,
	})
	s.logg.Info(logCtx, "highlights ingested")

	out := make([]HighlightView, 0, len(rows))
	for _, row := range rows {
		out = append(out, highlightView(row))
	}
	return out, nil
}

func (s *service) List(ctx context.Context, params ListParams) ([]HighlightView, error) {
	limit := 0
	if params.VideoID == nil {
		limit = pagination.NormalizeLimit(params.Limit)
	}
	rows, err := s.repo.List(ctx, params.VideoID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list highlights")
	}
	out := make([]HighlightView, 0, len(rows))
	for _, row := range rows {
		out = append(out, highlightView(row))
	}
	return out, nil
}

func (s *service) ListFiles(ctx context.Context, videoID int64) ([]FileView, error) {
	rows, err := s.repo.ListFiles(ctx, videoID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list highlight files")
	}
	out := make([]FileView, 0, len(rows))
	for _, row := range rows {
		out = append(out, s.fileView(row))
	}
	return out, nil
}

func (s *service) fileView(row models.HighlightFile) FileView {
	return FileView{
		ID:        row.ID,
		VideoID:   row.VideoID,
		File:      s.store.PublicURL(row.File),
		CreatedAt: row.CreatedAt,
	}
}

func highlightView(row models.Highlight) HighlightView {
	return HighlightView{
		ID:          row.ID,
		VideoID:     row.VideoID,
		EventType:   row.EventType,
		StartTime:   row.StartTime,
		EndTime:     row.EndTime,
		Confidence:  row.Confidence,
		Description: row.Description,
		IsCustom:    row.IsCustom,
		CreatedAt:   row.CreatedAt,
	}
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return "must be a positive id"
	}
	return "is invalid"
}
