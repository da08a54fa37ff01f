package videos

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/highlightz-backend/internal/tasks"
	"github.com/angelmondragon/highlightz-backend/pkg/db/models"
	"github.com/angelmondragon/highlightz-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/highlightz-backend/pkg/errors"
	"github.com/angelmondragon/highlightz-backend/pkg/logger"
	"github.com/angelmondragon/highlightz-backend/pkg/pagination"
	"github.com/angelmondragon/highlightz-backend/pkg/storage"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

const sniffBytes = 3072

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service exposes the video workflows.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*CreateResult, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
	Get(ctx context.Context, id int64) (*VideoView, error)
	Status(ctx context.Context, id int64) (*StatusView, error)
	Delete(ctx context.Context, id int64) error
}

// Upload is a file received with the create request.
type Upload struct {
	Filename string
	Size     int64
	Body     io.Reader
}

// CreateInput carries exactly one of Upload or SourceURL.
type CreateInput struct {
	Title     string
	SourceURL string
	Prompt    *string
	Upload    *Upload
}

type CreateResult struct {
	Video VideoView `json:"video"`
	Task  TaskView  `json:"task"`
}

type TaskView struct {
	ID     int64            `json:"id"`
	Status enums.TaskStatus `json:"status"`
}

// VideoView is the public representation of a video.
type VideoView struct {
	ID              int64             `json:"id"`
	Title           string            `json:"title"`
	File            *string           `json:"file"`
	SourceURL       *string           `json:"source_url"`
	Status          enums.VideoStatus `json:"status"`
	Duration        *float64          `json:"duration"`
	HighlightsCount int64             `json:"highlights_count"`
	CreatedAt       time.Time         `json:"created_at"`
}

type StatusView struct {
	ID     int64             `json:"id"`
	Status enums.VideoStatus `json:"status"`
}

type ListParams struct {
	Limit  int
	Cursor string
}

type ListResult struct {
	Items  []VideoView `json:"items"`
	Cursor string      `json:"cursor"`
}

type ServiceParams struct {
	Tx         txRunner
	Repo       Repository
	Tasks      tasks.Repository
	Dispatcher tasks.Enqueuer
	Store      storage.ObjectStore
	Fetcher    Fetcher
	Logger     *logger.Logger
	MaxUpload  int64
}

type service struct {
	tx         txRunner
	repo       Repository
	tasks      tasks.Repository
	dispatcher tasks.Enqueuer
	store      storage.ObjectStore
	fetcher    Fetcher
	logg       *logger.Logger
	maxUpload  int64
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Tx == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	case params.Repo == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "videos repository required")
	case params.Tasks == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "tasks repository required")
	case params.Dispatcher == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "task dispatcher required")
	case params.Store == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "object store required")
	case params.Fetcher == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "video fetcher required")
	case params.Logger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &service{
		tx:         params.Tx,
		repo:       params.Repo,
		tasks:      params.Tasks,
		dispatcher: params.Dispatcher,
		store:      params.Store,
		fetcher:    params.Fetcher,
		logg:       params.Logger,
		maxUpload:  params.MaxUpload,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*CreateResult, error) {
	sourceURL := strings.TrimSpace(input.SourceURL)
	hasUpload := input.Upload != nil && input.Upload.Body != nil
	switch {
	case hasUpload && sourceURL != "":
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provide either file or source_url, not both")
	case !hasUpload && sourceURL == "":
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "file or source_url is required")
	}
	if sourceURL != "" {
		if err := validateSourceURL(sourceURL); err != nil {
			return nil, err
		}
	}
	prompt, err := tasks.NormalizePrompt(input.Prompt)
	if err != nil {
		return nil, err
	}
	title := truncate(strings.TrimSpace(input.Title), maxTitleLength)

	if hasUpload {
		return s.createFromUpload(ctx, title, prompt, input.Upload)
	}
	return s.createFromURL(ctx, title, sourceURL, prompt)
}

func (s *service) createFromUpload(ctx context.Context, title string, prompt *string, upload *Upload) (*CreateResult, error) {
	if s.maxUpload > 0 && upload.Size > s.maxUpload {
		return nil, pkgerrors.Newf(pkgerrors.CodePayloadTooLarge, "file exceeds %d bytes", s.maxUpload)
	}

	body, contentType, err := sniffUpload(upload.Body)
	if err != nil {
		return nil, err
	}

	key := objectKey(upload.Filename)
	if err := s.store.Put(ctx, key, body, upload.Size, contentType); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store video")
	}

	if title == "" {
		title = DefaultTitle(upload.Filename)
	}
	video := &models.Video{
		Title:  title,
		File:   key,
		Status: enums.VideoStatusNotProcessed,
	}

	var task *models.Task
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, video); err != nil {
			return err
		}
		created, err := s.tasks.WithTx(tx).Create(ctx, video.ID, prompt)
		if err != nil {
			return err
		}
		task = created
		return nil
	})
	if err != nil {
		s.discardObject(ctx, key)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create video")
	}

	s.dispatcher.Enqueue(ctx, task.ID)
	return s.createResult(video, task), nil
}

// createFromURL records the video as downloading, fetches and stores the
// source, then attaches the file and creates the task. A source that cannot
// be fetched leaves no video behind.
func (s *service) createFromURL(ctx context.Context, title, sourceURL string, prompt *string) (*CreateResult, error) {
	video := &models.Video{
		Title:     title,
		SourceURL: &sourceURL,
		Status:    enums.VideoStatusDownloading,
	}
	if err := s.repo.Create(ctx, video); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create video")
	}
	ctx = s.logg.WithVideoID(ctx, video.ID)

	key, name, err := s.fetchAndStore(ctx, sourceURL)
	if err != nil {
		if _, delErr := s.repo.Delete(context.WithoutCancel(ctx), video.ID); delErr != nil {
			s.logg.Error(ctx, "remove video after failed fetch", delErr)
		}
		return nil, err
	}

	if title == "" {
		title = DefaultTitle(name)
		video.Title = title
	}
	video.File = key

	var task *models.Task
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).AttachFile(ctx, video.ID, key, title); err != nil {
			return err
		}
		created, err := s.tasks.WithTx(tx).Create(ctx, video.ID, prompt)
		if err != nil {
			return err
		}
		task = created
		return nil
	})
	if err != nil {
		s.discardObject(ctx, key)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "attach video file")
	}

	s.dispatcher.Enqueue(ctx, task.ID)
	return s.createResult(video, task), nil
}

func (s *service) fetchAndStore(ctx context.Context, sourceURL string) (string, string, error) {
	fetched, err := s.fetcher.Fetch(ctx, sourceURL)
	if err != nil {
		switch {
		case errors.Is(err, ErrResourceNotFound):
			return "", "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "source_url could not be found")
		case errors.Is(err, ErrNotAVideo):
			return "", "", pkgerrors.Wrap(pkgerrors.CodeUnsupportedMedia, err, "source_url is not a video")
		case errors.Is(err, ErrTooLarge):
			return "", "", pkgerrors.Wrap(pkgerrors.CodePayloadTooLarge, err, "source_url exceeds download limit")
		}
		return "", "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch source_url")
	}
	defer func() {
		if err := fetched.Cleanup(); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "remove fetched temp file failed")
		}
	}()

	f, err := fetched.Open()
	if err != nil {
		return "", "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "open fetched file")
	}
	defer f.Close()

	key := objectKey(fetched.Name)
	if err := s.store.Put(ctx, key, f, fetched.Size, fetched.ContentType); err != nil {
		return "", "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store video")
	}
	return key, fetched.Name, nil
}

func (s *service) createResult(video *models.Video, task *models.Task) *CreateResult {
	return &CreateResult{
		Video: s.view(*video, 0),
		Task:  TaskView{ID: task.ID, Status: task.Status},
	}
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	query := listVideosParams{Limit: params.Limit}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list videos")
	}

	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	counts, err := s.repo.HighlightCounts(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count highlights")
	}

	items := make([]VideoView, 0, len(rows))
	for _, row := range rows {
		items = append(items, s.view(row, counts[row.ID]))
	}
	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}
	return &ListResult{Items: items, Cursor: cursor}, nil
}

func (s *service) Get(ctx context.Context, id int64) (*VideoView, error) {
	video, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	counts, err := s.repo.HighlightCounts(ctx, []int64{id})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count highlights")
	}
	view := s.view(*video, counts[id])
	return &view, nil
}

func (s *service) Status(ctx context.Context, id int64) (*StatusView, error) {
	video, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	return &StatusView{ID: video.ID, Status: video.Status}, nil
}

// Delete removes the video and its dependents, then its stored objects.
// Object cleanup failures are logged; the rows are already gone.
func (s *service) Delete(ctx context.Context, id int64) error {
	video, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	clipKeys, err := s.repo.HighlightFileKeys(ctx, id)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list highlight files")
	}
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete video")
	}
	if !deleted {
		return pkgerrors.New(pkgerrors.CodeNotFound, "video not found")
	}

	keys := clipKeys
	if video.HasFile() {
		keys = append(keys, video.File)
	}
	var errs error
	for _, key := range keys {
		errs = multierr.Append(errs, s.store.Delete(ctx, key))
	}
	if errs != nil {
		s.logg.Error(s.logg.WithVideoID(ctx, id), "remove video objects", errs)
	}
	return nil
}

func (s *service) find(ctx context.Context, id int64) (*models.Video, error) {
	video, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Lookup(err, "video not found", "load video")
	}
	return video, nil
}

func (s *service) view(video models.Video, highlights int64) VideoView {
	var file *string
	if video.HasFile() {
		u := s.store.PublicURL(video.File)
		file = &u
	}
	return VideoView{
		ID:              video.ID,
		Title:           video.Title,
		File:            file,
		SourceURL:       video.SourceURL,
		Status:          video.Status,
		Duration:        video.Duration,
		HighlightsCount: highlights,
		CreatedAt:       video.CreatedAt,
	}
}

func (s *service) discardObject(ctx context.Context, key string) {
	if err := s.store.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.logg.Error(s.logg.WithField(ctx, "key", key), "remove orphaned object", err)
	}
}

func validateSourceURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "source_url must be an http(s) url")
	}
	return nil
}

// sniffUpload checks the leading bytes of body and returns a reader that
// replays them.
func sniffUpload(body io.Reader) (io.Reader, string, error) {
	head := make([]byte, sniffBytes)
	n, err := io.ReadFull(body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read upload")
	}
	if n == 0 {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "file is empty")
	}
	head = head[:n]
	mt := mimetype.Detect(head)
	if !isVideoMIME(mt) {
		return nil, "", pkgerrors.New(pkgerrors.CodeUnsupportedMedia, "file is not a video").
			WithDetails(map[string]any{"detected": mt.String()})
	}
	return io.MultiReader(bytes.NewReader(head), body), mt.String(), nil
}
