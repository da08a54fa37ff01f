package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/highlightz-backend/pkg/db/models"
	"github.com/angelmondragon/highlightz-backend/pkg/logger"
	"go.uber.org/multierr"
)

const (
	defaultDownloadRetention = 30 * time.Minute
	abandonedDownloadBatch   = 100
)

type AbandonedDownloadJobParams struct {
	Logger    *logger.Logger
	Videos    abandonedDownloadRepo
	Retention time.Duration
}

type abandonedDownloadRepo interface {
	ListAbandonedDownloads(ctx context.Context, createdBefore time.Time, limit int) ([]models.Video, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

// NewAbandonedDownloadJob removes videos whose source fetch was interrupted,
// e.g. by an API restart mid-download. Retention should exceed the fetch
// timeout so in-flight downloads are never touched.
func NewAbandonedDownloadJob(params AbandonedDownloadJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Videos == nil {
		return nil, fmt.Errorf("videos repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultDownloadRetention
	}
	return &abandonedDownloadJob{
		logg:      params.Logger,
		videos:    params.Videos,
		retention: retention,
		now:       time.Now,
	}, nil
}

type abandonedDownloadJob struct {
	logg      *logger.Logger
	videos    abandonedDownloadRepo
	retention time.Duration
	now       func() time.Time
}

func (j *abandonedDownloadJob) Name() string { return "abandoned-download-cleanup" }

func (j *abandonedDownloadJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	rows, err := j.videos.ListAbandonedDownloads(ctx, cutoff, abandonedDownloadBatch)
	if err != nil {
		return fmt.Errorf("query abandoned downloads: %w", err)
	}

	var (
		deleted int
		errs    error
	)
	for _, row := range rows {
		ok, err := j.videos.Delete(ctx, row.ID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("delete video %d: %w", row.ID, err))
			continue
		}
		if ok {
			deleted++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"candidates":     len(rows),
		"videos_deleted": deleted,
	})
	if errs != nil {
		return fmt.Errorf("abandoned download cleanup: %w", errs)
	}
	j.logg.Info(logCtx, "abandoned download cleanup complete")
	return nil
}
