package videos

import (
	"context"
	"time"

	"github.com/angelmondragon/highlightz-backend/pkg/db/models"
	"github.com/angelmondragon/highlightz-backend/pkg/enums"
	"github.com/angelmondragon/highlightz-backend/pkg/pagination"
	"gorm.io/gorm"
)

// Repository exposes persistence helpers for videos.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, video *models.Video) error
	FindByID(ctx context.Context, id int64) (*models.Video, error)
	List(ctx context.Context, params listVideosParams) ([]models.Video, *pagination.Cursor, error)
	HighlightCounts(ctx context.Context, videoIDs []int64) (map[int64]int64, error)
	AttachFile(ctx context.Context, id int64, file, title string) error
	HighlightFileKeys(ctx context.Context, videoID int64) ([]string, error)
	Delete(ctx context.Context, id int64) (bool, error)
	ListAbandonedDownloads(ctx context.Context, createdBefore time.Time, limit int) ([]models.Video, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a videos repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

type listVideosParams struct {
	Limit  int
	Cursor *pagination.Cursor
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, video *models.Video) error {
	return r.db.WithContext(ctx).Create(video).Error
}

func (r *repositoryImpl) FindByID(ctx context.Context, id int64) (*models.Video, error) {
	var video models.Video
	if err := r.db.WithContext(ctx).First(&video, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &video, nil
}

func (r *repositoryImpl) List(ctx context.Context, params listVideosParams) ([]models.Video, *pagination.Cursor, error) {
	var videos []models.Video
	err := r.db.WithContext(ctx).
		Scopes(pagination.After(params.Cursor)).
		Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&videos).Error
	if err != nil {
		return nil, nil, err
	}
	page, next := pagination.Trim(videos, params.Limit, func(v models.Video) pagination.Cursor {
		return pagination.Cursor{CreatedAt: v.CreatedAt, ID: v.ID}
	})
	return page, next, nil
}

func (r *repositoryImpl) HighlightCounts(ctx context.Context, videoIDs []int64) (map[int64]int64, error) {
	counts := make(map[int64]int64, len(videoIDs))
	if len(videoIDs) == 0 {
		return counts, nil
	}
	var rows []struct {
		VideoID int64
		Total   int64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.Highlight{}).
		Select("video_id, COUNT(*) AS total").
		Where("video_id IN ?", videoIDs).
		Group("video_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.VideoID] = row.Total
	}
	return counts, nil
}

// AttachFile records the stored object for a video fetched from its source
// URL. title is only applied when the video has none yet.
func (r *repositoryImpl) AttachFile(ctx context.Context, id int64, file, title string) error {
	tx := r.db.WithContext(ctx)
	if err := tx.Model(&models.Video{}).Where("id = ?", id).Update("file", file).Error; err != nil {
		return err
	}
	if title == "" {
		return nil
	}
	return tx.Model(&models.Video{}).Where("id = ? AND title = ''", id).Update("title", title).Error
}

func (r *repositoryImpl) HighlightFileKeys(ctx context.Context, videoID int64) ([]string, error) {
	var keys []string
	if err := r.db.WithContext(ctx).
		Model(&models.HighlightFile{}).
		Where("video_id = ?", videoID).
		Pluck("file", &keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

// Delete removes the video; tasks, highlights and highlight files cascade.
func (r *repositoryImpl) Delete(ctx context.Context, id int64) (bool, error) {
	result := r.db.WithContext(ctx).Delete(&models.Video{}, "id = ?", id)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListAbandonedDownloads finds videos whose source fetch never finished:
// still downloading, no stored file, created before the cutoff.
func (r *repositoryImpl) ListAbandonedDownloads(ctx context.Context, createdBefore time.Time, limit int) ([]models.Video, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.Video
	if err := r.db.WithContext(ctx).
		Where("status = ? AND file = '' AND created_at < ?", enums.VideoStatusDownloading, createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
