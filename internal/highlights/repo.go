package highlights

import (
	"context"

	"github.com/angelmondragon/highlightz-backend/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const insertBatchSize = 200

// Repository persists highlights and highlight clip files.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateBatch(ctx context.Context, rows []models.Highlight) error
	List(ctx context.Context, videoID *int64, limit int) ([]models.Highlight, error)
	FindTasks(ctx context.Context, ids []int64) (map[int64]models.Task, error)
	FindTask(ctx context.Context, id int64) (*models.Task, error)
	FindFile(ctx context.Context, videoID int64, key string) (*models.HighlightFile, error)
	CreateFile(ctx context.Context, file *models.HighlightFile) (bool, error)
	ListFiles(ctx context.Context, videoID int64) ([]models.HighlightFile, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateBatch(ctx context.Context, rows []models.Highlight) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(&rows, insertBatchSize).Error
}

// List returns highlights ordered by position in the video. A nil videoID
// lists across videos, newest first, capped at limit.
func (r *repository) List(ctx context.Context, videoID *int64, limit int) ([]models.Highlight, error) {
	query := r.db.WithContext(ctx).Model(&models.Highlight{})
	if videoID != nil {
		query = query.Where("video_id = ?", *videoID).Order("start_time ASC, id ASC")
	} else {
		query = query.Order("created_at DESC, id DESC")
		if limit > 0 {
			query = query.Limit(limit)
		}
	}
	var rows []models.Highlight
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) FindTasks(ctx context.Context, ids []int64) (map[int64]models.Task, error) {
	out := make(map[int64]models.Task, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Task
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

func (r *repository) FindTask(ctx context.Context, id int64) (*models.Task, error) {
	var task models.Task
	if err := r.db.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *repository) FindFile(ctx context.Context, videoID int64, key string) (*models.HighlightFile, error) {
	var file models.HighlightFile
	if err := r.db.WithContext(ctx).
		Where("video_id = ? AND file = ?", videoID, key).
		First(&file).Error; err != nil {
		return nil, err
	}
	return &file, nil
}

// CreateFile inserts the clip row and reports false when (video_id, file)
// already exists.
func (r *repository) CreateFile(ctx context.Context, file *models.HighlightFile) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(file)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) ListFiles(ctx context.Context, videoID int64) ([]models.HighlightFile, error) {
	var rows []models.HighlightFile
	if err := r.db.WithContext(ctx).
		Where("video_id = ?", videoID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
