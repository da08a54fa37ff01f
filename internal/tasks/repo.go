package tasks

import (
	"context"
	"time"

	"github.com/angelmondragon/highlightz-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/highlightz-backend/pkg/db/types"
	"github.com/angelmondragon/highlightz-backend/pkg/enums"
	"gorm.io/gorm"
)

// TerminalUpdate carries the columns written when a task leaves the
// pending/running states. Result is persisted only for success and
// ErrorMessage only for failed.
type TerminalUpdate struct {
	Status       enums.TaskStatus
	FinishedAt   time.Time
	Result       dbtypes.JSON
	ErrorMessage string
}

// Repository is the only write path for ml_tasks. Every state change is a
// field-scoped compare-and-set; there is no full-row save.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, videoID int64, prompt *string) (*models.Task, error)
	FindByID(ctx context.Context, id int64) (*models.Task, error)
	FindVideo(ctx context.Context, videoID int64) (*models.Video, error)
	ListByVideo(ctx context.Context, videoID int64) ([]models.Task, error)
	MarkRunning(ctx context.Context, id int64, at time.Time) (bool, error)
	Release(ctx context.Context, id int64) (bool, error)
	Finalize(ctx context.Context, id int64, update TerminalUpdate) (bool, error)
	FindStaleRunning(ctx context.Context, startedBefore time.Time, limit int) ([]models.Task, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the task store to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, videoID int64, prompt *string) (*models.Task, error) {
	task := &models.Task{
		VideoID: videoID,
		Status:  enums.TaskStatusPending,
		Prompt:  prompt,
	}
	if err := r.db.WithContext(ctx).
		Select("VideoID", "Status", "Prompt", "CreatedAt").
		Create(task).Error; err != nil {
		return nil, err
	}
	return task, nil
}

func (r *repository) FindByID(ctx context.Context, id int64) (*models.Task, error) {
	var task models.Task
	if err := r.db.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *repository) FindVideo(ctx context.Context, videoID int64) (*models.Video, error) {
	var video models.Video
	if err := r.db.WithContext(ctx).First(&video, "id = ?", videoID).Error; err != nil {
		return nil, err
	}
	return &video, nil
}

func (r *repository) ListByVideo(ctx context.Context, videoID int64) ([]models.Task, error) {
	var rows []models.Task
	if err := r.db.WithContext(ctx).
		Where("video_id = ?", videoID).
		Order("created_at DESC, id DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkRunning moves a pending task to running and stamps started_at. It
// reports false when the task was no longer pending. The owning video is
// advanced to processing unless it is already further along.
func (r *repository) MarkRunning(ctx context.Context, id int64, at time.Time) (bool, error) {
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task models.Task
		if err := tx.Select("id", "video_id").First(&task, "id = ?", id).Error; err != nil {
			return err
		}

		result := tx.Model(&models.Task{}).
			Where("id = ? AND status = ?", id, enums.TaskStatusPending).
			Updates(map[string]any{
				"status":     enums.TaskStatusRunning,
				"started_at": at,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			return nil
		}
		applied = true

		return advanceVideo(tx, task.VideoID, enums.VideoStatusProcessing)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// Finalize writes a terminal state if the task is still pending or running.
// When the write applies, the owning video is marked processed in the same
// transaction.
func (r *repository) Finalize(ctx context.Context, id int64, update TerminalUpdate) (bool, error) {
	columns := map[string]any{
		"status":      update.Status,
		"finished_at": update.FinishedAt,
	}
	switch update.Status {
	case enums.TaskStatusSuccess:
		columns["result"] = update.Result
	case enums.TaskStatusFailed:
		columns["error_message"] = update.ErrorMessage
	}

	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task models.Task
		if err := tx.Select("id", "video_id").First(&task, "id = ?", id).Error; err != nil {
			return err
		}

		result := tx.Model(&models.Task{}).
			Where("id = ? AND status IN ?", id, enums.NonTerminalTaskStatuses).
			Updates(columns)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			return nil
		}
		applied = true

		return advanceVideo(tx, task.VideoID, enums.VideoStatusProcessed)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// Release moves a running task back to pending and clears started_at. The
// video keeps its status.
func (r *repository) Release(ctx context.Context, id int64) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ? AND status = ?", id, enums.TaskStatusRunning).
		Updates(map[string]any{
			"status":     enums.TaskStatusPending,
			"started_at": nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// FindStaleRunning lists running tasks whose started_at predates the cutoff.
func (r *repository) FindStaleRunning(ctx context.Context, startedBefore time.Time, limit int) ([]models.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.Task
	if err := r.db.WithContext(ctx).
		Where("status = ? AND started_at < ?", enums.TaskStatusRunning, startedBefore).
		Order("started_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// advanceVideo moves a video forward to status; it never moves it back.
func advanceVideo(tx *gorm.DB, videoID int64, status enums.VideoStatus) error {
	earlier := enums.EarlierVideoStatuses(status)
	if len(earlier) == 0 {
		return nil
	}
	return tx.Model(&models.Video{}).
		Where("id = ? AND status IN ?", videoID, earlier).
		Update("status", status).Error
}
