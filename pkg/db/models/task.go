package models

import (
	"time"

	dbtypes "github.com/angelmondragon/highlightz-backend/pkg/db/types"
	"github.com/angelmondragon/highlightz-backend/pkg/enums"
)

// Task is one ML processing request against a video.
type Task struct {
	ID           int64            `gorm:"column:id;primaryKey;autoIncrement"`
	VideoID      int64            `gorm:"column:video_id;not null"`
	Status       enums.TaskStatus `gorm:"column:status;not null;default:pending"`
	CreatedAt    time.Time        `gorm:"column:created_at;autoCreateTime"`
	StartedAt    *time.Time       `gorm:"column:started_at"`
	FinishedAt   *time.Time       `gorm:"column:finished_at"`
	Result       dbtypes.JSON     `gorm:"column:result;type:jsonb"`
	ErrorMessage string           `gorm:"column:error_message;not null;default:''"`
	Prompt       *string          `gorm:"column:prompt"`
}

func (Task) TableName() string { return "ml_tasks" }

// IsCustom reports whether the task carries a user-supplied prompt.
func (t Task) IsCustom() bool {
	return t.Prompt != nil && *t.Prompt != ""
}
