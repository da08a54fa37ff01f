package models

import (
	"time"

	"github.com/angelmondragon/highlightz-backend/pkg/enums"
)

// Video is a submitted clip and its ingestion state.
type Video struct {
	ID        int64             `gorm:"column:id;primaryKey;autoIncrement"`
	Title     string            `gorm:"column:title;not null;default:''"`
	File      string            `gorm:"column:file;not null;default:''"`
	SourceURL *string           `gorm:"column:source_url"`
	Status    enums.VideoStatus `gorm:"column:status;not null;default:not_processed"`
	Duration  *float64          `gorm:"column:duration"`
	CreatedAt time.Time         `gorm:"column:created_at;autoCreateTime"`
}

func (Video) TableName() string { return "videos" }

// HasFile reports whether the video has a stored object.
func (v Video) HasFile() bool {
	return v.File != ""
}
