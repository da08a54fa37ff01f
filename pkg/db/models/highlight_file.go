package models

import "time"

// HighlightFile is a clip produced by the ML service for a video.
type HighlightFile struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	VideoID   int64     `gorm:"column:video_id;not null"`
	File      string    `gorm:"column:file;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (HighlightFile) TableName() string { return "highlight_files" }
