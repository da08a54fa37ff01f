package models

import "time"

type Highlight struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	VideoID     int64     `gorm:"column:video_id;not null"`
	EventType   string    `gorm:"column:event_type;size:32;not null"`
	StartTime   int       `gorm:"column:start_time;not null"`
	EndTime     int       `gorm:"column:end_time;not null"`
	Confidence  float64   `gorm:"column:confidence;not null"`
	Description string    `gorm:"column:description;not null;default:''"`
	IsCustom    bool      `gorm:"column:is_custom;not null;default:false"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Highlight) TableName() string { return "highlights" }
