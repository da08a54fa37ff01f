package tasks

import (
	"encoding/json"
	"time"

	"github.com/angelmondragon/highlightz-backend/pkg/db/models"
	"github.com/angelmondragon/highlightz-backend/pkg/enums"
)

// View is the public representation of a task.
type View struct {
	ID           int64            `json:"id"`
	VideoID      int64            `json:"video"`
	Status       enums.TaskStatus `json:"status"`
	Prompt       *string          `json:"prompt"`
	IsCustom     bool             `json:"is_custom"`
	Result       json.RawMessage  `json:"result"`
	ErrorMessage string           `json:"error_message"`
	CreatedAt    time.Time        `json:"created_at"`
	StartedAt    *time.Time       `json:"started_at"`
	FinishedAt   *time.Time       `json:"finished_at"`
}

func NewView(task models.Task) View {
	view := View{
		ID:           task.ID,
		VideoID:      task.VideoID,
		Status:       task.Status,
		Prompt:       task.Prompt,
		IsCustom:     task.IsCustom(),
		ErrorMessage: task.ErrorMessage,
		CreatedAt:    task.CreatedAt,
		StartedAt:    task.StartedAt,
		FinishedAt:   task.FinishedAt,
	}
	if len(task.Result) > 0 {
		view.Result = json.RawMessage(task.Result)
	}
	return view
}

func NewViews(rows []models.Task) []View {
	out := make([]View, 0, len(rows))
	for _, row := range rows {
		out = append(out, NewView(row))
	}
	return out
}
