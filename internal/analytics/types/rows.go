package types

import (
	"fmt"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// TaskOutcomeRow mirrors the task_outcomes BigQuery schema. One row is
// written per task when it reaches success or failed.
type TaskOutcomeRow struct {
	TaskID       int64                   `bigquery:"task_id"`
	VideoID      int64                   `bigquery:"video_id"`
	Status       string                  `bigquery:"status"`
	Source       string                  `bigquery:"source"`
	IsCustom     bool                    `bigquery:"is_custom"`
	ErrorMessage cbigquery.NullString    `bigquery:"error_message"`
	CreatedAt    time.Time               `bigquery:"created_at"`
	StartedAt    cbigquery.NullTimestamp `bigquery:"started_at"`
	FinishedAt   time.Time               `bigquery:"finished_at"`
	QueueSeconds cbigquery.NullFloat64   `bigquery:"queue_seconds"`
	RunSeconds   cbigquery.NullFloat64   `bigquery:"run_seconds"`
}

// InsertID deduplicates retried streaming inserts of the same outcome.
func (r TaskOutcomeRow) InsertID() string {
	return fmt.Sprintf("task-%d-%s", r.TaskID, r.Status)
}

// TaskOutcomeSchema derives the table schema from TaskOutcomeRow so the two
// cannot drift.
func TaskOutcomeSchema() (cbigquery.Schema, error) {
	return cbigquery.InferSchema(TaskOutcomeRow{})
}
