package writer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/angelmondragon/highlightz-backend/internal/analytics/types"
	"github.com/angelmondragon/highlightz-backend/internal/tasks"
	"github.com/angelmondragon/highlightz-backend/pkg/enums"
	"github.com/sethvargo/go-retry"
)

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaximumBackoff = 2 * time.Second
	defaultInsertTimeout  = 15 * time.Second
)

// Config controls the outcome writer behavior.
type Config struct {
	Table         string
	InsertTimeout time.Duration
	RetryPolicy   RetryPolicy
}

// RetryPolicy controls how many times BigQuery inserts are retried.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// OutcomeWriter streams task outcomes into BigQuery with retries. It is safe
// for concurrent use.
type OutcomeWriter struct {
	client  tableInserter
	table   string
	timeout time.Duration
	retry   RetryPolicy
}

var _ tasks.OutcomeRecorder = (*OutcomeWriter)(nil)

// New creates an OutcomeWriter backed by a shared client.
func New(client tableInserter, cfg Config) (*OutcomeWriter, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	table := strings.TrimSpace(cfg.Table)
	if table == "" {
		return nil, errors.New("task outcomes table is required")
	}

	timeout := cfg.InsertTimeout
	if timeout <= 0 {
		timeout = defaultInsertTimeout
	}

	retry := cfg.RetryPolicy
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = defaultMaxAttempts
	}
	if retry.InitialBackoff <= 0 {
		retry.InitialBackoff = defaultInitialBackoff
	}
	if retry.MaximumBackoff <= 0 {
		retry.MaximumBackoff = defaultMaximumBackoff
	}
	if retry.MaximumBackoff < retry.InitialBackoff {
		retry.MaximumBackoff = retry.InitialBackoff
	}

	return &OutcomeWriter{
		client:  client,
		table:   table,
		timeout: timeout,
		retry:   retry,
	}, nil
}

// RecordOutcome writes one row for a task that reached a terminal state.
func (w *OutcomeWriter) RecordOutcome(ctx context.Context, event tasks.OutcomeEvent) error {
	row := OutcomeRow(event)
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	saver := &cbigquery.StructSaver{Struct: &row, InsertID: row.InsertID()}
	return w.insertWithRetry(ctx, w.table, []any{saver})
}

// OutcomeRow converts a terminal transition into its BigQuery row.
func OutcomeRow(event tasks.OutcomeEvent) types.TaskOutcomeRow {
	row := types.TaskOutcomeRow{
		TaskID:     event.TaskID,
		VideoID:    event.VideoID,
		Status:     string(event.Status),
		Source:     string(event.Source),
		IsCustom:   event.Custom,
		CreatedAt:  event.CreatedAt.UTC(),
		FinishedAt: event.FinishedAt.UTC(),
	}
	if event.Status == enums.TaskStatusFailed && event.ErrorMessage != "" {
		row.ErrorMessage = cbigquery.NullString{StringVal: event.ErrorMessage, Valid: true}
	}
	if event.StartedAt != nil && !event.StartedAt.IsZero() {
		started := event.StartedAt.UTC()
		row.StartedAt = cbigquery.NullTimestamp{Timestamp: started, Valid: true}
		if !event.CreatedAt.IsZero() {
			row.QueueSeconds = cbigquery.NullFloat64{Float64: started.Sub(event.CreatedAt).Seconds(), Valid: true}
		}
		row.RunSeconds = cbigquery.NullFloat64{Float64: event.FinishedAt.Sub(started).Seconds(), Valid: true}
	}
	return row
}

func (w *OutcomeWriter) insertWithRetry(ctx context.Context, table string, rows []any) error {
	if len(rows) == 0 {
		return nil
	}
	err := retry.Do(ctx, w.retry.backoff(), func(ctx context.Context) error {
		err := w.client.InsertRows(ctx, table, rows)
		if err != nil && retryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("insert %s rows: %w", table, err)
	}
	return err
}
