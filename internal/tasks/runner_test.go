package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/highlightz-backend/internal/mladapter"
	dbtypes "github.com/angelmondragon/highlightz-backend/pkg/db/types"
	"github.com/angelmondragon/highlightz-backend/pkg/enums"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestRunner_StartSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	video := f.seedVideo(t, "videos/match.mp4")
	task := f.seedTask(t, video.ID, strPtr("red cards"))

	classifier := &fakeClassifier{configured: true, result: okResult(t, map[string]any{"events": 2})}
	runner := f.newRunner(t, classifier)

	require.NoError(t, runner.Start(ctx, task.ID, map[string]any{"fps": 25}))

	require.Equal(t, 1, classifier.callCount())
	call := classifier.calls[0]
	assert.Equal(t, task.ID, call.TaskID)
	assert.Equal(t, "videos/match.mp4", call.VideoFilename)
	require.NotNil(t, call.Prompt)
	assert.Equal(t, "red cards", *call.Prompt)
	assert.Equal(t, 25, call.Extra["fps"])

	got := f.reload(t, task.ID)
	assert.Equal(t, enums.TaskStatusSuccess, got.Status)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.FinishedAt)
	assert.False(t, got.FinishedAt.Before(*got.StartedAt))
	assert.JSONEq(t, `{"events":2}`, string(got.Result))
	assert.Empty(t, got.ErrorMessage)
	assert.Equal(t, enums.VideoStatusProcessed, f.videoStatus(t, video.ID))

	events := f.outcomes.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, SourceWorker, events[0].Source)
	assert.True(t, events[0].Custom)
	assert.Equal(t, []int64{task.ID}, f.notifier.sent)
	assert.Equal(t, 1.0, f.counter(t, "highlightz_ml_adapter_calls_total", "outcome", "ok"))
}

func TestRunner_StartSkipsNonPending(t *testing.T) {
	ctx := context.Background()
	statuses := []enums.TaskStatus{
		enums.TaskStatusRunning,
		enums.TaskStatusSuccess,
		enums.TaskStatusFailed,
	}
	for _, status := range statuses {
		t.Run(status.String(), func(t *testing.T) {
			f := newFixture(t)
			video := f.seedVideo(t, "videos/a.mp4")
			task := f.seedTask(t, video.ID, nil)
			finished := time.Now().UTC().Truncate(time.Second)
			started := finished.Add(-time.Minute)
			require.NoError(t, f.db.Exec(
				"UPDATE ml_tasks SET status = ?, started_at = ?, finished_at = ?, error_message = ? WHERE id = ?",
				status, started, finishedFor(status, finished), "seeded", task.ID,
			).Error)
			before := f.reload(t, task.ID)

			classifier := &fakeClassifier{configured: true, result: okResult(t, map[string]any{})}
			runner := f.newRunner(t, classifier)
			require.NoError(t, runner.Start(ctx, task.ID, nil))

			assert.Zero(t, classifier.callCount())
			after := f.reload(t, task.ID)
			assert.Equal(t, before, after)
			assert.Empty(t, f.outcomes.snapshot())
		})
	}
}

func finishedFor(status enums.TaskStatus, at time.Time) any {
	if status.IsTerminal() {
		return at
	}
	return nil
}

func TestRunner_MissingFileFailsWithoutAdapterCall(t *testing.T) {
	f := newFixture(t)
	video := f.seedVideo(t, "")
	task := f.seedTask(t, video.ID, nil)

	classifier := &fakeClassifier{configured: true}
	runner := f.newRunner(t, classifier)
	require.NoError(t, runner.Start(context.Background(), task.ID, nil))

	assert.Zero(t, classifier.callCount())
	got := f.reload(t, task.ID)
	assert.Equal(t, enums.TaskStatusFailed, got.Status)
	assert.Equal(t, "video has no stored file", got.ErrorMessage)
	assert.NotNil(t, got.FinishedAt)
	assert.Empty(t, got.Result)
}

func TestRunner_UnconfiguredEndpointFails(t *testing.T) {
	f := newFixture(t)
	video := f.seedVideo(t, "videos/a.mp4")
	task := f.seedTask(t, video.ID, nil)

	classifier := &fakeClassifier{configured: false}
	runner := f.newRunner(t, classifier)
	require.NoError(t, runner.Start(context.Background(), task.ID, nil))

	assert.Zero(t, classifier.callCount())
	got := f.reload(t, task.ID)
	assert.Equal(t, enums.TaskStatusFailed, got.Status)
	assert.Equal(t, "ml api url is not configured", got.ErrorMessage)
}

func TestRunner_AdapterErrorRecordsMessage(t *testing.T) {
	f := newFixture(t)
	video := f.seedVideo(t, "videos/a.mp4")
	task := f.seedTask(t, video.ID, nil)

	classifier := &fakeClassifier{
		configured: true,
		result:     mladapter.Err(mladapter.KindHTTPStatus, "ml service returned 502: bad gateway"),
	}
	runner := f.newRunner(t, classifier)
	require.NoError(t, runner.Start(context.Background(), task.ID, nil))

	got := f.reload(t, task.ID)
	assert.Equal(t, enums.TaskStatusFailed, got.Status)
	assert.Equal(t, "ml service returned 502: bad gateway", got.ErrorMessage)
	assert.Equal(t, enums.VideoStatusProcessed, f.videoStatus(t, video.ID))
	assert.Equal(t, 1.0, f.counter(t, "highlightz_ml_adapter_calls_total", "outcome", string(mladapter.KindHTTPStatus)))
}

func TestRunner_StoppingReleasesTask(t *testing.T) {
	f := newFixture(t)
	video := f.seedVideo(t, "videos/a.mp4")
	task := f.seedTask(t, video.ID, nil)

	classifier := &fakeClassifier{configured: true, block: true}
	runner := f.newRunner(t, classifier)

	ctx, cancel := context.WithCancelCause(context.Background())
	go func() {
		waitForCall(classifier)
		cancel(ErrStopping)
	}()

	err := runner.Start(ctx, task.ID, nil)
	require.ErrorIs(t, err, ErrStopping)

	got := f.reload(t, task.ID)
	assert.Equal(t, enums.TaskStatusPending, got.Status)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.FinishedAt)
	assert.Empty(t, got.ErrorMessage)
	assert.Empty(t, f.outcomes.snapshot())
}

func TestRunner_CanceledRunWritesNothing(t *testing.T) {
	f := newFixture(t)
	video := f.seedVideo(t, "videos/a.mp4")
	task := f.seedTask(t, video.ID, nil)

	classifier := &fakeClassifier{configured: true, block: true}
	runner := f.newRunner(t, classifier)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		waitForCall(classifier)
		cancel()
	}()

	require.NoError(t, runner.Start(ctx, task.ID, nil))
	assert.Equal(t, enums.TaskStatusRunning, f.reload(t, task.ID).Status)
	assert.Empty(t, f.outcomes.snapshot())
}

func TestRunner_UnknownTask(t *testing.T) {
	f := newFixture(t)
	runner := f.newRunner(t, &fakeClassifier{configured: true})

	err := runner.Start(context.Background(), 404, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestFinalizer_FailDefaultsBlankMessage(t *testing.T) {
	f := newFixture(t)
	video := f.seedVideo(t, "videos/a.mp4")
	task := f.seedTask(t, video.ID, nil)

	applied, err := f.finalizer.Fail(context.Background(), task, SourceWorker, "   ")
	require.NoError(t, err)
	require.True(t, applied)
	assert.Equal(t, defaultFailureMessage, f.reload(t, task.ID).ErrorMessage)

	applied, err = f.finalizer.Succeed(context.Background(), task, SourceCallback, dbtypes.JSON(`{}`))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 1.0, f.counter(t, "highlightz_task_finalize_rejected_total", "source", string(SourceCallback)))
}
