package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	dbtypes "github.com/angelmondragon/highlightz-backend/pkg/db/types"
	"github.com/angelmondragon/highlightz-backend/pkg/enums"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestRepository_CreateLeavesTimestampsEmpty(t *testing.T) {
	f := newFixture(t)
	video := f.seedVideo(t, "videos/a.mp4")

	task := f.seedTask(t, video.ID, strPtr("find goals"))
	require.NotZero(t, task.ID)

	got := f.reload(t, task.ID)
	assert.Equal(t, enums.TaskStatusPending, got.Status)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.FinishedAt)
	assert.Empty(t, got.Result)
	assert.Empty(t, got.ErrorMessage)
	require.NotNil(t, got.Prompt)
	assert.Equal(t, "find goals", *got.Prompt)
}

func TestRepository_FindByIDMissing(t *testing.T) {
	f := newFixture(t)
	_, err := f.repo.FindByID(context.Background(), 999)
	require.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestRepository_MarkRunningOnlyFromPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	video := f.seedVideo(t, "videos/a.mp4")
	task := f.seedTask(t, video.ID, nil)

	at := time.Now().UTC().Truncate(time.Second)
	applied, err := f.repo.MarkRunning(ctx, task.ID, at)
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = f.repo.MarkRunning(ctx, task.ID, at.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, applied, "second claim must not apply")

	got := f.reload(t, task.ID)
	assert.Equal(t, enums.TaskStatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)
	assert.True(t, got.StartedAt.Equal(at))
	assert.Nil(t, got.FinishedAt)
	assert.Equal(t, enums.VideoStatusProcessing, f.videoStatus(t, video.ID))
}

func TestRepository_MarkRunningNeverRewindsVideo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	video := f.seedVideo(t, "videos/a.mp4")
	require.NoError(t, f.db.Exec("UPDATE videos SET status = ? WHERE id = ?", enums.VideoStatusProcessed, video.ID).Error)
	task := f.seedTask(t, video.ID, strPtr("again"))

	applied, err := f.repo.MarkRunning(ctx, task.ID, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, applied)
	assert.Equal(t, enums.VideoStatusProcessed, f.videoStatus(t, video.ID))
}

func TestRepository_FinalizeSuccessWritesResultAndVideo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	video := f.seedVideo(t, "videos/a.mp4")
	task := f.seedTask(t, video.ID, nil)

	applied, err := f.repo.Finalize(ctx, task.ID, TerminalUpdate{
		Status:       enums.TaskStatusSuccess,
		FinishedAt:   time.Now().UTC(),
		Result:       dbtypes.JSON(`{"events":3}`),
		ErrorMessage: "ignored for success",
	})
	require.NoError(t, err)
	require.True(t, applied)

	got := f.reload(t, task.ID)
	assert.Equal(t, enums.TaskStatusSuccess, got.Status)
	require.NotNil(t, got.FinishedAt)
	assert.JSONEq(t, `{"events":3}`, string(got.Result))
	assert.Empty(t, got.ErrorMessage)
	assert.Equal(t, enums.VideoStatusProcessed, f.videoStatus(t, video.ID))
}

func TestRepository_FinalizeIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	video := f.seedVideo(t, "videos/a.mp4")
	task := f.seedTask(t, video.ID, nil)

	applied, err := f.repo.Finalize(ctx, task.ID, TerminalUpdate{
		Status:       enums.TaskStatusFailed,
		FinishedAt:   time.Now().UTC(),
		ErrorMessage: "first",
		Result:       dbtypes.JSON(`{"ignored":true}`),
	})
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = f.repo.Finalize(ctx, task.ID, TerminalUpdate{
		Status:     enums.TaskStatusSuccess,
		FinishedAt: time.Now().UTC(),
		Result:     dbtypes.JSON(`{"late":true}`),
	})
	require.NoError(t, err)
	assert.False(t, applied)

	got := f.reload(t, task.ID)
	assert.Equal(t, enums.TaskStatusFailed, got.Status)
	assert.Equal(t, "first", got.ErrorMessage)
	assert.Empty(t, got.Result)
}

func TestRepository_FinalizeMissingTask(t *testing.T) {
	f := newFixture(t)
	_, err := f.repo.Finalize(context.Background(), 42, TerminalUpdate{
		Status:     enums.TaskStatusFailed,
		FinishedAt: time.Now().UTC(),
	})
	require.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestRepository_FindStaleRunning(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	video := f.seedVideo(t, "videos/a.mp4")
	now := time.Now().UTC()

	old := f.seedTask(t, video.ID, nil)
	_, err := f.repo.MarkRunning(ctx, old.ID, now.Add(-time.Hour))
	require.NoError(t, err)

	fresh := f.seedTask(t, video.ID, nil)
	_, err = f.repo.MarkRunning(ctx, fresh.ID, now)
	require.NoError(t, err)

	f.seedTask(t, video.ID, nil)

	rows, err := f.repo.FindStaleRunning(ctx, now.Add(-30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, old.ID, rows[0].ID)
}

func TestRepository_ListByVideo(t *testing.T) {
	f := newFixture(t)
	video := f.seedVideo(t, "videos/a.mp4")
	other := f.seedVideo(t, "videos/b.mp4")
	f.seedTask(t, video.ID, nil)
	f.seedTask(t, video.ID, strPtr("custom"))
	f.seedTask(t, other.ID, nil)

	rows, err := f.repo.ListByVideo(context.Background(), video.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, video.ID, row.VideoID)
	}
}
