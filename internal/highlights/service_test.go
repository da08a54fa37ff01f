package highlights

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/angelmondragon/highlightz-backend/pkg/db"
	"github.com/angelmondragon/highlightz-backend/pkg/db/dbtest"
	"github.com/angelmondragon/highlightz-backend/pkg/db/models"
	"github.com/angelmondragon/highlightz-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/highlightz-backend/pkg/errors"
	"github.com/angelmondragon/highlightz-backend/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var mp4Header = append([]byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0x00, 0x00, 0x02, 0x00, 'i', 's', 'o', 'm', 'i', 's', 'o', '2'}, make([]byte, 64)...)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	putErr  error
}

func (s *memStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	if s.putErr != nil {
		return s.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil {
		s.objects = map[string][]byte{}
	}
	s.objects[key] = data
	s.puts++
	return nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *memStore) PublicURL(key string) string { return "http://media.local/" + key }

type fixture struct {
	conn      *gorm.DB
	store     *memStore
	mediaRoot string
	svc       Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	f := &fixture{conn: conn, store: &memStore{}, mediaRoot: t.TempDir()}
	svc, err := NewService(ServiceParams{
		Tx:        db.NewFromConn(conn),
		Repo:      NewRepository(conn),
		Store:     f.store,
		MediaRoot: f.mediaRoot,
		Logger:    logger.New(logger.Options{ServiceName: "highlights-test", Output: io.Discard}),
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) seedTask(t *testing.T, prompt *string) *models.Task {
	t.Helper()
	video := &models.Video{Title: "match", File: "videos/match.mp4", Status: enums.VideoStatusProcessing}
	require.NoError(t, f.conn.Create(video).Error)
	task := &models.Task{VideoID: video.ID, Status: enums.TaskStatusRunning, Prompt: prompt}
	require.NoError(t, f.conn.Create(task).Error)
	return task
}

func (f *fixture) writeClip(t *testing.T, rel string, data []byte) {
	t.Helper()
	p := filepath.Join(f.mediaRoot, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, data, 0o600))
}

func decodeItems(t *testing.T, raw string) []BulkItem {
	t.Helper()
	var items []BulkItem
	require.NoError(t, json.Unmarshal([]byte(raw), &items))
	return items
}

func TestBulkCreate_EndIsStartPlusDuration(t *testing.T) {
	f := newFixture(t)
	task := f.seedTask(t, nil)

	items := decodeItems(t, `[{"task_id": `+itoa(task.ID)+`, "event_type": "DTP", "time_start": 10, "time_duration": 5, "confidence": 0.9}]`)
	out, err := f.svc.BulkCreate(context.Background(), items)
	require.NoError(t, err)
	require.Len(t, out, 1)

	assert.NotZero(t, out[0].ID)
	assert.Equal(t, task.VideoID, out[0].VideoID)
	assert.Equal(t, 10, out[0].StartTime)
	assert.Equal(t, 15, out[0].EndTime)
	assert.InDelta(t, 0.9, out[0].Confidence, 1e-9)
	assert.False(t, out[0].IsCustom)

	var stored models.Highlight
	require.NoError(t, f.conn.First(&stored, out[0].ID).Error)
	assert.Equal(t, 15, stored.EndTime)
	assert.Equal(t, "DTP", stored.EventType)
}

func TestBulkCreate_StringNumbersAndCustomTask(t *testing.T) {
	f := newFixture(t)
	prompt := "only penalties"
	task := f.seedTask(t, &prompt)

	items := decodeItems(t, `[{"task_id": "`+itoa(task.ID)+`", "event_type": "PEN", "time_start": "20.0", "time_duration": "4", "confidence": "0.75", "description": "spot kick"}]`)
	out, err := f.svc.BulkCreate(context.Background(), items)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 20, out[0].StartTime)
	assert.Equal(t, 24, out[0].EndTime)
	assert.True(t, out[0].IsCustom)
	assert.Equal(t, "spot kick", out[0].Description)
}

func TestBulkCreate_IsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	task := f.seedTask(t, nil)
	id := itoa(task.ID)

	cases := map[string]struct {
		raw     string
		details []string
	}{
		"missing confidence": {
			raw:     `[{"task_id": ` + id + `, "event_type": "A", "time_start": 1, "time_duration": 1, "confidence": 0.5}, {"task_id": ` + id + `, "event_type": "B", "time_start": 1, "time_duration": 1}]`,
			details: []string{"1.confidence"},
		},
		"event type too long": {
			raw:     `[{"task_id": ` + id + `, "event_type": "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789", "time_start": 1, "time_duration": 1, "confidence": 0.5}]`,
			details: []string{"0.event_type"},
		},
		"negative start": {
			raw:     `[{"task_id": ` + id + `, "event_type": "A", "time_start": -1, "time_duration": 1, "confidence": 0.5}]`,
			details: []string{"0.time_start"},
		},
		"start beyond column range": {
			raw:     `[{"task_id": ` + id + `, "event_type": "A", "time_start": 2147483648, "time_duration": 1, "confidence": 0.5}]`,
			details: []string{"0.time_start"},
		},
		"end beyond column range": {
			raw:     `[{"task_id": ` + id + `, "event_type": "A", "time_start": 2147483000, "time_duration": 1000, "confidence": 0.5}]`,
			details: []string{"0.time_duration"},
		},
		"unknown task": {
			raw:     `[{"task_id": ` + id + `, "event_type": "A", "time_start": 1, "time_duration": 1, "confidence": 0.5}, {"task_id": 99999, "event_type": "A", "time_start": 1, "time_duration": 1, "confidence": 0.5}]`,
			details: []string{"1.task_id"},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.BulkCreate(context.Background(), decodeItems(t, tc.raw))
			require.Error(t, err)
			typed := pkgerrors.As(err)
			require.NotNil(t, typed)
			assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
			details, ok := typed.Details().(map[string]string)
			require.True(t, ok)
			for _, key := range tc.details {
				assert.Contains(t, details, key)
			}

			var n int64
			require.NoError(t, f.conn.Model(&models.Highlight{}).Count(&n).Error)
			assert.Zero(t, n)
		})
	}

	_, err := f.svc.BulkCreate(context.Background(), nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestList(t *testing.T) {
	f := newFixture(t)
	task := f.seedTask(t, nil)
	other := f.seedTask(t, nil)
	id, otherID := itoa(task.ID), itoa(other.ID)

	_, err := f.svc.BulkCreate(context.Background(), decodeItems(t, `[
		{"task_id": `+id+`, "event_type": "B", "time_start": 30, "time_duration": 2, "confidence": 0.5},
		{"task_id": `+id+`, "event_type": "A", "time_start": 5, "time_duration": 2, "confidence": 0.5},
		{"task_id": `+otherID+`, "event_type": "C", "time_start": 1, "time_duration": 2, "confidence": 0.5}
	]`))
	require.NoError(t, err)

	videoID := task.VideoID
	rows, err := f.svc.List(context.Background(), ListParams{VideoID: &videoID})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "A", rows[0].EventType)
	assert.Equal(t, "B", rows[1].EventType)

	all, err := f.svc.List(context.Background(), ListParams{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestUploadFiles(t *testing.T) {
	f := newFixture(t)
	task := f.seedTask(t, nil)
	f.writeClip(t, "clips/a.mp4", mp4Header)
	f.writeClip(t, "clips/b.mp4", mp4Header)

	out, err := f.svc.UploadFiles(context.Background(), task.ID, []string{"clips/a.mp4", "clips/b.mp4", "clips/a.mp4"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "http://media.local/highlights/"+itoa(task.VideoID)+"/clips/a.mp4", out[0].File)
	assert.Equal(t, 2, f.store.puts)

	again, err := f.svc.UploadFiles(context.Background(), task.ID, []string{filepath.Join(f.mediaRoot, "clips", "a.mp4")})
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, out[0].ID, again[0].ID)
	assert.Equal(t, 2, f.store.puts)

	listed, err := f.svc.ListFiles(context.Background(), task.VideoID)
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestUploadFiles_Rejections(t *testing.T) {
	f := newFixture(t)
	task := f.seedTask(t, nil)
	f.writeClip(t, "notes.txt", []byte("plain text notes"))
	outside := filepath.Join(t.TempDir(), "x.mp4")
	require.NoError(t, os.WriteFile(outside, mp4Header, 0o600))

	cases := map[string]struct {
		taskID int64
		paths  []string
		code   pkgerrors.Code
	}{
		"unknown task":  {taskID: 9999, paths: []string{"a.mp4"}, code: pkgerrors.CodeNotFound},
		"no paths":      {taskID: task.ID, paths: nil, code: pkgerrors.CodeValidation},
		"missing file":  {taskID: task.ID, paths: []string{"clips/none.mp4"}, code: pkgerrors.CodeValidation},
		"escapes root":  {taskID: task.ID, paths: []string{"../../etc/passwd"}, code: pkgerrors.CodeValidation},
		"absolute path": {taskID: task.ID, paths: []string{outside}, code: pkgerrors.CodeValidation},
		"not a video":   {taskID: task.ID, paths: []string{"notes.txt"}, code: pkgerrors.CodeUnsupportedMedia},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.UploadFiles(context.Background(), tc.taskID, tc.paths)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, tc.code), "got %v", err)
		})
	}
	assert.Zero(t, f.store.puts)
}

func TestUploadFiles_StoreFailure(t *testing.T) {
	f := newFixture(t)
	task := f.seedTask(t, nil)
	f.writeClip(t, "a.mp4", mp4Header)
	f.store.putErr = errors.New("bucket offline")

	_, err := f.svc.UploadFiles(context.Background(), task.ID, []string{"a.mp4"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	var n int64
	require.NoError(t, f.conn.Model(&models.HighlightFile{}).Count(&n).Error)
	assert.Zero(t, n)
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
