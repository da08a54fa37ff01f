package highlights

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/angelmondragon/highlightz-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/highlightz-backend/pkg/errors"
	"github.com/gabriel-vasile/mimetype"
	"gorm.io/gorm"
)

const maxUploadPaths = 200

// UploadFiles copies clips the ML service wrote to the shared media volume
// into object storage and registers them against the task's video. Paths are
// relative to the media root. A clip already registered for the video is
// returned as is.
func (s *service) UploadFiles(ctx context.Context, taskID int64, paths []string) ([]FileView, error) {
	if len(paths) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "paths must not be empty")
	}
	if len(paths) > maxUploadPaths {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "at most %d paths per request", maxUploadPaths)
	}

	task, err := s.repo.FindTask(ctx, taskID)
	if err != nil {
		return nil, pkgerrors.Lookup(err, "task not found", "load task")
	}
	ctx = s.logg.WithVideoID(s.logg.WithTaskID(ctx, task.ID), task.VideoID)

	sources := make([]string, 0, len(paths))
	unique := map[string]struct{}{}
	details := map[string]string{}
	for i, p := range paths {
		local, rel, err := s.resolve(p)
		if err != nil {
			details[fmt.Sprintf("paths.%d", i)] = err.Error()
			continue
		}
		if _, dup := unique[rel]; dup {
			continue
		}
		unique[rel] = struct{}{}
		sources = append(sources, local)
	}
	if len(details) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid paths").WithDetails(details)
	}

	out := make([]FileView, 0, len(sources))
	for _, local := range sources {
		row, err := s.uploadOne(ctx, task.VideoID, local)
		if err != nil {
			return nil, err
		}
		out = append(out, s.fileView(*row))
	}
	s.logg.Info(s.logg.WithField(ctx, "count", len(out)), "highlight files registered")
	return out, nil
}

func (s *service) uploadOne(ctx context.Context, videoID int64, local string) (*models.HighlightFile, error) {
	key := clipKey(videoID, s.relative(local))
	if existing, err := s.repo.FindFile(ctx, videoID, key); err == nil {
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load highlight file")
	}

	f, err := os.Open(local)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "open clip file")
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "stat clip file")
	}

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "detect clip type")
	}
	if !isVideo(mt) {
		return nil, pkgerrors.New(pkgerrors.CodeUnsupportedMedia, "clip is not a video").
			WithDetails(map[string]any{"path": s.relative(local), "detected": mt.String()})
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "rewind clip file")
	}

	if err := s.store.Put(ctx, key, f, info.Size(), mt.String()); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store clip")
	}

	row := &models.HighlightFile{VideoID: videoID, File: key}
	created, err := s.repo.CreateFile(ctx, row)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "register highlight file")
	}
	if !created {
		// a concurrent upload registered the same clip first
		existing, err := s.repo.FindFile(ctx, videoID, key)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load highlight file")
		}
		return existing, nil
	}
	return row, nil
}

// resolve maps a client path onto the media root and rejects anything that
// escapes it or is not a regular file.
func (s *service) resolve(p string) (string, string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", "", errors.New("path is empty")
	}
	root, err := filepath.Abs(s.mediaRoot)
	if err != nil {
		return "", "", fmt.Errorf("media root: %w", err)
	}

	candidate := filepath.FromSlash(p)
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(root, candidate)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", errors.New("path is outside the media root")
	}

	info, err := os.Stat(candidate)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return "", "", errors.New("file not found")
	case err != nil:
		return "", "", fmt.Errorf("stat: %w", err)
	case !info.Mode().IsRegular():
		return "", "", errors.New("not a regular file")
	}
	return candidate, filepath.ToSlash(rel), nil
}

func (s *service) relative(local string) string {
	root, err := filepath.Abs(s.mediaRoot)
	if err != nil {
		return filepath.Base(local)
	}
	rel, err := filepath.Rel(root, local)
	if err != nil {
		return filepath.Base(local)
	}
	return filepath.ToSlash(rel)
}

func clipKey(videoID int64, rel string) string {
	return path.Join("highlights", fmt.Sprintf("%d", videoID), path.Clean("/"+rel)[1:])
}

func isVideo(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "video/") {
			return true
		}
	}
	return false
}
