package videos

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

const (
	defaultYtdlpPath    = "yt-dlp"
	defaultFetchTimeout = 10 * time.Minute
)

var (
	// ErrResourceNotFound means the source URL does not point at anything.
	ErrResourceNotFound = errors.New("resource not found")
	// ErrNotAVideo means the source exists but its content is not video.
	ErrNotAVideo = errors.New("resource is not a video")
	// ErrTooLarge means the source exceeds the configured download limit.
	ErrTooLarge = errors.New("resource exceeds download limit")
)

// FetchedFile is a downloaded source held in a private temp directory.
type FetchedFile struct {
	Path        string
	Name        string
	ContentType string
	Size        int64
	dir         string
}

// Open returns a reader over the downloaded bytes.
func (f *FetchedFile) Open() (*os.File, error) {
	return os.Open(f.Path)
}

// Cleanup removes the temp directory. Safe to call more than once.
func (f *FetchedFile) Cleanup() error {
	if f == nil || f.dir == "" {
		return nil
	}
	dir := f.dir
	f.dir = ""
	return os.RemoveAll(dir)
}

// Fetcher downloads a remote video for ingestion.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*FetchedFile, error)
}

// commandRunner runs an external program and returns its stdout.
type commandRunner func(ctx context.Context, name string, args ...string) (stdout []byte, stderr []byte, err error)

func execCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// URLFetcher sends YouTube links through yt-dlp and downloads everything else
// over HTTP. Either way the result is content-sniffed before it is accepted.
type URLFetcher struct {
	YtdlpPath  string
	Timeout    time.Duration
	MaxBytes   int64
	HTTPClient *http.Client
	TempDir    string

	run commandRunner
}

// NewURLFetcher builds a fetcher with the given yt-dlp binary, overall
// timeout and size limit in bytes (0 disables the limit).
func NewURLFetcher(ytdlpPath string, timeout time.Duration, maxBytes int64) *URLFetcher {
	if ytdlpPath == "" {
		ytdlpPath = defaultYtdlpPath
	}
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &URLFetcher{
		YtdlpPath:  ytdlpPath,
		Timeout:    timeout,
		MaxBytes:   maxBytes,
		HTTPClient: &http.Client{Timeout: timeout},
		run:        execCommand,
	}
}

func (f *URLFetcher) Fetch(ctx context.Context, rawURL string) (*FetchedFile, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid source url %q", rawURL)
	}

	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	dir, err := os.MkdirTemp(f.TempDir, "hl-fetch-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	file := &FetchedFile{dir: dir}

	if IsYouTubeURL(u) {
		err = f.fetchYouTube(ctx, u.String(), file)
	} else {
		err = f.fetchHTTP(ctx, u, file)
	}
	if err == nil {
		err = sniffVideo(file)
	}
	if err != nil {
		_ = file.Cleanup()
		return nil, err
	}
	return file, nil
}

// IsYouTubeURL reports whether u is served by YouTube.
func IsYouTubeURL(u *url.URL) bool {
	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
	switch host {
	case "youtube.com", "m.youtube.com", "music.youtube.com", "youtu.be", "youtube-nocookie.com":
		return true
	}
	return false
}

func (f *URLFetcher) fetchYouTube(ctx context.Context, source string, file *FetchedFile) error {
	args := []string{
		"--no-playlist",
		"--no-warnings",
		"--no-progress",
		"-f", "best[ext=mp4]/best",
		"-o", filepath.Join(file.dir, "%(id)s.%(ext)s"),
		"--print", "after_move:filepath",
	}
	if f.MaxBytes > 0 {
		args = append(args, "--max-filesize", fmt.Sprintf("%d", f.MaxBytes))
	}
	args = append(args, source)

	stdout, stderr, err := f.run(ctx, f.YtdlpPath, args...)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("yt-dlp: %w", ctx.Err())
		}
		msg := strings.ToLower(string(stderr))
		switch {
		case strings.Contains(msg, "video unavailable"),
			strings.Contains(msg, "does not exist"),
			strings.Contains(msg, "not found"),
			strings.Contains(msg, "http error 404"):
			return ErrResourceNotFound
		case strings.Contains(msg, "larger than max-filesize"):
			return ErrTooLarge
		}
		return fmt.Errorf("yt-dlp failed: %w: %s", err, strings.TrimSpace(string(stderr)))
	}

	lines := strings.Split(strings.TrimSpace(string(stdout)), "\n")
	downloaded := strings.TrimSpace(lines[len(lines)-1])
	if downloaded == "" {
		// max-filesize skips the download without failing.
		return ErrTooLarge
	}
	file.Path = downloaded
	file.Name = filepath.Base(downloaded)
	return nil
}

func (f *URLFetcher) fetchHTTP(ctx context.Context, u *url.URL, file *FetchedFile) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("download source: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return ErrResourceNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("download source: unexpected status %d", resp.StatusCode)
	}
	if f.MaxBytes > 0 && resp.ContentLength > f.MaxBytes {
		return ErrTooLarge
	}

	name := remoteFileName(u, resp.Header.Get("Content-Disposition"))
	file.Name = name
	file.Path = filepath.Join(file.dir, "source"+path.Ext(name))

	out, err := os.Create(file.Path)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer out.Close()

	body := io.Reader(resp.Body)
	if f.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, f.MaxBytes+1)
	}
	written, err := io.Copy(out, body)
	if err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if f.MaxBytes > 0 && written > f.MaxBytes {
		return ErrTooLarge
	}
	return nil
}

func remoteFileName(u *url.URL, disposition string) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if name := sanitizeFileName(params["filename"]); name != "" {
				return name
			}
		}
	}
	if name := sanitizeFileName(path.Base(u.Path)); name != "" && name != "." {
		return name
	}
	return "video"
}

// sniffVideo inspects the downloaded bytes and fills ContentType and Size.
func sniffVideo(file *FetchedFile) error {
	info, err := os.Stat(file.Path)
	if err != nil {
		return fmt.Errorf("stat download: %w", err)
	}
	if info.Size() == 0 {
		return ErrNotAVideo
	}
	mt, err := mimetype.DetectFile(file.Path)
	if err != nil {
		return fmt.Errorf("detect content type: %w", err)
	}
	if !isVideoMIME(mt) {
		return fmt.Errorf("%w: detected %s", ErrNotAVideo, mt.String())
	}
	file.ContentType = mt.String()
	file.Size = info.Size()
	if path.Ext(file.Name) == "" {
		file.Name += mt.Extension()
	}
	return nil
}

func isVideoMIME(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "video/") {
			return true
		}
	}
	return false
}
