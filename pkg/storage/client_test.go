package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/angelmondragon/highlightz-backend/pkg/config"
	"github.com/minio/minio-go/v7"
)

type fakeAPI struct {
	objects map[string]string
	exists  bool
	putErr  error
	lastCT  string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{objects: map[string]string{}, exists: true}
}

func (f *fakeAPI) PutObject(_ context.Context, bucket, object string, reader io.Reader, _ int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.objects[bucket+"/"+object] = string(data)
	f.lastCT = opts.ContentType
	return minio.UploadInfo{Bucket: bucket, Key: object}, nil
}

func (f *fakeAPI) RemoveObject(_ context.Context, bucket, object string, _ minio.RemoveObjectOptions) error {
	delete(f.objects, bucket+"/"+object)
	return nil
}

func (f *fakeAPI) BucketExists(context.Context, string) (bool, error) {
	return f.exists, nil
}

func TestPutAndDelete(t *testing.T) {
	api := newFakeAPI()
	c := newWithAPI(api, config.StorageConfig{Endpoint: "minio:9000", Bucket: "media"})

	if err := c.Put(context.Background(), "videos/a.mp4", strings.NewReader("abc"), 3, ""); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if api.objects["media/videos/a.mp4"] != "abc" {
		t.Fatalf("object not stored: %v", api.objects)
	}
	if api.lastCT != "application/octet-stream" {
		t.Fatalf("expected default content type, got %q", api.lastCT)
	}

	if err := c.Delete(context.Background(), "videos/a.mp4"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if len(api.objects) != 0 {
		t.Fatalf("expected object removed")
	}
	if err := c.Delete(context.Background(), ""); err != nil {
		t.Fatalf("empty key delete should be a no-op: %v", err)
	}
}

func TestPutWrapsError(t *testing.T) {
	api := newFakeAPI()
	api.putErr = errors.New("disk full")
	c := newWithAPI(api, config.StorageConfig{Endpoint: "minio:9000", Bucket: "media"})

	err := c.Put(context.Background(), "k", strings.NewReader(""), 0, "video/mp4")
	if err == nil || !errors.Is(err, api.putErr) {
		t.Fatalf("expected wrapped put error, got %v", err)
	}
}

func TestPing(t *testing.T) {
	api := newFakeAPI()
	c := newWithAPI(api, config.StorageConfig{Endpoint: "minio:9000", Bucket: "media"})
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected ping error: %v", err)
	}
	api.exists = false
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected missing bucket to fail ping")
	}
}

func TestPublicURL(t *testing.T) {
	c := newWithAPI(newFakeAPI(), config.StorageConfig{Endpoint: "minio:9000", Bucket: "media"})
	if got := c.PublicURL("videos/a.mp4"); got != "http://minio:9000/media/videos/a.mp4" {
		t.Fatalf("unexpected url %q", got)
	}
	if got := c.PublicURL(""); got != "" {
		t.Fatalf("expected empty url for empty key, got %q", got)
	}

	public := newWithAPI(newFakeAPI(), config.StorageConfig{
		Endpoint:      "minio:9000",
		Bucket:        "media",
		PublicBaseURL: "cdn.example.com/",
	})
	if got := public.PublicURL("clips/1.mp4"); got != "http://cdn.example.com:9000/media/clips/1.mp4" {
		t.Fatalf("unexpected rewritten url %q", got)
	}
}

func TestRewritePublicURL(t *testing.T) {
	cases := []struct {
		raw, base, want string
	}{
		{"http://minio:9000/media/a.mp4", "", "http://minio:9000/media/a.mp4"},
		{"http://minio:9000/media/a.mp4", "localhost", "http://localhost:9000/media/a.mp4"},
		{"http://s3.local/media/a.mp4", "localhost", "http://s3.local/media/a.mp4"},
		{"", "localhost", ""},
	}
	for _, tc := range cases {
		if got := RewritePublicURL(tc.raw, tc.base); got != tc.want {
			t.Fatalf("RewritePublicURL(%q,%q)=%q want %q", tc.raw, tc.base, got, tc.want)
		}
	}
}
