package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/angelmondragon/highlightz-backend/pkg/config"
	"github.com/angelmondragon/highlightz-backend/pkg/logger"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// internalHost is the service name object URLs carry inside the compose
// network; PublicURL swaps it for the configured public base.
const internalHost = "minio"

var errClientNotInitialized = errors.New("object storage client not initialized")

// ObjectStore is the narrow surface services depend on.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
}

type objectAPI interface {
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error
	BucketExists(ctx context.Context, bucket string) (bool, error)
}

// Client stores videos and clips in a MinIO (S3 compatible) bucket.
type Client struct {
	api           objectAPI
	endpoint      string
	bucket        string
	secure        bool
	publicBaseURL string
}

func NewClient(ctx context.Context, cfg config.StorageConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("storage endpoint is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("storage bucket is required")
	}

	api, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}

	client := newWithAPI(api, cfg)
	if err := client.Ping(ctx); err != nil {
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "bucket", cfg.Bucket), "object storage client initialized")
	}
	return client, nil
}

func newWithAPI(api objectAPI, cfg config.StorageConfig) *Client {
	return &Client{
		api:           api,
		endpoint:      strings.TrimSpace(cfg.Endpoint),
		bucket:        strings.TrimSpace(cfg.Bucket),
		secure:        cfg.UseSSL,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"),
	}
}

// Put uploads body under key.
func (c *Client) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if c == nil || c.api == nil {
		return errClientNotInitialized
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := c.api.PutObject(ctx, c.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// Delete removes key; a missing object is not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	if c == nil || c.api == nil {
		return errClientNotInitialized
	}
	if key == "" {
		return nil
	}
	if err := c.api.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil
		}
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

// PublicURL returns the browser-reachable URL for key, or "" for an empty key.
func (c *Client) PublicURL(key string) string {
	if c == nil || key == "" {
		return ""
	}
	scheme := "http"
	if c.secure {
		scheme = "https"
	}
	raw := fmt.Sprintf("%s://%s/%s", scheme, c.endpoint, path.Join(c.bucket, key))
	return RewritePublicURL(raw, c.publicBaseURL)
}

// Ping verifies the bucket exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.api == nil {
		return errClientNotInitialized
	}
	ok, err := c.api.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %q: %w", c.bucket, err)
	}
	if !ok {
		return fmt.Errorf("bucket %q does not exist", c.bucket)
	}
	return nil
}

// RewritePublicURL replaces the internal storage host with base when set.
func RewritePublicURL(raw, base string) string {
	if raw == "" || base == "" {
		return raw
	}
	if !strings.Contains(raw, internalHost) {
		return raw
	}
	return strings.Replace(raw, internalHost, base, 1)
}
