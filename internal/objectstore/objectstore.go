// Package objectstore uploads run artifacts to S3-compatible storage.
package objectstore

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"sitehazard/internal/config"
	apperrors "sitehazard/internal/errors"
)

// ArtifactStore puts exported files under <prefix>/<run id>/ in one bucket
type ArtifactStore struct {
	client *minio.Client
	cfg    config.StorageConfig
	logger *slog.Logger
}

// Validate checks the settings needed to reach the bucket
func Validate(cfg config.StorageConfig) error {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return apperrors.NewConfigError("storage endpoint is required", nil)
	}
	if strings.Contains(cfg.Endpoint, "://") {
		return apperrors.NewConfigError(fmt.Sprintf("storage endpoint must not include scheme: %q", cfg.Endpoint), nil)
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return apperrors.NewConfigError("storage bucket is required", nil)
	}
	return nil
}

// New creates a store. No request is made until the first upload.
func New(cfg config.StorageConfig, logger *slog.Logger) (*ArtifactStore, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, apperrors.NewConfigError("create object storage client", err)
	}

	return &ArtifactStore{
		client: client,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "objectstore")),
	}, nil
}

// EnsureBucket creates the bucket when it does not exist
func (s *ArtifactStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return apperrors.NewStorageError("check bucket "+s.cfg.Bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
		return apperrors.NewStorageError("create bucket "+s.cfg.Bucket, err)
	}
	s.logger.InfoContext(ctx, "Created artifact bucket", slog.String("bucket", s.cfg.Bucket))
	return nil
}

// Ping reports whether the bucket is reachable
func (s *ArtifactStore) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return apperrors.NewStorageError("check bucket "+s.cfg.Bucket, err)
	}
	if !exists {
		return apperrors.NewStorageError("bucket missing: "+s.cfg.Bucket, nil)
	}
	return nil
}

// UploadRun uploads every file and returns the object URIs in input order
func (s *ArtifactStore) UploadRun(ctx context.Context, runID string, files []string) ([]string, error) {
	uris := make([]string, 0, len(files))
	for _, file := range files {
		key := ObjectKey(s.cfg.Prefix, runID, file)
		info, err := s.client.FPutObject(ctx, s.cfg.Bucket, key, file, minio.PutObjectOptions{
			ContentType: ContentType(file),
		})
		if err != nil {
			return uris, apperrors.NewStorageError("upload "+filepath.Base(file), err)
		}
		s.logger.DebugContext(ctx, "Uploaded artifact",
			slog.String("run_id", runID),
			slog.String("key", key),
			slog.Int64("size", info.Size))
		uris = append(uris, fmt.Sprintf("s3://%s/%s", s.cfg.Bucket, key))
	}
	return uris, nil
}

// RemoveRun deletes every object stored for the run
func (s *ArtifactStore) RemoveRun(ctx context.Context, runID string) error {
	prefix := ObjectKey(s.cfg.Prefix, runID, "") + "/"
	for obj := range s.client.ListObjects(ctx, s.cfg.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return apperrors.NewStorageError("list run objects", obj.Err)
		}
		if err := s.client.RemoveObject(ctx, s.cfg.Bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return apperrors.NewStorageError("remove "+obj.Key, err)
		}
	}
	return nil
}

// ObjectKey joins prefix, run ID and the file's base name with slashes
func ObjectKey(prefix, runID, file string) string {
	parts := make([]string, 0, 3)
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, runID)
	if file != "" {
		parts = append(parts, filepath.Base(file))
	}
	return path.Join(parts...)
}

// ContentType maps artifact extensions to MIME types
func ContentType(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".csv":
		return "text/csv"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".json":
		return "application/json"
	}
	return "application/octet-stream"
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
