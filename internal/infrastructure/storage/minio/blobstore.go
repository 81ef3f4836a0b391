// Package minio implements the durable blob store: raw uploads live under
// sessions/<session-id>/<filename>, extracted full text under
// documents/<document-id>/content.txt.
package minio

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/turtacn/MedRecord-Ingest/internal/config"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedRecord-Ingest/pkg/errors"
)

// API is the subset of the minio client the blob store uses.  Narrowed for
// mocking.
type API interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

// BlobStore is the path-addressable object store for one bucket.
type BlobStore struct {
	api    API
	bucket string
	logger logging.Logger
}

// NewBlobStore connects to MinIO and ensures the bucket exists.
func NewBlobStore(cfg config.MinIOConfig, log logging.Logger) (*BlobStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to create minio client")
	}

	s := &BlobStore{api: client, bucket: cfg.Bucket, logger: log}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	exists, err := s.api.BucketExists(ctx, s.bucket)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeServiceUnavailable, "failed to connect to minio")
	}
	if !exists {
		if err := s.api.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeServiceUnavailable, "failed to create bucket")
		}
		log.Info("created blob bucket", logging.String("bucket", s.bucket))
	}
	return s, nil
}

// NewBlobStoreWithAPI wraps an existing API.  Used by tests.
func NewBlobStoreWithAPI(api API, bucket string, log logging.Logger) *BlobStore {
	return &BlobStore{api: api, bucket: bucket, logger: log}
}

// Put writes data at path.
func (s *BlobStore) Put(ctx context.Context, path string, data []byte, contentType string) error {
	_, err := s.api.PutObject(ctx, s.bucket, path, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeProcStorage, "failed to write blob")
	}
	return nil
}

// Get reads the full object at path.
func (s *BlobStore) Get(ctx context.Context, path string) ([]byte, error) {
	obj, err := s.api.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeProcStorage, "failed to open blob")
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeProcStorage, "failed to read blob")
	}
	return data, nil
}

// RemovePrefix deletes every object under prefix.  Backs session cleanup.
func (s *BlobStore) RemovePrefix(ctx context.Context, prefix string) error {
	objects := s.api.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	var removed int
	for info := range objects {
		if info.Err != nil {
			return errors.Wrap(info.Err, errors.ErrCodeProcStorage, "failed to list blobs for removal")
		}
		if err := s.api.RemoveObject(ctx, s.bucket, info.Key, minio.RemoveObjectOptions{}); err != nil {
			return errors.Wrap(err, errors.ErrCodeProcStorage, "failed to remove blob")
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("removed blobs",
			logging.String("prefix", prefix),
			logging.Int("count", removed),
		)
	}
	return nil
}
