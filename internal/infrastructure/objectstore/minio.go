// Package objectstore stores document files in an S3-compatible bucket.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"docchat/internal/infrastructure/resilient"
	"docchat/pkg/logger"
)

// Config addresses the bucket.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
	Policy    resilient.RetryPolicy
}

// Object describes a stored file.
type Object struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Store wraps a MinIO client. The bucket is created on connect when missing.
// Failures are logged and reported as false or empty results.
type Store struct {
	conn   *resilient.Connector[*minio.Client]
	bucket string
	log    *logger.Logger
}

// New creates the store without connecting.
func New(cfg Config, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Nop()
	}
	s := &Store{bucket: cfg.Bucket, log: log.WithComponent("objectstore")}
	s.conn = resilient.NewConnector(resilient.Options[*minio.Client]{
		Name: "minio",
		Dial: func(context.Context) (*minio.Client, error) {
			return minio.New(cfg.Endpoint, &minio.Options{
				Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
				Secure: cfg.Secure,
			})
		},
		Ping:   s.ensureBucket,
		Policy: cfg.Policy,
		Logger: log,
	})
	return s
}

func (s *Store) ensureBucket(ctx context.Context, c *minio.Client) error {
	exists, err := c.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := c.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	s.log.Infow("bucket created", "bucket", s.bucket)
	return nil
}

// Init connects eagerly. A failure leaves the store usable in degraded mode.
func (s *Store) Init(ctx context.Context) error { return s.conn.Init(ctx) }

func (s *Store) Name() string                         { return s.conn.Name() }
func (s *Store) State() resilient.State               { return s.conn.State() }
func (s *Store) HealthCheck(ctx context.Context) bool { return s.conn.HealthCheck(ctx) }
func (s *Store) Close() error                         { return s.conn.Close() }

func (s *Store) client(ctx context.Context, op, key string) (*minio.Client, bool) {
	c, ok := s.conn.Client(ctx)
	if !ok {
		s.log.WithContext(ctx).Warnw("object storage unavailable", "op", op, "key", key)
	}
	return c, ok
}

// fail logs err and marks the connection failed when the server never
// answered. It reports whether err was a missing object.
func (s *Store) fail(ctx context.Context, op, key string, err error) bool {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchObject":
		return true
	case "":
		s.conn.MarkFailed(err)
	}
	s.log.WithContext(ctx).Warnw("object storage operation failed", "op", op, "key", key, "error", err)
	return false
}

// Upload writes body under key. size may be -1 when unknown.
func (s *Store) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) bool {
	c, ok := s.client(ctx, "upload", key)
	if !ok {
		return false
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	info, err := c.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		s.fail(ctx, "upload", key, err)
		return false
	}
	s.log.WithContext(ctx).Debugw("object uploaded", "key", key, "size", info.Size)
	return true
}

// Update replaces an existing object. It reports false when key is absent.
func (s *Store) Update(ctx context.Context, key string, data []byte, contentType string) bool {
	if !s.Exists(ctx, key) {
		return false
	}
	return s.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
}

// Download reads the whole object.
func (s *Store) Download(ctx context.Context, key string) ([]byte, bool) {
	c, ok := s.client(ctx, "download", key)
	if !ok {
		return nil, false
	}
	obj, err := c.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		s.fail(ctx, "download", key, err)
		return nil, false
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		s.fail(ctx, "download", key, err)
		return nil, false
	}
	return data, true
}

// Delete removes the object. Removing a missing key succeeds.
func (s *Store) Delete(ctx context.Context, key string) bool {
	c, ok := s.client(ctx, "delete", key)
	if !ok {
		return false
	}
	if err := c.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return s.fail(ctx, "delete", key, err)
	}
	return true
}

// Exists reports whether key is stored.
func (s *Store) Exists(ctx context.Context, key string) bool {
	c, ok := s.client(ctx, "stat", key)
	if !ok {
		return false
	}
	if _, err := c.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		s.fail(ctx, "stat", key, err)
		return false
	}
	return true
}

// PresignedURL returns a temporary GET link for key.
func (s *Store) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, bool) {
	c, ok := s.client(ctx, "presign", key)
	if !ok {
		return "", false
	}
	u, err := c.PresignedGetObject(ctx, s.bucket, key, expiry, nil)
	if err != nil {
		s.fail(ctx, "presign", key, err)
		return "", false
	}
	return u.String(), true
}

// List returns the objects under prefix, recursively.
func (s *Store) List(ctx context.Context, prefix string) ([]Object, bool) {
	c, ok := s.client(ctx, "list", prefix)
	if !ok {
		return nil, false
	}
	objects := make([]Object, 0)
	for info := range c.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			s.fail(ctx, "list", prefix, info.Err)
			return nil, false
		}
		objects = append(objects, Object{
			Key:          info.Key,
			Size:         info.Size,
			ContentType:  info.ContentType,
			LastModified: info.LastModified,
		})
	}
	return objects, true
}
