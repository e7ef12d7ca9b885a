package contentstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioConfig struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	Bucket       string
	UseSSL       bool
	OutputPrefix string
}

// MinioStore provides the content-store contract against object storage.
// Keys follow the same {prefix}/{taskID}/{resolutionLabel}/{hash}.{ext}
// shape the filesystem store produces.
type MinioStore struct {
	minio  *minio.Client
	bucket string
	prefix string
}

func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	prefix := strings.Trim(cfg.OutputPrefix, "/")
	if prefix == "" {
		prefix = "outputs"
	}

	return &MinioStore{
		minio:  mc,
		bucket: cfg.Bucket,
		prefix: prefix,
	}, nil
}

func (s *MinioStore) Bucket() string {
	return s.bucket
}

func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.minio.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	if err := s.minio.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		exists, checkErr := s.minio.BucketExists(ctx, s.bucket)
		if checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}

	return nil
}

func (s *MinioStore) Save(ctx context.Context, taskID, resolutionLabel string, data []byte, extension string) (string, error) {
	ext := normalizeExtension(extension)
	key := fmt.Sprintf(
		"%s/%s/%s/%s.%s",
		s.prefix,
		sanitizePathToken(taskID),
		sanitizePathToken(resolutionLabel),
		contentHash(data),
		ext,
	)

	contentType := mime.TypeByExtension("." + ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.minio.PutObject(
		ctx,
		s.bucket,
		key,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType},
	)
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return key, nil
}

func (s *MinioStore) Read(ctx context.Context, path string) ([]byte, error) {
	obj, err := s.minio.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", path, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read object %s: %w", path, err)
	}
	return data, nil
}

func (s *MinioStore) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.minio.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat object %s: %w", path, err)
}

func (s *MinioStore) Delete(ctx context.Context, path string) error {
	if err := s.minio.RemoveObject(ctx, s.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return nil
		}
		return fmt.Errorf("remove object %s: %w", path, err)
	}
	return nil
}

func (s *MinioStore) PurgeTask(ctx context.Context, taskID string) error {
	prefix := fmt.Sprintf("%s/%s/", s.prefix, sanitizePathToken(taskID))
	objects := s.minio.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	for object := range objects {
		if object.Err != nil {
			return fmt.Errorf("list task objects %s: %w", taskID, object.Err)
		}
		if err := s.minio.RemoveObject(ctx, s.bucket, object.Key, minio.RemoveObjectOptions{}); err != nil && !isNoSuchKey(err) {
			return fmt.Errorf("remove object %s: %w", object.Key, err)
		}
	}
	return nil
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchObject"
}
