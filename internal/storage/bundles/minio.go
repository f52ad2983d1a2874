package bundles

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"

	"github.com/cmip-ref/ref-go/internal/platform/objectstore"
)

// MinIO stores bundles in a single bucket of a MinIO deployment.
type MinIO struct {
	client *minio.Client
	cfg    objectstore.Config
}

// NewMinIO connects to MinIO and makes sure the bundle bucket exists.
func NewMinIO(ctx context.Context, cfg objectstore.Config) (*MinIO, error) {
	client, err := objectstore.NewMinIOClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	if err := objectstore.EnsureBucket(ctx, client, cfg); err != nil {
		return nil, err
	}
	return &MinIO{client: client, cfg: cfg}, nil
}

func (s *MinIO) Driver() Driver { return DriverMinIO }

func (s *MinIO) Put(ctx context.Context, key string, data []byte, contentType string) (Info, error) {
	clean, err := CleanKey(key)
	if err != nil {
		return Info{}, err
	}
	info, err := s.client.PutObject(ctx, s.cfg.BucketBundle, clean, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return Info{}, fmt.Errorf("put bundle %s: %w", clean, err)
	}
	return Info{Key: clean, Size: info.Size, Location: fmt.Sprintf("s3://%s/%s", s.cfg.BucketBundle, clean)}, nil
}

func (s *MinIO) Get(ctx context.Context, key string) ([]byte, error) {
	clean, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.cfg.BucketBundle, clean, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get bundle %s: %w", clean, err)
	}
	defer func() { _ = obj.Close() }()
	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read bundle %s: %w", clean, err)
	}
	return data, nil
}

func (s *MinIO) Ping(ctx context.Context) error {
	return objectstore.CheckBucket(ctx, s.client, s.cfg)
}
