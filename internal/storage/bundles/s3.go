package bundles

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/cmip-ref/ref-go/internal/platform/env"
)

// S3Config configures the S3 driver. Credentials fall back to the default
// AWS chain when AccessKeyID is empty.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
}

func S3ConfigFromEnv() (S3Config, error) {
	pathStyle, err := env.Bool("SOLVER_S3_PATH_STYLE", false)
	if err != nil {
		return S3Config{}, err
	}
	cfg := S3Config{
		Bucket:          env.String("SOLVER_S3_BUCKET", ""),
		Region:          env.String("SOLVER_S3_REGION", "us-east-1"),
		Endpoint:        env.String("SOLVER_S3_ENDPOINT", ""),
		PathStyle:       pathStyle,
		AccessKeyID:     env.String("SOLVER_S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.String("SOLVER_S3_SECRET_ACCESS_KEY", ""),
	}
	if err := cfg.Validate(); err != nil {
		return S3Config{}, err
	}
	return cfg, nil
}

func (c S3Config) Validate() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("SOLVER_S3_BUCKET is required for the s3 bundle driver")
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return errors.New("SOLVER_S3_ACCESS_KEY_ID and SOLVER_S3_SECRET_ACCESS_KEY must be set together")
	}
	return nil
}

type S3 struct {
	client *s3.Client
	bucket string
}

func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3{client: client, bucket: cfg.Bucket}, nil
}

func (s *S3) Driver() Driver { return DriverS3 }

func (s *S3) Put(ctx context.Context, key string, data []byte, contentType string) (Info, error) {
	clean, err := CleanKey(key)
	if err != nil {
		return Info{}, err
	}
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(clean),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return Info{}, fmt.Errorf("put bundle %s: %w", clean, err)
	}
	return Info{Key: clean, Size: int64(len(data)), Location: fmt.Sprintf("s3://%s/%s", s.bucket, clean)}, nil
}

func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	clean, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(clean)})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get bundle %s: %w", clean, err)
	}
	defer func() { _ = out.Body.Close() }()
	return io.ReadAll(out.Body)
}

func (s *S3) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}
