package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cmip-ref/ref-go/internal/platform/env"
)

// Config points at the MinIO deployment holding execution bundles.
type Config struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	Region       string
	UseSSL       bool
	BucketBundle string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("SOLVER_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:     env.String("SOLVER_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:    env.String("SOLVER_MINIO_ACCESS_KEY", "ref"),
		SecretKey:    env.String("SOLVER_MINIO_SECRET_KEY", "refminio"),
		Region:       env.String("SOLVER_MINIO_REGION", "us-east-1"),
		UseSSL:       useSSL,
		BucketBundle: env.String("SOLVER_MINIO_BUCKET", "ref-executions"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketBundle) == "" {
		return errors.New("bundle bucket is required")
	}
	return nil
}
