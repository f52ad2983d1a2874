package bundles

import (
	"context"
	"fmt"

	"github.com/cmip-ref/ref-go/internal/platform/env"
	"github.com/cmip-ref/ref-go/internal/platform/objectstore"
)

// Open selects a Store from the environment.
//
//	SOLVER_BUNDLE_DRIVER: fs|minio|s3|memory (default fs)
//	SOLVER_BUNDLE_FS_ROOT: root directory for fs (default ./bundles)
//	SOLVER_MINIO_*: see objectstore.ConfigFromEnv
//	SOLVER_S3_*: see S3ConfigFromEnv
func Open(ctx context.Context) (Store, error) {
	driver, err := env.OneOf("SOLVER_BUNDLE_DRIVER", string(DriverFilesystem),
		string(DriverFilesystem), string(DriverMinIO), string(DriverS3), string(DriverMemory))
	if err != nil {
		return nil, err
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return NewFilesystem(env.String("SOLVER_BUNDLE_FS_ROOT", "./bundles"))
	case DriverMinIO:
		cfg, err := objectstore.ConfigFromEnv()
		if err != nil {
			return nil, err
		}
		return NewMinIO(ctx, cfg)
	case DriverS3:
		cfg, err := S3ConfigFromEnv()
		if err != nil {
			return nil, err
		}
		return NewS3(ctx, cfg)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown bundle driver %s", driver)
	}
}
