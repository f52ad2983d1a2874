// Package bundles stores metric output bundles under their execution fragment.
package bundles

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

type Driver string

const (
	DriverFilesystem Driver = "fs"
	DriverMinIO      Driver = "minio"
	DriverS3         Driver = "s3"
	DriverMemory     Driver = "memory"
)

var ErrNotFound = errors.New("bundle not found")

// Info describes a stored bundle. Location is driver specific: a file path
// for fs, a URI for object stores.
type Info struct {
	Key      string
	Size     int64
	Location string
}

type Store interface {
	Driver() Driver
	// Put writes data under key, replacing any previous object.
	Put(ctx context.Context, key string, data []byte, contentType string) (Info, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Ping(ctx context.Context) error
}

// CleanKey rejects keys that are empty, absolute or escape the store root.
func CleanKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("empty key")
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid absolute key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("invalid key %q contains '..'", key)
		}
	}
	return path.Clean(key), nil
}
