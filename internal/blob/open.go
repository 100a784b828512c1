// Package blob opens the blob store selected by configuration.
package blob

import (
	"context"
	"fmt"

	"inventory/internal/blob/core"
	"inventory/internal/config"
	"inventory/internal/infra/blob/fs"
	"inventory/internal/infra/blob/memory"
	"inventory/internal/infra/blob/s3"
)

// Store is the blob store contract.
type Store = core.Store

// Open returns the fs, memory or s3 store named by cfg.Driver. An empty driver
// means fs.
func Open(ctx context.Context, cfg config.Blob) (Store, error) {
	switch core.Driver(cfg.Driver) {
	case core.DriverFilesystem, "":
		return fs.New(cfg.FSRoot)
	case core.DriverMemory:
		return memory.New(), nil
	case core.DriverS3:
		return s3.New(ctx, s3.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			Prefix:          cfg.S3.Prefix,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}
