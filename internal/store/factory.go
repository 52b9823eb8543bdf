package store

import (
	"context"
	"fmt"

	"r2mig/internal/config"
	"r2mig/internal/r2mig"
)

// NewStoreFromConfig creates an ObjectStore based on the store config type.
func NewStoreFromConfig(ctx context.Context, cfg config.StoreConfig) (r2mig.ObjectStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "s3":
		return NewS3Store(ctx, S3Options{
			Bucket:          cfg.Bucket,
			Endpoint:        cfg.Endpoint,
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			UsePathStyle:    cfg.UsePathStyle,
		})
	case "filesystem":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem store requires root to be set")
		}
		return NewFileSystemStore(cfg.Root)
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}
