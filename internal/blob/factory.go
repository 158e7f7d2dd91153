package blob

import (
	"context"
	"fmt"

	"docvault/internal/config"
)

// NewStoreFromConfig creates a Store implementation based on the blob store config type.
func NewStoreFromConfig(ctx context.Context, cfg config.BlobStoreConfig) (Store, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "s3":
		return NewS3Store(ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.S3Region)
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem blob store requires fs_root to be set")
		}
		return NewFileSystemStore(cfg.FSRoot)
	default:
		return nil, fmt.Errorf("unknown blob store type: %s", cfg.Type)
	}
}
