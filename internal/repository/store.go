package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	storeconfig "github.com/mirecekd/trnda/internal/config"
)

const (
	BackendS3    = "s3"
	BackendMinio = "minio"
	BackendFile  = "file"
)

// NewObjectStore builds the store selected by cfg.Backend.
func NewObjectStore(ctx context.Context, cfg *storeconfig.StorageConfig, log *zap.Logger) (ObjectStore, error) {
	switch cfg.Backend {
	case BackendS3, "":
		return NewS3Repository(ctx, cfg, log)
	case BackendMinio:
		return NewMinioRepository(ctx, cfg, log)
	case BackendFile:
		return NewFileRepository(cfg.LocalDir, log)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
