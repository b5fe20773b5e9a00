package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/mirecekd/trnda/internal/domain"
)

const metadataSuffix = ".metadata.json"

// fileRepository stores objects under basePath/<bucket>/<key>, with metadata
// in a JSON sidecar. Used for local runs and CLI dry runs.
type fileRepository struct {
	basePath string
	log      *zap.Logger
}

func NewFileRepository(basePath string, log *zap.Logger) (ObjectStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", basePath, err)
	}
	return &fileRepository{basePath: basePath, log: log}, nil
}

func (r *fileRepository) PutObject(_ context.Context, bucket string, payload *domain.UploadPayload) error {
	fullPath, err := r.objectPath(bucket, payload.Key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStorage, err)
	}
	if err := os.WriteFile(fullPath, payload.Body, 0644); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStorage, err)
	}

	if len(payload.Metadata) > 0 {
		data, err := json.MarshalIndent(payload.Metadata, "", "  ")
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrStorage, err)
		}
		if err := os.WriteFile(fullPath+metadataSuffix, data, 0644); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrStorage, err)
		}
	}

	r.log.Info("File saved locally",
		zap.String("path", fullPath),
		zap.Int("size", len(payload.Body)))

	return nil
}

func (r *fileRepository) Ping(_ context.Context) error {
	info, err := os.Stat(r.basePath)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStorage, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", domain.ErrStorage, r.basePath)
	}
	return nil
}

// objectPath returns where key in bucket ends up on disk.
func (r *fileRepository) objectPath(bucket, key string) (string, error) {
	base := filepath.Clean(r.basePath)
	full := filepath.Join(base, bucket, filepath.FromSlash(key))

	rel, err := filepath.Rel(base, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: key %q escapes the storage directory", domain.ErrStorage, key)
	}
	return full, nil
}
