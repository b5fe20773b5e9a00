package repository

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	storeconfig "github.com/mirecekd/trnda/internal/config"
	"github.com/mirecekd/trnda/internal/domain"
)

// minioRepository talks to MinIO or any other S3-compatible endpoint through
// minio-go.
type minioRepository struct {
	client *minio.Client
	cfg    *storeconfig.StorageConfig
	log    *zap.Logger
}

func NewMinioRepository(ctx context.Context, cfg *storeconfig.StorageConfig, log *zap.Logger) (ObjectStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	repo := &minioRepository{
		client: client,
		cfg:    cfg,
		log:    log,
	}

	if cfg.CreateBucket {
		if err := repo.ensureBucketExists(ctx); err != nil {
			log.Warn("Failed to ensure bucket exists", zap.Error(err))
		}
	}

	return repo, nil
}

func (r *minioRepository) ensureBucketExists(ctx context.Context) error {
	exists, err := r.client.BucketExists(ctx, r.cfg.BucketName)
	if err != nil {
		return classifyMinioError(err)
	}
	if exists {
		r.log.Info("Bucket already exists", zap.String("bucket", r.cfg.BucketName))
		return nil
	}

	if err := r.client.MakeBucket(ctx, r.cfg.BucketName, minio.MakeBucketOptions{Region: r.cfg.Region}); err != nil {
		return classifyMinioError(err)
	}

	r.log.Info("Bucket created successfully", zap.String("bucket", r.cfg.BucketName))
	return nil
}

func (r *minioRepository) PutObject(ctx context.Context, bucket string, payload *domain.UploadPayload) error {
	opts := minio.PutObjectOptions{
		ContentType: payload.ContentType,
	}
	if len(payload.Metadata) > 0 {
		opts.UserMetadata = payload.Metadata
	}

	_, err := r.client.PutObject(ctx, bucket, payload.Key, bytes.NewReader(payload.Body), int64(len(payload.Body)), opts)
	if err != nil {
		r.log.Error("Failed to upload file to MinIO",
			zap.String("bucket", bucket),
			zap.String("key", payload.Key),
			zap.Error(err))
		return classifyMinioError(err)
	}

	r.log.Info("File uploaded to MinIO",
		zap.String("bucket", bucket),
		zap.String("key", payload.Key),
		zap.Int("size", len(payload.Body)))

	return nil
}

func (r *minioRepository) Ping(ctx context.Context) error {
	exists, err := r.client.BucketExists(ctx, r.cfg.BucketName)
	if err != nil {
		return classifyMinioError(err)
	}
	if !exists {
		return fmt.Errorf("%w: bucket %q does not exist", domain.ErrStorage, r.cfg.BucketName)
	}
	return nil
}

func classifyMinioError(err error) error {
	resp := minio.ToErrorResponse(err)
	if isAuthErrorCode(resp.Code) {
		return fmt.Errorf("%w: %s", domain.ErrStorageAuth, resp.Message)
	}
	return fmt.Errorf("%w: %w", domain.ErrStorage, err)
}
