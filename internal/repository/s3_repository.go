package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	storeconfig "github.com/mirecekd/trnda/internal/config"
	"github.com/mirecekd/trnda/internal/domain"
)

// ObjectStore receives finished upload payloads.
type ObjectStore interface {
	PutObject(ctx context.Context, bucket string, payload *domain.UploadPayload) error
	Ping(ctx context.Context) error
}

// s3API is the subset of *s3.Client the repository uses.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

type s3Repository struct {
	client s3API
	cfg    *storeconfig.StorageConfig
	log    *zap.Logger
}

func NewS3Repository(ctx context.Context, cfg *storeconfig.StorageConfig, log *zap.Logger) (ObjectStore, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(endpointURL(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	repo := newS3Repository(client, cfg, log)

	if cfg.CreateBucket {
		if err := repo.ensureBucketExists(ctx); err != nil {
			log.Warn("Failed to ensure bucket exists", zap.Error(err))
		}
	}

	return repo, nil
}

func newS3Repository(client s3API, cfg *storeconfig.StorageConfig, log *zap.Logger) *s3Repository {
	return &s3Repository{
		client: client,
		cfg:    cfg,
		log:    log,
	}
}

func (r *s3Repository) ensureBucketExists(ctx context.Context) error {
	if err := r.Ping(ctx); err == nil {
		r.log.Info("Bucket already exists", zap.String("bucket", r.cfg.BucketName))
		return nil
	}

	r.log.Info("Creating bucket", zap.String("bucket", r.cfg.BucketName))

	input := &s3.CreateBucketInput{Bucket: aws.String(r.cfg.BucketName)}
	// us-east-1 rejects an explicit location constraint.
	if r.cfg.Region != "" && r.cfg.Region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(r.cfg.Region),
		}
	}

	if _, err := r.client.CreateBucket(ctx, input); err != nil {
		return classifyS3Error(err)
	}

	r.log.Info("Bucket created successfully", zap.String("bucket", r.cfg.BucketName))
	return nil
}

func (r *s3Repository) PutObject(ctx context.Context, bucket string, payload *domain.UploadPayload) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(payload.Key),
		Body:          bytes.NewReader(payload.Body),
		ContentType:   aws.String(payload.ContentType),
		ContentLength: aws.Int64(int64(len(payload.Body))),
	}
	if len(payload.Metadata) > 0 {
		input.Metadata = payload.Metadata
	}

	if _, err := r.client.PutObject(ctx, input); err != nil {
		r.log.Error("Failed to upload file to S3",
			zap.String("bucket", bucket),
			zap.String("key", payload.Key),
			zap.Error(err))
		return classifyS3Error(err)
	}

	r.log.Info("File uploaded to S3",
		zap.String("bucket", bucket),
		zap.String("key", payload.Key),
		zap.Int("size", len(payload.Body)))

	return nil
}

func (r *s3Repository) Ping(ctx context.Context) error {
	_, err := r.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(r.cfg.BucketName),
	})
	if err != nil {
		return classifyS3Error(err)
	}
	return nil
}

func classifyS3Error(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && isAuthErrorCode(apiErr.ErrorCode()) {
		return fmt.Errorf("%w: %s", domain.ErrStorageAuth, apiErr.ErrorMessage())
	}
	return fmt.Errorf("%w: %w", domain.ErrStorage, err)
}

func endpointURL(endpoint string, useSSL bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
