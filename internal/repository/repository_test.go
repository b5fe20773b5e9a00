package repository

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	storeconfig "github.com/mirecekd/trnda/internal/config"
	"github.com/mirecekd/trnda/internal/domain"
)

type fakeS3 struct {
	putInput  *s3.PutObjectInput
	putBody   []byte
	putErr    error
	headErr   error
	created   *s3.CreateBucketInput
	createErr error
}

func (f *fakeS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.putInput = params
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.putBody = body
	if f.putErr != nil {
		return nil, f.putErr
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(_ context.Context, params *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.created = params
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &s3.CreateBucketOutput{}, nil
}

func testStorageConfig() *storeconfig.StorageConfig {
	return &storeconfig.StorageConfig{
		Backend:    BackendS3,
		BucketName: "diagrams",
		Region:     "eu-central-1",
	}
}

func TestS3PutObject(t *testing.T) {
	client := &fakeS3{}
	repo := newS3Repository(client, testStorageConfig(), zap.NewNop())

	payload := domain.NewUploadPayload("input/diagram-2025-01-02T03-04-05-678Z.jpg", []byte("jpeg-bytes"), "test@x.com")
	require.NoError(t, repo.PutObject(context.Background(), "diagrams", payload))

	in := client.putInput
	require.NotNil(t, in)
	assert.Equal(t, "diagrams", aws.ToString(in.Bucket))
	assert.Equal(t, payload.Key, aws.ToString(in.Key))
	assert.Equal(t, "image/jpeg", aws.ToString(in.ContentType))
	assert.Equal(t, int64(10), aws.ToInt64(in.ContentLength))
	assert.Equal(t, map[string]string{"client-info": "test@x.com"}, in.Metadata)
	assert.Equal(t, []byte("jpeg-bytes"), client.putBody)
}

func TestS3PutObjectWithoutMetadata(t *testing.T) {
	client := &fakeS3{}
	repo := newS3Repository(client, testStorageConfig(), zap.NewNop())

	require.NoError(t, repo.PutObject(context.Background(), "diagrams", domain.NewUploadPayload("k.jpg", []byte("x"), "")))
	assert.Nil(t, client.putInput.Metadata)
}

func TestS3ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantAuth bool
	}{
		{name: "invalid access key", err: &smithy.GenericAPIError{Code: "InvalidAccessKeyId", Message: "bad key"}, wantAuth: true},
		{name: "bad signature", err: &smithy.GenericAPIError{Code: "SignatureDoesNotMatch", Message: "bad sig"}, wantAuth: true},
		{name: "missing bucket", err: &smithy.GenericAPIError{Code: "NoSuchBucket", Message: "gone"}},
		{name: "access denied", err: &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}},
		{name: "network", err: errors.New("dial tcp: connection refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newS3Repository(&fakeS3{putErr: tt.err}, testStorageConfig(), zap.NewNop())

			err := repo.PutObject(context.Background(), "diagrams", domain.NewUploadPayload("k.jpg", []byte("x"), ""))
			require.Error(t, err)

			if tt.wantAuth {
				assert.ErrorIs(t, err, domain.ErrStorageAuth)
				assert.NotErrorIs(t, err, domain.ErrStorage)
				return
			}
			assert.ErrorIs(t, err, domain.ErrStorage)
			assert.NotErrorIs(t, err, domain.ErrStorageAuth)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestS3Ping(t *testing.T) {
	repo := newS3Repository(&fakeS3{}, testStorageConfig(), zap.NewNop())
	assert.NoError(t, repo.Ping(context.Background()))

	repo = newS3Repository(&fakeS3{headErr: &smithy.GenericAPIError{Code: "InvalidAccessKeyId"}}, testStorageConfig(), zap.NewNop())
	assert.ErrorIs(t, repo.Ping(context.Background()), domain.ErrStorageAuth)
}

func TestS3EnsureBucketExists(t *testing.T) {
	client := &fakeS3{headErr: &smithy.GenericAPIError{Code: "NotFound"}}
	repo := newS3Repository(client, testStorageConfig(), zap.NewNop())

	require.NoError(t, repo.ensureBucketExists(context.Background()))
	require.NotNil(t, client.created)
	assert.Equal(t, "diagrams", aws.ToString(client.created.Bucket))
	require.NotNil(t, client.created.CreateBucketConfiguration)
	assert.EqualValues(t, "eu-central-1", client.created.CreateBucketConfiguration.LocationConstraint)

	cfg := testStorageConfig()
	cfg.Region = "us-east-1"
	client = &fakeS3{headErr: &smithy.GenericAPIError{Code: "NotFound"}}
	require.NoError(t, newS3Repository(client, cfg, zap.NewNop()).ensureBucketExists(context.Background()))
	assert.Nil(t, client.created.CreateBucketConfiguration)

	client = &fakeS3{}
	require.NoError(t, newS3Repository(client, testStorageConfig(), zap.NewNop()).ensureBucketExists(context.Background()))
	assert.Nil(t, client.created)
}

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", endpointURL("s3.example.com", true))
	assert.Equal(t, "http://localhost:9000", endpointURL("localhost:9000", false))
	assert.Equal(t, "http://minio:9000", endpointURL("http://minio:9000", true))
}

func TestClassifyMinioError(t *testing.T) {
	authErr := minio.ErrorResponse{Code: "InvalidAccessKeyId", Message: "The Access Key Id you provided does not exist in our records."}
	err := classifyMinioError(authErr)
	assert.ErrorIs(t, err, domain.ErrStorageAuth)
	assert.Contains(t, err.Error(), "Access Key Id")

	sigErr := minio.ErrorResponse{Code: "SignatureDoesNotMatch", Message: "signature mismatch"}
	assert.ErrorIs(t, classifyMinioError(sigErr), domain.ErrStorageAuth)

	bucketErr := minio.ErrorResponse{Code: "NoSuchBucket", Message: "The specified bucket does not exist"}
	err = classifyMinioError(bucketErr)
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.NotErrorIs(t, err, domain.ErrStorageAuth)

	netErr := errors.New("connection reset by peer")
	err = classifyMinioError(netErr)
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.ErrorIs(t, err, netErr)
}

func TestFileRepositoryPutObject(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileRepository(dir, zap.NewNop())
	require.NoError(t, err)

	key := "input/diagram-2025-01-02T03-04-05-678Z.jpg"
	payload := domain.NewUploadPayload(key, []byte("jpeg-bytes"), "test@x.com")
	require.NoError(t, store.PutObject(context.Background(), "diagrams", payload))

	path := filepath.Join(dir, "diagrams", "input", "diagram-2025-01-02T03-04-05-678Z.jpg")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), data)

	raw, err := os.ReadFile(path + metadataSuffix)
	require.NoError(t, err)
	var meta map[string]string
	require.NoError(t, json.Unmarshal(raw, &meta))
	assert.Equal(t, map[string]string{"client-info": "test@x.com"}, meta)

	assert.NoError(t, store.Ping(context.Background()))
}

func TestFileRepositoryWithoutMetadataWritesNoSidecar(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileRepository(dir, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, store.PutObject(context.Background(), "b", domain.NewUploadPayload("input/x.jpg", []byte("x"), "")))

	_, err = os.Stat(filepath.Join(dir, "b", "input", "x.jpg"+metadataSuffix))
	assert.True(t, os.IsNotExist(err))
}

func TestFileRepositoryRejectsEscapingKeys(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileRepository(filepath.Join(dir, "store"), zap.NewNop())
	require.NoError(t, err)

	err = store.PutObject(context.Background(), "b", domain.NewUploadPayload("../../escape.jpg", []byte("x"), ""))
	assert.ErrorIs(t, err, domain.ErrStorage)

	_, statErr := os.Stat(filepath.Join(dir, "escape.jpg"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestNewObjectStore(t *testing.T) {
	cfg := &storeconfig.StorageConfig{Backend: BackendFile, BucketName: "b", LocalDir: t.TempDir()}
	store, err := NewObjectStore(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &fileRepository{}, store)

	_, err = NewObjectStore(context.Background(), &storeconfig.StorageConfig{Backend: "gcs"}, zap.NewNop())
	assert.Error(t, err)
}
