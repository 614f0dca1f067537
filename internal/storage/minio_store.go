package storage

import (
	"bytes"
	"context"
	"errors"
	"io"

	"rag-engine/internal/models"

	"github.com/minio/minio-go/v7"
)

// MinioStore implements ObjectStore against any S3-compatible endpoint
type MinioStore struct {
	client *minio.Client
}

// NewMinioStore creates an object store backed by the given client
func NewMinioStore(client *minio.Client) *MinioStore {
	return &MinioStore{client: client}
}

// Head returns object metadata without fetching the body
func (s *MinioStore) Head(ctx context.Context, bucket, key string) (*ObjectInfo, error) {
	stat, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, mapMinioError("head", bucket, key, err)
	}
	return &ObjectInfo{
		Size:     stat.Size,
		MIME:     stat.ContentType,
		Metadata: stat.UserMetadata,
	}, nil
}

// Get returns the full object body
func (s *MinioStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioError("get", bucket, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapMinioError("get", bucket, key, err)
	}
	return data, nil
}

// Put stores an object under the given content type
func (s *MinioStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return mapMinioError("put", bucket, key, err)
	}
	return nil
}

// mapMinioError translates store errors into the shared taxonomy: missing
// objects are NotFound, everything else is Upstream and retryable at the lane
// boundary.
func mapMinioError(operation, bucket, key string, err error) error {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
			return &models.NotFoundError{Kind: "object", ID: bucket + "/" + key}
		}
	}
	return models.NewUpstreamError("object store", operation, err)
}
