package db

import (
	"context"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient wraps the object store client used for source documents and
// large job results.
type MinioClient struct {
	client *minio.Client
	config MinioConfig
}

// MinioConfig holds configuration for the object store connection
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

// DefaultMinioConfig returns an object store configuration with sensible defaults
func DefaultMinioConfig() MinioConfig {
	return MinioConfig{
		Endpoint:  "localhost:9000",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		UseSSL:    false,
	}
}

// NewMinioClient creates a new object store client
func NewMinioClient(config MinioConfig) (*MinioClient, error) {
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, err
	}

	return &MinioClient{
		client: client,
		config: config,
	}, nil
}

// Ping checks if the object store is reachable
func (m *MinioClient) Ping(ctx context.Context) error {
	_, err := m.client.ListBuckets(ctx)
	return err
}

// GetClient returns the underlying client
func (m *MinioClient) GetClient() *minio.Client {
	return m.client
}
