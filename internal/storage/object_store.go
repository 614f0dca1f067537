package storage

import (
	"context"
)

// ObjectInfo is the metadata returned by a head call
type ObjectInfo struct {
	Size     int64             `json:"size"`
	MIME     string            `json:"mime"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ObjectStore is the narrow object-store contract the core consumes. Source
// documents are read through it and large job results are written back.
type ObjectStore interface {
	// Head returns size, content type and user metadata without the body.
	Head(ctx context.Context, bucket, key string) (*ObjectInfo, error)
	// Get returns the full object body.
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	// Put stores an object under the given content type.
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
}
