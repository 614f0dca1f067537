package storage

import (
	"errors"
	"testing"

	"rag-engine/internal/models"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
)

func TestMapMinioError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantsFound bool
	}{
		{"missing key", minio.ErrorResponse{Code: "NoSuchKey", Message: "key does not exist"}, true},
		{"missing bucket", minio.ErrorResponse{Code: "NoSuchBucket", Message: "bucket does not exist"}, true},
		{"access denied", minio.ErrorResponse{Code: "AccessDenied", Message: "denied"}, false},
		{"network failure", errors.New("dial tcp: connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := mapMinioError("head", "uploads", "a.pdf", tt.err)
			if tt.wantsFound {
				assert.True(t, models.IsNotFound(mapped))
			} else {
				assert.True(t, models.IsUpstream(mapped))
			}
		})
	}
}

func TestMapMinioError_KeepsCause(t *testing.T) {
	cause := errors.New("boom")
	mapped := mapMinioError("put", "uploads", "a.pdf", cause)
	assert.True(t, errors.Is(mapped, cause))
}
