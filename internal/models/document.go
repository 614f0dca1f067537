package models

import (
	"time"
)

// Lane selects one of the two ingestion pipelines for a document
type Lane string

const (
	LaneText   Lane = "text"
	LaneVisual Lane = "visual"
)

// IsValid checks if the lane is a known lane
func (l Lane) IsValid() bool {
	return l == LaneText || l == LaneVisual
}

// Document represents an uploaded object tracked through ingestion. A
// document owns its chunks, page embeddings and BM25 rows; deleting it drops
// all of them in one transaction.
type Document struct {
	ID            string        `json:"document_id"`
	Owner         string        `json:"owner"`
	StorageBucket string        `json:"storage_bucket"`
	StorageKey    string        `json:"storage_key"`
	Lane          Lane          `json:"lane"`
	MIME          string        `json:"mime"`
	Size          int64         `json:"size"`
	State         PipelineState `json:"state"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Validate checks if the document is valid
func (d *Document) Validate() error {
	if d.ID == "" {
		return &ValidationError{Field: "document_id", Message: "document ID is required"}
	}
	if d.Owner == "" {
		return &ValidationError{Field: "owner", Message: "owner is required"}
	}
	if d.StorageBucket == "" {
		return &ValidationError{Field: "storage_bucket", Message: "storage bucket is required"}
	}
	if d.StorageKey == "" {
		return &ValidationError{Field: "storage_key", Message: "storage key is required"}
	}
	if !d.Lane.IsValid() {
		return &ValidationError{Field: "lane", Message: "lane must be 'text' or 'visual'"}
	}
	if d.Size < 0 {
		return &ValidationError{Field: "size", Message: "size cannot be negative"}
	}
	return nil
}

// DocumentDTO represents the API view of a document
type DocumentDTO struct {
	ID            string `json:"document_id"`
	Owner         string `json:"owner"`
	StorageBucket string `json:"storage_bucket"`
	StorageKey    string `json:"storage_key"`
	Lane          string `json:"lane"`
	MIME          string `json:"mime"`
	Size          int64  `json:"size"`
	State         string `json:"state"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// ToDTO converts Document domain model to DTO
func (d *Document) ToDTO() DocumentDTO {
	return DocumentDTO{
		ID:            d.ID,
		Owner:         d.Owner,
		StorageBucket: d.StorageBucket,
		StorageKey:    d.StorageKey,
		Lane:          string(d.Lane),
		MIME:          d.MIME,
		Size:          d.Size,
		State:         string(d.State),
		CreatedAt:     d.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     d.UpdatedAt.Format(time.RFC3339),
	}
}
