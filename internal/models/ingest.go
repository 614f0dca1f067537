package models

import (
	"encoding/json"
)

// UploadRecord is one object-store upload notification as delivered to the
// ingestion orchestrator.
type UploadRecord struct {
	Bucket    string            `json:"bucket"`
	Key       string            `json:"key"`
	Size      int64             `json:"size,omitempty"`
	EventTime string            `json:"event_time,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Validate checks if the upload record is valid
func (r *UploadRecord) Validate() error {
	if r.Bucket == "" {
		return &ValidationError{Field: "bucket", Message: "bucket is required"}
	}
	if r.Key == "" {
		return &ValidationError{Field: "key", Message: "key is required"}
	}
	return nil
}

// WorkItem is the message published to a lane queue after classification.
type WorkItem struct {
	Bucket         string          `json:"bucket"`
	Key            string          `json:"key"`
	Lane           Lane            `json:"lane"`
	Size           int64           `json:"size"`
	MIME           string          `json:"mime"`
	ForceReprocess bool            `json:"force_reprocess"`
	User           string          `json:"user,omitempty"`
	Credentials    json.RawMessage `json:"credentials,omitempty"`
}

// Validate checks if the work item is valid
func (w *WorkItem) Validate() error {
	if w.Bucket == "" {
		return &ValidationError{Field: "bucket", Message: "bucket is required"}
	}
	if w.Key == "" {
		return &ValidationError{Field: "key", Message: "key is required"}
	}
	if !w.Lane.IsValid() {
		return &ValidationError{Field: "lane", Message: "lane must be 'text' or 'visual'"}
	}
	return nil
}

// RecordOutcome reports the per-record result of an ingestion batch. One bad
// record never fails the batch; callers inspect the outcomes instead.
type RecordOutcome struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Queued bool   `json:"queued"`
	Skip   bool   `json:"skipped"`
	Error  string `json:"error,omitempty"`
}

// BatchResult aggregates the outcomes of one notification batch
type BatchResult struct {
	Outcomes []RecordOutcome `json:"outcomes"`
	Queued   int             `json:"queued"`
	Skipped  int             `json:"skipped"`
	Failed   int             `json:"failed"`
}
