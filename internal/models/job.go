package models

import (
	"time"
)

// JobState represents the state of an embedding job
type JobState string

const (
	JobStateQueued   JobState = "queued"
	JobStateRunning  JobState = "running"
	JobStateFinished JobState = "finished"
	JobStateStopped  JobState = "stopped"
	JobStateFailed   JobState = "failed"
)

// IsValid checks if the job state is valid
func (s JobState) IsValid() bool {
	switch s {
	case JobStateQueued, JobStateRunning, JobStateFinished, JobStateStopped, JobStateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if the state ends the job
func (s JobState) IsTerminal() bool {
	return s == JobStateFinished || s == JobStateStopped || s == JobStateFailed
}

// IsActive returns true if the job is currently active
func (s JobState) IsActive() bool {
	return s == JobStateQueued || s == JobStateRunning
}

// String returns the string representation of the job state
func (s JobState) String() string {
	return string(s)
}

// BlobRef points at a result object persisted in the object store
type BlobRef struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// EmbeddingJob is one row of the embedding job ledger. Setting State to
// stopped is observed cooperatively by the worker between chunks.
type EmbeddingJob struct {
	JobID        string                 `json:"job_id"`
	User         string                 `json:"user"`
	DocumentID   string                 `json:"document_id,omitempty"`
	State        JobState               `json:"state"`
	Result       map[string]interface{} `json:"result,omitempty"`
	StoredResult *BlobRef               `json:"stored_result,omitempty"`
	Error        string                 `json:"error,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// Validate checks if the job is valid
func (j *EmbeddingJob) Validate() error {
	if j.JobID == "" {
		return &ValidationError{Field: "job_id", Message: "job ID is required"}
	}
	if j.User == "" {
		return &ValidationError{Field: "user", Message: "user is required"}
	}
	if !j.State.IsValid() {
		return &ValidationError{Field: "state", Message: "invalid job state: " + string(j.State)}
	}
	return nil
}

// EmbeddingJobDTO represents the API view of an embedding job
type EmbeddingJobDTO struct {
	JobID        string                 `json:"job_id"`
	User         string                 `json:"user"`
	DocumentID   string                 `json:"document_id,omitempty"`
	State        string                 `json:"state"`
	Result       map[string]interface{} `json:"result,omitempty"`
	StoredResult *BlobRef               `json:"stored_result,omitempty"`
	Error        string                 `json:"error,omitempty"`
	CreatedAt    string                 `json:"created_at"`
	UpdatedAt    string                 `json:"updated_at"`
}

// ToDTO converts EmbeddingJob domain model to DTO
func (j *EmbeddingJob) ToDTO() EmbeddingJobDTO {
	return EmbeddingJobDTO{
		JobID:        j.JobID,
		User:         j.User,
		DocumentID:   j.DocumentID,
		State:        string(j.State),
		Result:       j.Result,
		StoredResult: j.StoredResult,
		Error:        j.Error,
		CreatedAt:    j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    j.UpdatedAt.Format(time.RFC3339),
	}
}

// ReindexRequest asks for a partial re-embed of specific chunks. An empty
// ChunkIDs list means the whole document.
type ReindexRequest struct {
	DocumentID string   `json:"document_id"`
	ChunkIDs   []string `json:"chunk_ids,omitempty"`
}

// Validate validates the reindex request
func (r *ReindexRequest) Validate() error {
	if r.DocumentID == "" {
		return &ValidationError{Field: "document_id", Message: "document ID is required"}
	}
	return nil
}
