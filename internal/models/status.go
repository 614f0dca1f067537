package models

import (
	"fmt"
	"time"
)

// PipelineState is a lifecycle state of a document moving through ingestion
type PipelineState string

const (
	StateUploaded           PipelineState = "uploaded"
	StateValidating         PipelineState = "validating"
	StateQueued             PipelineState = "queued"
	StateProcessingStarted  PipelineState = "processing_started"
	StateConvertingPages    PipelineState = "converting_pages"
	StateExtractingText     PipelineState = "extracting_text"
	StateProcessingVisuals  PipelineState = "processing_visuals"
	StateClassifyingVisuals PipelineState = "classifying_visuals"
	StateChunking           PipelineState = "chunking"
	StateEmbedding          PipelineState = "embedding"
	StateEmbeddingPages     PipelineState = "embedding_pages"
	StateStoring            PipelineState = "storing"
	StateCompleted          PipelineState = "completed"
	StateFailed             PipelineState = "failed"
	StateCancelled          PipelineState = "cancelled"
)

// StateProgress maps each state to its canonical progress percentage.
// Consumers merging concurrent updates keep the maximum observed value, so
// these must be non-decreasing along the pipeline order.
var StateProgress = map[PipelineState]int{
	StateUploaded:           0,
	StateValidating:         2,
	StateQueued:             5,
	StateProcessingStarted:  10,
	StateConvertingPages:    20,
	StateExtractingText:     20,
	StateProcessingVisuals:  35,
	StateClassifyingVisuals: 45,
	StateChunking:           55,
	StateEmbedding:          70,
	StateEmbeddingPages:     75,
	StateStoring:            90,
	StateCompleted:          100,
	StateFailed:             100,
	StateCancelled:          100,
}

// IsValid checks if the pipeline state is a known state
func (s PipelineState) IsValid() bool {
	_, ok := StateProgress[s]
	return ok
}

// IsTerminal checks if the state ends the pipeline
func (s PipelineState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Progress returns the canonical progress for the state, defaulting to the
// processing_started value for unknown states.
func (s PipelineState) Progress() int {
	if p, ok := StateProgress[s]; ok {
		return p
	}
	return StateProgress[StateProcessingStarted]
}

// StatusRecord is the durable, externally observable record of a document's
// lifecycle progress. Records self-expire 24h after their last update.
type StatusRecord struct {
	Bucket    string                 `json:"bucket"`
	Key       string                 `json:"key"`
	State     PipelineState          `json:"state"`
	Progress  int                    `json:"progress"`
	Error     string                 `json:"error,omitempty"`
	Pipeline  string                 `json:"pipeline,omitempty"`
	User      string                 `json:"user,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// StatusTTL bounds the lifetime of a status record.
const StatusTTL = 24 * time.Hour

// StatusID returns the composite identifier used for storage keys and
// WebSocket subscriptions.
func StatusID(bucket, key string) string {
	return fmt.Sprintf("%s/%s", bucket, key)
}

// ID returns the record's composite identifier
func (r *StatusRecord) ID() string {
	return StatusID(r.Bucket, r.Key)
}

// Validate checks if the status record is valid
func (r *StatusRecord) Validate() error {
	if r.Bucket == "" {
		return &ValidationError{Field: "bucket", Message: "bucket is required"}
	}
	if r.Key == "" {
		return &ValidationError{Field: "key", Message: "key is required"}
	}
	if !r.State.IsValid() {
		return &ValidationError{Field: "state", Message: fmt.Sprintf("unknown state '%s'", r.State)}
	}
	if r.Progress < 0 || r.Progress > 100 {
		return &ValidationError{Field: "progress", Message: "progress must be between 0 and 100"}
	}
	return nil
}

// Merge applies an incoming update onto the stored record. State follows the
// later timestamp, progress never regresses. Out-of-order arrivals only raise
// progress, they cannot roll the state back.
func (r *StatusRecord) Merge(incoming *StatusRecord) {
	if !incoming.UpdatedAt.Before(r.UpdatedAt) {
		r.State = incoming.State
		if incoming.Error != "" {
			r.Error = incoming.Error
		}
		if incoming.Pipeline != "" {
			r.Pipeline = incoming.Pipeline
		}
		if incoming.User != "" {
			r.User = incoming.User
		}
		if incoming.Metadata != nil {
			r.Metadata = incoming.Metadata
		}
		r.UpdatedAt = incoming.UpdatedAt
	}
	if incoming.Progress > r.Progress {
		r.Progress = incoming.Progress
	}
}
