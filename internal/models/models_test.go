package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"auth", NewAuthError("missing bearer", nil), IsAuthError},
		{"forbidden", NewForbiddenError("doc-1", "user-2", "write"), IsForbidden},
		{"not found", NewDocumentNotFoundError("doc-1"), IsNotFound},
		{"validation", &ValidationError{Field: "id", Message: "required"}, IsValidation},
		{"upstream", NewUpstreamError("object store", "head", errors.New("timeout")), IsUpstream},
		{"fatal", NewFatalError("doc-1", "validation", errors.New("no bytes")), IsFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestErrorClassification_Wrapped(t *testing.T) {
	inner := NewDocumentNotFoundError("doc-9")
	wrapped := fmt.Errorf("loading document: %w", inner)

	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsForbidden(wrapped))
}

func TestUpstreamErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewUpstreamError("embedding", "embed", cause)

	assert.True(t, errors.Is(err, cause))
}

func TestPipelineState(t *testing.T) {
	assert.True(t, StateEmbedding.IsValid())
	assert.False(t, PipelineState("warming_up").IsValid())

	assert.True(t, StateCompleted.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	assert.True(t, StateCancelled.IsTerminal())
	assert.False(t, StateChunking.IsTerminal())

	assert.Equal(t, 5, StateQueued.Progress())
	assert.Equal(t, 100, StateCompleted.Progress())
	// Unknown states fall back to the processing_started baseline.
	assert.Equal(t, StateProcessingStarted.Progress(), PipelineState("bogus").Progress())
}

func TestStateProgressMonotonicAlongOrder(t *testing.T) {
	order := []PipelineState{
		StateUploaded, StateValidating, StateQueued, StateProcessingStarted,
		StateExtractingText, StateProcessingVisuals, StateClassifyingVisuals,
		StateChunking, StateEmbedding, StateEmbeddingPages, StateStoring, StateCompleted,
	}
	prev := -1
	for _, s := range order {
		p := StateProgress[s]
		assert.GreaterOrEqual(t, p, prev, "state %s regressed", s)
		prev = p
	}
}

func TestStatusRecordMerge(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("Later writer wins on state", func(t *testing.T) {
		stored := &StatusRecord{Bucket: "b", Key: "k", State: StateChunking, Progress: 55, UpdatedAt: base}
		incoming := &StatusRecord{Bucket: "b", Key: "k", State: StateEmbedding, Progress: 70, UpdatedAt: base.Add(time.Second)}

		stored.Merge(incoming)

		assert.Equal(t, StateEmbedding, stored.State)
		assert.Equal(t, 70, stored.Progress)
		assert.Equal(t, base.Add(time.Second), stored.UpdatedAt)
	})

	t.Run("Out of order arrival never regresses progress or state", func(t *testing.T) {
		stored := &StatusRecord{Bucket: "b", Key: "k", State: StateEmbedding, Progress: 70, UpdatedAt: base.Add(time.Minute)}
		late := &StatusRecord{Bucket: "b", Key: "k", State: StateChunking, Progress: 55, UpdatedAt: base}

		stored.Merge(late)

		assert.Equal(t, StateEmbedding, stored.State)
		assert.Equal(t, 70, stored.Progress)
	})

	t.Run("Progress only rises even when state moves", func(t *testing.T) {
		stored := &StatusRecord{Bucket: "b", Key: "k", State: StateEmbedding, Progress: 92, UpdatedAt: base}
		incoming := &StatusRecord{Bucket: "b", Key: "k", State: StateStoring, Progress: 90, UpdatedAt: base.Add(time.Second)}

		stored.Merge(incoming)

		assert.Equal(t, StateStoring, stored.State)
		assert.Equal(t, 92, stored.Progress)
	})
}

func TestStatusRecordValidate(t *testing.T) {
	rec := &StatusRecord{Bucket: "uploads", Key: "a/b.pdf", State: StateQueued, Progress: 5}
	require.NoError(t, rec.Validate())

	rec.State = "nonsense"
	assert.Error(t, rec.Validate())

	rec.State = StateQueued
	rec.Progress = 101
	assert.Error(t, rec.Validate())
}

func TestStatusID(t *testing.T) {
	assert.Equal(t, "uploads/docs/a.pdf", StatusID("uploads", "docs/a.pdf"))
}

func TestPermissionOrdering(t *testing.T) {
	assert.True(t, PermissionOwner.Covers(PermissionRead))
	assert.True(t, PermissionOwner.Covers(PermissionWrite))
	assert.True(t, PermissionWrite.Covers(PermissionRead))
	assert.True(t, PermissionRead.Covers(PermissionRead))
	assert.False(t, PermissionRead.Covers(PermissionWrite))
	assert.False(t, PermissionWrite.Covers(PermissionOwner))
}

func TestAccessGrantValidate(t *testing.T) {
	grant := &AccessGrant{ObjectID: "doc-1", PrincipalID: "user-1", Permission: PermissionRead}
	require.NoError(t, grant.Validate())

	grant.Permission = "admin"
	assert.Error(t, grant.Validate())
}

func TestJobState(t *testing.T) {
	assert.True(t, JobStateStopped.IsTerminal())
	assert.True(t, JobStateFinished.IsTerminal())
	assert.True(t, JobStateFailed.IsTerminal())
	assert.True(t, JobStateRunning.IsActive())
	assert.True(t, JobStateQueued.IsActive())
	assert.False(t, JobStateStopped.IsActive())
	assert.False(t, JobState("paused").IsValid())
}

func TestEmbeddingJobValidate(t *testing.T) {
	job := &EmbeddingJob{JobID: "j-1", User: "u-1", State: JobStateQueued}
	require.NoError(t, job.Validate())

	job.State = "paused"
	assert.Error(t, job.Validate())

	job.State = JobStateQueued
	job.User = ""
	assert.Error(t, job.Validate())
}

func TestPageEmbeddingValidate(t *testing.T) {
	page := &PageEmbedding{
		DocumentID: "doc-1",
		Page:       1,
		Vectors:    [][]float32{{0.1, 0.2}, {0.3, 0.4}},
	}
	require.NoError(t, page.Validate())

	page.Vectors = [][]float32{{0.1, 0.2}, {0.3}}
	assert.Error(t, page.Validate())

	page.Vectors = nil
	assert.Error(t, page.Validate())
}

func TestChunkValidate(t *testing.T) {
	chunk := &Chunk{ID: "c-1", DocumentID: "doc-1", Ordinal: 0, Content: "hello"}
	require.NoError(t, chunk.Validate())

	chunk.Ordinal = -1
	assert.Error(t, chunk.Validate())
}

func TestWorkItemValidate(t *testing.T) {
	item := &WorkItem{Bucket: "uploads", Key: "a.pdf", Lane: LaneText}
	require.NoError(t, item.Validate())

	item.Lane = "audio"
	assert.Error(t, item.Validate())
}

func TestDocumentToDTO(t *testing.T) {
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	doc := &Document{
		ID:            "doc-1",
		Owner:         "user-1",
		StorageBucket: "uploads",
		StorageKey:    "a.pdf",
		Lane:          LaneVisual,
		MIME:          "application/pdf",
		Size:          1024,
		State:         StateCompleted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	dto := doc.ToDTO()
	assert.Equal(t, "visual", dto.Lane)
	assert.Equal(t, "completed", dto.State)
	assert.Equal(t, now.Format(time.RFC3339), dto.CreatedAt)
}
