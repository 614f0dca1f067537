package repositories

import (
	"context"

	"rag-engine/internal/models"
)

// JobRepository persists the embedding job ledger. Jobs are scoped to the
// user that created them; the stop flag is stored separately so workers can
// poll it cheaply between chunks.
type JobRepository interface {
	// Create stores a new job and adds it to the user's index.
	Create(ctx context.Context, job *models.EmbeddingJob) error

	// Get retrieves a job for a user.
	Get(ctx context.Context, user, jobID string) (*models.EmbeddingJob, error)

	// Update overwrites a stored job.
	Update(ctx context.Context, job *models.EmbeddingJob) error

	// ListByUser returns all jobs of a user.
	ListByUser(ctx context.Context, user string) ([]*models.EmbeddingJob, error)

	// SetStopFlag marks a job for cooperative cancellation.
	SetStopFlag(ctx context.Context, user, jobID string) error

	// IsStopRequested reports whether the stop flag is set.
	IsStopRequested(ctx context.Context, user, jobID string) (bool, error)

	// Delete removes a job and its index entry.
	Delete(ctx context.Context, user, jobID string) error
}
