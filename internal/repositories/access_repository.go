package repositories

import (
	"context"

	"rag-engine/internal/models"
)

// AccessRepository persists access grants. Ownership of a never-seen object
// is claimed atomically: the first writer installs itself as owner and later
// claims observe that owner instead of installing a second one.
type AccessRepository interface {
	// ClaimOwner installs principalID as owner of objectID if the object has
	// no owner yet, in one transaction. It returns the owning principal
	// after the claim, which is principalID only if the claim won.
	ClaimOwner(ctx context.Context, objectID, principalID, objectType, policy string) (string, error)

	// Put writes a grant, overwriting any previous permission for the
	// (object, principal) pair.
	Put(ctx context.Context, grant *models.AccessGrant) error

	// Get returns the grant for a pair, or nil when none exists.
	Get(ctx context.Context, objectID, principalID string) (*models.AccessGrant, error)

	// ListByObject returns every grant on an object.
	ListByObject(ctx context.Context, objectID string) ([]*models.AccessGrant, error)

	// Owner returns the owning principal of an object, or "" when the object
	// has no grants.
	Owner(ctx context.Context, objectID string) (string, error)

	// MaxPermission returns the strongest permission any of the principals
	// holds on the object, or "" when none holds one.
	MaxPermission(ctx context.Context, objectID string, principalIDs []string) (models.Permission, error)

	// Revoke removes the grant for a pair.
	Revoke(ctx context.Context, objectID, principalID string) error
}
