package services

import (
	"context"
	"log"
	"time"

	"rag-engine/internal/models"
	"rag-engine/internal/repositories"
)

// AccessService enforces the object access rules. The first grant on a
// never-seen object installs the caller as its owner; afterwards granting
// read or write needs write, and granting owner needs owner. Checks compare
// ordered levels, read < write < owner.
type AccessService struct {
	repo   repositories.AccessRepository
	logger *log.Logger
}

// NewAccessService creates a new access control service.
func NewAccessService(repo repositories.AccessRepository, logger *log.Logger) *AccessService {
	if logger == nil {
		logger = log.New(log.Writer(), "[ACCESS] ", log.LstdFlags)
	}
	return &AccessService{repo: repo, logger: logger}
}

// Grant gives every principal the requested level on the object. On a
// never-seen object the caller is atomically installed as owner first; on an
// existing object the caller's own permission is checked before anything is
// written.
func (s *AccessService) Grant(ctx context.Context, objectID, caller string, principals []string, level models.Permission, objectType, policy string) error {
	if objectID == "" {
		return &models.ValidationError{Field: "object_id", Message: "object ID is required"}
	}
	if caller == "" {
		return &models.ValidationError{Field: "caller", Message: "caller is required"}
	}
	if len(principals) == 0 {
		return &models.ValidationError{Field: "principals", Message: "at least one principal is required"}
	}
	if !level.IsValid() {
		return &models.ValidationError{Field: "level", Message: "permission must be read, write or owner"}
	}

	owner, err := s.repo.ClaimOwner(ctx, objectID, caller, objectType, policy)
	if err != nil {
		return err
	}

	if owner != caller {
		required := models.PermissionWrite
		if level == models.PermissionOwner {
			required = models.PermissionOwner
		}
		held, err := s.repo.MaxPermission(ctx, objectID, []string{caller})
		if err != nil {
			return err
		}
		if held == "" || !held.Covers(required) {
			return models.NewForbiddenError(objectID, caller, string(required))
		}
	}

	now := time.Now().UTC()
	for _, principal := range principals {
		grant := &models.AccessGrant{
			ObjectID:      objectID,
			PrincipalID:   principal,
			Permission:    level,
			PrincipalType: models.PrincipalUser,
			ObjectType:    objectType,
			Policy:        policy,
			CreatedAt:     now,
		}
		if err := s.repo.Put(ctx, grant); err != nil {
			return err
		}
	}

	s.logger.Printf("[%s] Granted %s to %d principals by %s", objectID, level, len(principals), caller)
	return nil
}

// Check reports whether the principal holds at least the required level on
// the object. An absent grant is false, not an error.
func (s *AccessService) Check(ctx context.Context, objectID, principalID string, required models.Permission) (bool, error) {
	if !required.IsValid() {
		return false, &models.ValidationError{Field: "required", Message: "permission must be read, write or owner"}
	}

	grant, err := s.repo.Get(ctx, objectID, principalID)
	if err != nil {
		return false, err
	}
	if grant == nil {
		return false, nil
	}
	return grant.Permission.Covers(required), nil
}

// CheckAny reports whether any of the principals holds the required level.
// Callers pass all identities of one user, typically the user id and the
// immutable id from the bearer claim.
func (s *AccessService) CheckAny(ctx context.Context, objectID string, principalIDs []string, required models.Permission) (bool, error) {
	if !required.IsValid() {
		return false, &models.ValidationError{Field: "required", Message: "permission must be read, write or owner"}
	}
	if len(principalIDs) == 0 {
		return false, nil
	}

	held, err := s.repo.MaxPermission(ctx, objectID, principalIDs)
	if err != nil {
		return false, err
	}
	if held == "" {
		return false, nil
	}
	return held.Covers(required), nil
}

// Simulate evaluates the principal against every (object, level) pair and
// returns the full boolean matrix. It never partially fails: an object whose
// lookup errors, like one that simply has no grants, contributes an all-false
// row.
func (s *AccessService) Simulate(ctx context.Context, objectIDs []string, principalID string, levels []models.Permission) (map[string]map[models.Permission]bool, error) {
	if len(levels) == 0 {
		levels = []models.Permission{models.PermissionRead, models.PermissionWrite, models.PermissionOwner}
	}
	for _, level := range levels {
		if !level.IsValid() {
			return nil, &models.ValidationError{Field: "levels", Message: "permission must be read, write or owner"}
		}
	}

	matrix := make(map[string]map[models.Permission]bool, len(objectIDs))
	for _, objectID := range objectIDs {
		row := make(map[models.Permission]bool, len(levels))
		for _, level := range levels {
			row[level] = false
		}
		matrix[objectID] = row

		grant, err := s.repo.Get(ctx, objectID, principalID)
		if err != nil {
			s.logger.Printf("[%s] Simulate lookup failed for %s: %v", objectID, principalID, err)
			continue
		}
		if grant == nil {
			continue
		}
		for _, level := range levels {
			row[level] = grant.Permission.Covers(level)
		}
	}
	return matrix, nil
}

// Revoke removes a principal's grant. Principals may always drop their own
// access; removing someone else's needs owner.
func (s *AccessService) Revoke(ctx context.Context, objectID, caller, principalID string) error {
	if caller != principalID {
		held, err := s.repo.MaxPermission(ctx, objectID, []string{caller})
		if err != nil {
			return err
		}
		if held != models.PermissionOwner {
			return models.NewForbiddenError(objectID, caller, string(models.PermissionOwner))
		}
	}
	return s.repo.Revoke(ctx, objectID, principalID)
}

// Owner returns the owning principal of an object, or "" when it has none.
func (s *AccessService) Owner(ctx context.Context, objectID string) (string, error) {
	return s.repo.Owner(ctx, objectID)
}
