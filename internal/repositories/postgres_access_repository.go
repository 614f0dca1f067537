package repositories

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rag-engine/internal/models"
)

// PostgresAccessRepository implements AccessRepository on pgx.
type PostgresAccessRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresAccessRepository creates a new Postgres-backed access repository.
func NewPostgresAccessRepository(pool *pgxpool.Pool) *PostgresAccessRepository {
	return &PostgresAccessRepository{pool: pool}
}

// ClaimOwner installs principalID as owner if the object has no owner yet.
// The insert and the ownership probe run in one transaction; whoever the
// probe sees afterwards is the owner, first writer wins.
func (r *PostgresAccessRepository) ClaimOwner(ctx context.Context, objectID, principalID, objectType, policy string) (string, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", models.NewUpstreamError("postgres", "claim owner", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO access (object_id, principal_id, permission, principal_type, object_type, policy)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE NOT EXISTS (
			SELECT 1 FROM access WHERE object_id = $1 AND permission = $3
		)
		ON CONFLICT (object_id, principal_id) DO NOTHING`,
		objectID, principalID, string(models.PermissionOwner), string(models.PrincipalUser), objectType, policy)
	if err != nil {
		return "", models.NewUpstreamError("postgres", "claim owner", err)
	}

	var owner string
	err = tx.QueryRow(ctx, `
		SELECT principal_id FROM access
		WHERE object_id = $1 AND permission = $2
		ORDER BY created_at
		LIMIT 1`,
		objectID, string(models.PermissionOwner)).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		// The caller already holds a weaker grant, which blocked the claim.
		owner = ""
	} else if err != nil {
		return "", models.NewUpstreamError("postgres", "claim owner", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", models.NewUpstreamError("postgres", "claim owner", err)
	}
	return owner, nil
}

// Put writes a grant, overwriting any previous permission for the pair.
func (r *PostgresAccessRepository) Put(ctx context.Context, grant *models.AccessGrant) error {
	if err := grant.Validate(); err != nil {
		return err
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO access (object_id, principal_id, permission, principal_type, object_type, policy)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (object_id, principal_id) DO UPDATE SET
			permission     = EXCLUDED.permission,
			principal_type = EXCLUDED.principal_type,
			object_type    = EXCLUDED.object_type,
			policy         = EXCLUDED.policy`,
		grant.ObjectID, grant.PrincipalID, string(grant.Permission),
		string(grant.PrincipalType), grant.ObjectType, grant.Policy)
	if err != nil {
		return models.NewUpstreamError("postgres", "put grant", err)
	}
	return nil
}

const accessColumns = `object_id, principal_id, permission, principal_type, object_type, policy, created_at`

// Get returns the grant for a pair, or nil when none exists.
func (r *PostgresAccessRepository) Get(ctx context.Context, objectID, principalID string) (*models.AccessGrant, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+accessColumns+` FROM access WHERE object_id = $1 AND principal_id = $2`,
		objectID, principalID)

	grant, err := scanGrant(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, models.NewUpstreamError("postgres", "get grant", err)
	}
	return grant, nil
}

// ListByObject returns every grant on an object.
func (r *PostgresAccessRepository) ListByObject(ctx context.Context, objectID string) ([]*models.AccessGrant, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+accessColumns+` FROM access WHERE object_id = $1 ORDER BY created_at`,
		objectID)
	if err != nil {
		return nil, models.NewUpstreamError("postgres", "list grants", err)
	}
	defer rows.Close()

	grants := make([]*models.AccessGrant, 0)
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, models.NewUpstreamError("postgres", "list grants", err)
		}
		grants = append(grants, grant)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewUpstreamError("postgres", "list grants", err)
	}
	return grants, nil
}

// Owner returns the owning principal of an object, or "".
func (r *PostgresAccessRepository) Owner(ctx context.Context, objectID string) (string, error) {
	var owner string
	err := r.pool.QueryRow(ctx, `
		SELECT principal_id FROM access
		WHERE object_id = $1 AND permission = $2
		ORDER BY created_at
		LIMIT 1`,
		objectID, string(models.PermissionOwner)).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", models.NewUpstreamError("postgres", "get owner", err)
	}
	return owner, nil
}

// MaxPermission returns the strongest permission any principal holds.
func (r *PostgresAccessRepository) MaxPermission(ctx context.Context, objectID string, principalIDs []string) (models.Permission, error) {
	if len(principalIDs) == 0 {
		return "", nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT permission FROM access
		WHERE object_id = $1 AND principal_id = ANY($2)`,
		objectID, principalIDs)
	if err != nil {
		return "", models.NewUpstreamError("postgres", "max permission", err)
	}
	defer rows.Close()

	var best models.Permission
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return "", models.NewUpstreamError("postgres", "max permission", err)
		}
		p := models.Permission(raw)
		if best == "" || p.Covers(best) {
			best = p
		}
	}
	if err := rows.Err(); err != nil {
		return "", models.NewUpstreamError("postgres", "max permission", err)
	}
	return best, nil
}

// Revoke removes the grant for a pair.
func (r *PostgresAccessRepository) Revoke(ctx context.Context, objectID, principalID string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM access WHERE object_id = $1 AND principal_id = $2`,
		objectID, principalID)
	if err != nil {
		return models.NewUpstreamError("postgres", "revoke grant", err)
	}
	return nil
}

// scanGrant maps one access row into a model.
func scanGrant(row pgx.Row) (*models.AccessGrant, error) {
	var g models.AccessGrant
	var permission, principalType string
	err := row.Scan(&g.ObjectID, &g.PrincipalID, &permission, &principalType,
		&g.ObjectType, &g.Policy, &g.CreatedAt)
	if err != nil {
		return nil, err
	}
	g.Permission = models.Permission(permission)
	g.PrincipalType = models.PrincipalType(principalType)
	return &g, nil
}
