package claims

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lyceum-lms/lyceum-lms/internal/authz"
)

// Repository reads subjects, roles, and claim rows from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository wrapper.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Subject loads a subject by id.
func (r *Repository) Subject(ctx context.Context, id string) (Subject, error) {
	if r == nil || r.pool == nil {
		return Subject{}, fmt.Errorf("claims: repository not initialised")
	}
	query := `SELECT id, display_name, builtin_admin, claims_version, created_at, updated_at
FROM subjects WHERE id = $1`
	var s Subject
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&s.ID, &s.DisplayName, &s.BuiltinAdmin, &s.ClaimsVersion, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Subject{}, authz.ErrUnknownSubject
		}
		return Subject{}, err
	}
	return s, nil
}

// SubjectRoleIDs returns the subject's role ids in assignment order.
func (r *Repository) SubjectRoleIDs(ctx context.Context, subjectID string) ([]int64, error) {
	if r == nil || r.pool == nil {
		return nil, fmt.Errorf("claims: repository not initialised")
	}
	rows, err := r.pool.Query(ctx,
		`SELECT role_id FROM subject_roles WHERE subject_id = $1 ORDER BY position, role_id`, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RolesByID loads roles keyed by id. Ids absent from the store are simply
// missing from the result map; the resolver treats them as unresolvable.
func (r *Repository) RolesByID(ctx context.Context, ids []int64) (map[int64]Role, error) {
	if r == nil || r.pool == nil {
		return nil, fmt.Errorf("claims: repository not initialised")
	}
	if len(ids) == 0 {
		return map[int64]Role{}, nil
	}
	query := `SELECT id, name, description, builtin_admin, created_at, updated_at
FROM roles WHERE id = ANY($1)`
	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	roles := make(map[int64]Role, len(ids))
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.BuiltinAdmin, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles[role.ID] = role
	}
	return roles, rows.Err()
}

// RoleClaims loads the claim rows of every given role, keyed by role id and
// ordered by position within each role.
func (r *Repository) RoleClaims(ctx context.Context, roleIDs []int64) (map[int64][]authz.Claim, error) {
	if r == nil || r.pool == nil {
		return nil, fmt.Errorf("claims: repository not initialised")
	}
	if len(roleIDs) == 0 {
		return map[int64][]authz.Claim{}, nil
	}
	query := `SELECT role_id, claim_type, claim_value, scope_id
FROM role_claims WHERE role_id = ANY($1) ORDER BY role_id, position, id`
	rows, err := r.pool.Query(ctx, query, roleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	byRole := make(map[int64][]authz.Claim, len(roleIDs))
	for rows.Next() {
		var c authz.Claim
		if err := rows.Scan(&c.RoleID, &c.Type, &c.Value, &c.Scope); err != nil {
			return nil, err
		}
		byRole[c.RoleID] = append(byRole[c.RoleID], c)
	}
	return byRole, rows.Err()
}

// DirectClaims loads the claims granted straight to a subject, in position
// order.
func (r *Repository) DirectClaims(ctx context.Context, subjectID string) ([]authz.Claim, error) {
	if r == nil || r.pool == nil {
		return nil, fmt.Errorf("claims: repository not initialised")
	}
	query := `SELECT claim_type, claim_value, scope_id
FROM subject_claims WHERE subject_id = $1 ORDER BY position, id`
	rows, err := r.pool.Query(ctx, query, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []authz.Claim
	for rows.Next() {
		var c authz.Claim
		if err := rows.Scan(&c.Type, &c.Value, &c.Scope); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
