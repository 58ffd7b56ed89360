package claims

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lyceum-lms/lyceum-lms/internal/authz"
)

// RepositoryPort is the slice of the repository the resolver needs.
type RepositoryPort interface {
	Subject(ctx context.Context, id string) (Subject, error)
	SubjectRoleIDs(ctx context.Context, subjectID string) ([]int64, error)
	RolesByID(ctx context.Context, ids []int64) (map[int64]Role, error)
	RoleClaims(ctx context.Context, roleIDs []int64) (map[int64][]authz.Claim, error)
	DirectClaims(ctx context.Context, subjectID string) ([]authz.Claim, error)
}

// Resolver assembles principals and their effective claim sets. A role
// assignment pointing at a role that no longer exists is skipped with a
// warning: the subject keeps evaluating, minus every grant the dead role
// would have carried.
type Resolver struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewResolver constructs a resolver.
func NewResolver(repo RepositoryPort, logger *slog.Logger) *Resolver {
	return &Resolver{repo: repo, logger: logger}
}

// Snapshot loads the principal for subjectID: resolved role ids in
// assignment order, direct claims, the admin flag (from the subject itself
// or any resolved role), and the claims version the cache keys on.
func (r *Resolver) Snapshot(ctx context.Context, subjectID string) (authz.Principal, error) {
	subject, err := r.repo.Subject(ctx, subjectID)
	if err != nil {
		return authz.Principal{}, err
	}
	assigned, err := r.repo.SubjectRoleIDs(ctx, subjectID)
	if err != nil {
		return authz.Principal{}, fmt.Errorf("claims: roles of %s: %w", subjectID, err)
	}
	roles, err := r.repo.RolesByID(ctx, assigned)
	if err != nil {
		return authz.Principal{}, fmt.Errorf("claims: resolve roles of %s: %w", subjectID, err)
	}
	admin := subject.BuiltinAdmin
	resolved := make([]int64, 0, len(assigned))
	for _, id := range assigned {
		role, ok := roles[id]
		if !ok {
			if r.logger != nil {
				r.logger.Warn("skipping unresolvable role assignment",
					slog.String("subject", subjectID), slog.Int64("role_id", id))
			}
			continue
		}
		resolved = append(resolved, id)
		if role.BuiltinAdmin {
			admin = true
		}
	}
	direct, err := r.repo.DirectClaims(ctx, subjectID)
	if err != nil {
		return authz.Principal{}, fmt.Errorf("claims: direct claims of %s: %w", subjectID, err)
	}
	return authz.Principal{
		SubjectID:     subject.ID,
		RoleIDs:       resolved,
		DirectClaims:  direct,
		BuiltinAdmin:  admin,
		ClaimsVersion: subject.ClaimsVersion,
	}, nil
}

// EffectiveClaims returns the union of p's role claims and direct claims:
// role claims in role assignment order, then the direct claims. Duplicates
// are kept; the evaluator's precedence rules make them harmless and
// collapsing them would hide how a grant was produced.
func (r *Resolver) EffectiveClaims(ctx context.Context, p authz.Principal) ([]authz.Claim, error) {
	byRole, err := r.repo.RoleClaims(ctx, p.RoleIDs)
	if err != nil {
		return nil, fmt.Errorf("claims: role claims of %s: %w", p.SubjectID, err)
	}
	out := make([]authz.Claim, 0, len(p.DirectClaims)+len(p.RoleIDs)*4)
	for _, id := range p.RoleIDs {
		// Roles with no claim rows are simply absent from the map.
		out = append(out, byRole[id]...)
	}
	out = append(out, p.DirectClaims...)
	return out, nil
}
