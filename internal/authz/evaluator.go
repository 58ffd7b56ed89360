package authz

import (
	"time"

	"github.com/lyceum-lms/lyceum-lms/internal/hierarchy"
)

// Evaluator implements the hierarchical precedence algorithm: the most
// specific matching claim wins, an explicit deny beats an allow at equal
// depth, and no match at all means deny. It performs no I/O; ancestors and
// effective claims are loaded by the caller and passed in as immutable
// snapshots, so evaluation is safe at any concurrency without locking.
type Evaluator struct{}

// Decide evaluates action against the resource at the end of chain.
//
// Claims anchored to nodes outside the chain never match, which also makes
// dangling scopes (claims pointing at deleted nodes) automatically revoked:
// they can neither allow nor deny anything.
func (Evaluator) Decide(p Principal, chain []hierarchy.Node, claims []Claim, action Action) Decision {
	now := time.Now()
	if p.BuiltinAdmin {
		return Decision{Allowed: true, Reason: ReasonBuiltinAdmin, Rank: -1, ComputedAt: now, Source: SourceLive}
	}
	rankOf := make(map[int64]int, len(chain))
	for i, n := range chain {
		rankOf[n.ID] = i
	}
	const unmatched = -2
	bestRank := unmatched
	bestDeny := false
	var bestRef *ClaimRef
	for _, c := range claims {
		rank, ok := scopeRank(rankOf, c.Scope)
		if !ok || !c.Covers(action) {
			continue
		}
		deny := c.Denies()
		if rank > bestRank || (rank == bestRank && deny && !bestDeny) {
			bestRank, bestDeny = rank, deny
			ref := ClaimRef{Type: c.Type, Value: c.Value, Scope: c.Scope, RoleID: c.RoleID}
			bestRef = &ref
		}
	}
	if bestRef == nil {
		return Decision{Allowed: false, Reason: ReasonDefaultDeny, Rank: -1, ComputedAt: now, Source: SourceLive}
	}
	return Decision{Allowed: !bestDeny, Reason: ReasonClaimMatch, Matched: bestRef, Rank: bestRank, ComputedAt: now, Source: SourceLive}
}

// scopeRank places a claim scope on the chain: the chain index for concrete
// nodes, -1 for the wildcard, not ok for scopes off the chain.
func scopeRank(rankOf map[int64]int, scope int64) (int, bool) {
	if scope == WildcardScope {
		return -1, true
	}
	rank, ok := rankOf[scope]
	return rank, ok
}
