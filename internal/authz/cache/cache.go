// Package authzcache holds the decision cache backends. Both backends share
// one contract so the engine receives its cache by injection: the in-memory
// store for tests and single-node deployments, the Redis store for fleets.
package authzcache

import (
	"context"
	"time"
)

// KeyInfo describes one live cache entry for introspection.
type KeyInfo struct {
	Key string        `json:"key"`
	TTL time.Duration `json:"ttl"`
}

// Store memoizes JSON-encoded decisions under stable keys. Entries always
// carry a TTL; a missing invalidation signal can therefore never outlive it.
type Store interface {
	// Get decodes the entry under key into dest, reporting whether it existed.
	Get(ctx context.Context, key string, dest any) (bool, error)
	// Put stores value under key for ttl. Non-positive TTLs are not stored.
	Put(ctx context.Context, key string, value any, ttl time.Duration) error
	// Purge removes entries whose key matches, returning how many went away.
	Purge(ctx context.Context, match func(key string) bool) (int, error)
	// Keys enumerates live entries under prefix with their remaining TTL.
	Keys(ctx context.Context, prefix string) ([]KeyInfo, error)
}

// Epochs tracks invalidation counters for principals and scopes. Decision
// keys embed these counters, so bumping one reroutes future lookups to fresh
// keys while the orphaned entries age out by TTL. Counters only grow; they
// never reset while the backend lives.
type Epochs interface {
	PrincipalEpoch(ctx context.Context, subjectID string) (int64, error)
	ScopeEpochs(ctx context.Context, ids []int64) ([]int64, error)
	BumpPrincipal(ctx context.Context, subjectID string) (int64, error)
	BumpScope(ctx context.Context, id int64) (int64, error)
}
