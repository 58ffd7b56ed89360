package hierarchy

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/redis/go-redis/v9"
)

const invalidationChannel = "lyceum.hierarchy.invalidate"

// RepositoryPort describes the node reads the resolver needs.
type RepositoryPort interface {
	Node(ctx context.Context, id int64) (Node, error)
	NodesByID(ctx context.Context, ids []int64) (map[int64]Node, error)
}

// Resolver produces root-first ancestor chains. Stored paths are verified
// against parent links on every load, so a corrupted tree surfaces as
// ErrCorrupt instead of a wrong decision. Verified chains are kept in an
// in-process cache with a short TTL; invalidation clears the whole cache
// because a re-parented subtree changes descendant paths that cannot be
// enumerated locally.
type Resolver struct {
	repo   RepositoryPort
	paths  *ristretto.Cache
	ttl    time.Duration
	rdb    *redis.Client
	logger *slog.Logger
}

// NewResolver constructs a resolver. rdb is optional; when present it carries
// cross-instance invalidation via pub/sub.
func NewResolver(repo RepositoryPort, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) (*Resolver, error) {
	paths, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("hierarchy: path cache: %w", err)
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Resolver{repo: repo, paths: paths, ttl: ttl, rdb: rdb, logger: logger}, nil
}

// Ancestors returns the chain for id, root first and inclusive of id itself.
// It fails with ErrNotFound for unknown ids and ErrCorrupt when the stored
// path disagrees with parent links, repeats a node, or exceeds MaxDepth.
func (r *Resolver) Ancestors(ctx context.Context, id int64) ([]Node, error) {
	if cached, ok := r.paths.Get(id); ok {
		if chain, ok := cached.([]Node); ok {
			return chain, nil
		}
	}
	node, err := r.repo.Node(ctx, id)
	if err != nil {
		return nil, err
	}
	chain, err := r.buildChain(ctx, node)
	if err != nil {
		return nil, err
	}
	r.paths.SetWithTTL(id, chain, int64(len(chain)), r.ttl)
	return chain, nil
}

func (r *Resolver) buildChain(ctx context.Context, node Node) ([]Node, error) {
	switch {
	case len(node.Path) == 0:
		return nil, fmt.Errorf("%w: node %d has an empty path", ErrCorrupt, node.ID)
	case len(node.Path) > MaxDepth:
		return nil, fmt.Errorf("%w: node %d exceeds max depth %d", ErrCorrupt, node.ID, MaxDepth)
	case node.Path[len(node.Path)-1] != node.ID:
		return nil, fmt.Errorf("%w: node %d path does not end at itself", ErrCorrupt, node.ID)
	}
	seen := make(map[int64]struct{}, len(node.Path))
	for _, pid := range node.Path {
		if _, dup := seen[pid]; dup {
			return nil, fmt.Errorf("%w: node %d path revisits node %d", ErrCorrupt, node.ID, pid)
		}
		seen[pid] = struct{}{}
	}
	nodes, err := r.repo.NodesByID(ctx, node.Path)
	if err != nil {
		return nil, err
	}
	chain := make([]Node, len(node.Path))
	for i, pid := range node.Path {
		n, ok := nodes[pid]
		if !ok {
			return nil, fmt.Errorf("%w: node %d path references missing node %d", ErrCorrupt, node.ID, pid)
		}
		chain[i] = n
	}
	if chain[0].ParentID != 0 {
		return nil, fmt.Errorf("%w: node %d path root %d has a parent", ErrCorrupt, node.ID, chain[0].ID)
	}
	for i := 1; i < len(chain); i++ {
		if chain[i].ParentID != chain[i-1].ID {
			return nil, fmt.Errorf("%w: node %d parent link broken at node %d", ErrCorrupt, node.ID, chain[i].ID)
		}
	}
	return chain, nil
}

// Invalidate drops all cached paths and notifies other instances. Called when
// a subtree moves or is deleted; id identifies the subtree root for logging.
func (r *Resolver) Invalidate(ctx context.Context, id int64) {
	r.paths.Clear()
	if r.rdb == nil {
		return
	}
	if err := r.rdb.Publish(ctx, invalidationChannel, strconv.FormatInt(id, 10)).Err(); err != nil && r.logger != nil {
		r.logger.Warn("hierarchy invalidation publish failed", slog.Int64("resource_id", id), slog.Any("error", err))
	}
}

// ListenForInvalidation subscribes to invalidation events published by other
// instances and clears the local path cache when one arrives.
func (r *Resolver) ListenForInvalidation(ctx context.Context) {
	if r == nil || r.rdb == nil {
		return
	}
	pubsub := r.rdb.Subscribe(ctx, invalidationChannel)
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				r.paths.Clear()
				if r.logger != nil {
					r.logger.Debug("hierarchy path cache cleared", slog.String("resource_id", msg.Payload))
				}
			}
		}
	}()
}

// Close releases the path cache.
func (r *Resolver) Close() {
	if r != nil && r.paths != nil {
		r.paths.Close()
	}
}
