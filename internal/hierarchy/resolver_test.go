package hierarchy

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRepo struct {
	nodes     map[int64]Node
	nodeCalls int
}

func (s *stubRepo) Node(ctx context.Context, id int64) (Node, error) {
	s.nodeCalls++
	n, ok := s.nodes[id]
	if !ok {
		return Node{}, ErrNotFound
	}
	return n, nil
}

func (s *stubRepo) NodesByID(ctx context.Context, ids []int64) (map[int64]Node, error) {
	out := make(map[int64]Node, len(ids))
	for _, id := range ids {
		if n, ok := s.nodes[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

func testTree() map[int64]Node {
	return map[int64]Node{
		1: {ID: 1, Kind: KindOrganization, Name: "Lyceum North", Path: []int64{1}},
		2: {ID: 2, Kind: KindCourseFamily, Name: "Mathematics", ParentID: 1, Path: []int64{1, 2}},
		3: {ID: 3, Kind: KindCourse, Name: "Algebra I", ParentID: 2, Path: []int64{1, 2, 3}},
		4: {ID: 4, Kind: KindCourseContent, Name: "Homework 1", ParentID: 3, Path: []int64{1, 2, 3, 4}},
	}
}

func newTestResolver(t *testing.T, repo *stubRepo, rdb *redis.Client) *Resolver {
	t.Helper()
	r, err := NewResolver(repo, rdb, time.Minute, nil)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func TestAncestorsReturnsRootFirstChain(t *testing.T) {
	repo := &stubRepo{nodes: testTree()}
	r := newTestResolver(t, repo, nil)

	chain, err := r.Ancestors(context.Background(), 4)
	require.NoError(t, err)
	require.Len(t, chain, 4)
	assert.Equal(t, int64(1), chain[0].ID)
	assert.Equal(t, int64(4), chain[3].ID)
	assert.Equal(t, KindOrganization, chain[0].Kind)
	assert.Equal(t, 3, chain[3].Depth())
}

func TestAncestorsRootIsItsOwnChain(t *testing.T) {
	repo := &stubRepo{nodes: testTree()}
	r := newTestResolver(t, repo, nil)

	chain, err := r.Ancestors(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, 0, chain[0].Depth())
}

func TestAncestorsUnknownResource(t *testing.T) {
	repo := &stubRepo{nodes: testTree()}
	r := newTestResolver(t, repo, nil)

	_, err := r.Ancestors(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAncestorsRejectsCorruptPaths(t *testing.T) {
	nodes := testTree()
	nodes[9] = Node{ID: 9, Kind: KindCourse, Name: "orphan path", ParentID: 7, Path: []int64{1, 7, 9}}
	nodes[10] = Node{ID: 10, Kind: KindCourse, Name: "broken link", ParentID: 99, Path: []int64{1, 10}}
	nodes[11] = Node{ID: 11, Kind: KindCourse, Name: "revisits", ParentID: 1, Path: []int64{1, 11, 11}}
	nodes[12] = Node{ID: 12, Kind: KindCourse, Name: "empty path", ParentID: 1, Path: nil}

	repo := &stubRepo{nodes: nodes}
	r := newTestResolver(t, repo, nil)

	for _, id := range []int64{9, 10, 11, 12} {
		_, err := r.Ancestors(context.Background(), id)
		assert.ErrorIs(t, err, ErrCorrupt, "node %d", id)
	}
}

func TestAncestorsUsesPathCache(t *testing.T) {
	repo := &stubRepo{nodes: testTree()}
	r := newTestResolver(t, repo, nil)

	_, err := r.Ancestors(context.Background(), 4)
	require.NoError(t, err)
	r.paths.Wait()

	calls := repo.nodeCalls
	_, err = r.Ancestors(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, calls, repo.nodeCalls, "second lookup should be served from the path cache")
}

func TestInvalidateClearsPathCache(t *testing.T) {
	repo := &stubRepo{nodes: testTree()}
	r := newTestResolver(t, repo, nil)

	_, err := r.Ancestors(context.Background(), 4)
	require.NoError(t, err)
	r.paths.Wait()

	r.Invalidate(context.Background(), 1)

	calls := repo.nodeCalls
	_, err = r.Ancestors(context.Background(), 4)
	require.NoError(t, err)
	assert.Greater(t, repo.nodeCalls, calls, "lookup after invalidation should reload from the repository")
}

func TestInvalidationFansOutOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	repo := &stubRepo{nodes: testTree()}
	listener := newTestResolver(t, repo, client)
	listener.ListenForInvalidation(ctx)

	publisher := newTestResolver(t, &stubRepo{nodes: testTree()}, client)

	_, err := listener.Ancestors(ctx, 4)
	require.NoError(t, err)
	listener.paths.Wait()
	primed := repo.nodeCalls

	// Re-publish while polling so the test does not race subscription setup.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		publisher.Invalidate(ctx, 2)
		time.Sleep(10 * time.Millisecond)
		if _, err := listener.Ancestors(ctx, 4); err != nil {
			t.Fatalf("ancestors: %v", err)
		}
		if repo.nodeCalls > primed {
			return
		}
	}
	t.Fatalf("listener did not clear its path cache after remote invalidation")
}

func TestVerifyTreeAcceptsHealthyTree(t *testing.T) {
	nodes := make([]Node, 0, 4)
	for _, n := range testTree() {
		nodes = append(nodes, n)
	}
	assert.Empty(t, VerifyTree(nodes))
}

func TestVerifyTreeReportsCycleAndOrphans(t *testing.T) {
	nodes := []Node{
		{ID: 1, Kind: KindOrganization, Path: []int64{1}},
		{ID: 2, Kind: KindCourseFamily, ParentID: 3, Path: []int64{1, 3, 2}},
		{ID: 3, Kind: KindCourse, ParentID: 2, Path: []int64{1, 2, 3}},
		{ID: 5, Kind: KindCourse, ParentID: 42, Path: []int64{42, 5}},
		{ID: 6, Kind: KindCourseGroup, ParentID: 1, Path: []int64{1, 3, 6}},
	}
	problems := VerifyTree(nodes)
	require.NotEmpty(t, problems)

	byNode := make(map[int64]string, len(problems))
	for _, p := range problems {
		byNode[p.NodeID] = p.Detail
	}
	assert.Contains(t, byNode[2], "cycle")
	assert.Contains(t, byNode[3], "cycle")
	assert.Contains(t, byNode[5], "missing parent")
	assert.Contains(t, byNode[6], "disagrees")
}
