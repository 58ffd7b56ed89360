package jobs

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lyceum-lms/lyceum-lms/internal/authz"
	authzcache "github.com/lyceum-lms/lyceum-lms/internal/authz/cache"
	"github.com/lyceum-lms/lyceum-lms/internal/hierarchy"
	jobmetrics "github.com/lyceum-lms/lyceum-lms/internal/jobs"
)

type stubEngine struct {
	subtrees   []int64
	principals []string
	err        error
}

func (s *stubEngine) InvalidateSubtree(ctx context.Context, resourceID int64) error {
	if s.err != nil {
		return s.err
	}
	s.subtrees = append(s.subtrees, resourceID)
	return nil
}

func (s *stubEngine) InvalidatePrincipal(ctx context.Context, subjectID string) error {
	if s.err != nil {
		return s.err
	}
	s.principals = append(s.principals, subjectID)
	return nil
}

func isolatedMetrics() *jobmetrics.Metrics {
	return jobmetrics.NewMetrics(prometheus.NewRegistry())
}

func TestInvalidationJobHandleSubtree(t *testing.T) {
	engine := &stubEngine{}
	job := NewInvalidationJob(engine, nil, isolatedMetrics())

	task, err := NewInvalidateSubtreeTask(42)
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if err := job.HandleSubtree(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(engine.subtrees) != 1 || engine.subtrees[0] != 42 {
		t.Fatalf("expected subtree 42 invalidated, got %v", engine.subtrees)
	}

	bad := asynq.NewTask(TaskInvalidateSubtree, []byte("{"))
	if err := job.HandleSubtree(context.Background(), bad); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for malformed payload, got %v", err)
	}

	zero, err := NewInvalidateSubtreeTask(0)
	if err != nil {
		t.Fatalf("build zero task: %v", err)
	}
	if err := job.HandleSubtree(context.Background(), zero); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for zero resource id, got %v", err)
	}
}

func TestInvalidationJobHandlePrincipal(t *testing.T) {
	engine := &stubEngine{}
	job := NewInvalidationJob(engine, nil, isolatedMetrics())

	task, err := NewInvalidatePrincipalTask("u-1")
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if err := job.HandlePrincipal(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(engine.principals) != 1 || engine.principals[0] != "u-1" {
		t.Fatalf("expected principal u-1 invalidated, got %v", engine.principals)
	}

	engine.err = errors.New("redis gone")
	retry, err := NewInvalidatePrincipalTask("u-2")
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if err := job.HandlePrincipal(context.Background(), retry); err == nil || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected retryable failure, got %v", err)
	}
}

type stubPruner struct {
	retention time.Duration
	removed   int64
	err       error
}

func (s *stubPruner) PruneOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	s.retention = retention
	return s.removed, s.err
}

func TestAuditPruneJobHandle(t *testing.T) {
	pruner := &stubPruner{removed: 12}
	job := NewAuditPruneJob(pruner, 30*24*time.Hour, nil, isolatedMetrics())

	task, err := NewAuditPruneTask(0)
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if err := job.Handle(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if pruner.retention != 30*24*time.Hour {
		t.Fatalf("expected configured retention, got %s", pruner.retention)
	}

	task, err = NewAuditPruneTask(7 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if err := job.Handle(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if pruner.retention != 7*24*time.Hour {
		t.Fatalf("expected payload retention, got %s", pruner.retention)
	}

	bad := asynq.NewTask(TaskAuditPrune, []byte(`{"retention":"banana"}`))
	if err := job.Handle(context.Background(), bad); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for bad retention, got %v", err)
	}
}

type stubNodes struct {
	nodes []hierarchy.Node
	err   error
}

func (s *stubNodes) AllNodes(ctx context.Context) ([]hierarchy.Node, error) {
	return s.nodes, s.err
}

func TestHierarchyVerifyJobHandle(t *testing.T) {
	healthy := &stubNodes{nodes: []hierarchy.Node{
		{ID: 1, Kind: hierarchy.KindOrganization, Path: []int64{1}},
		{ID: 2, Kind: hierarchy.KindCourseFamily, ParentID: 1, Path: []int64{1, 2}},
	}}
	job := NewHierarchyVerifyJob(healthy, nil, isolatedMetrics())
	if err := job.Handle(context.Background(), NewHierarchyVerifyTask()); err != nil {
		t.Fatalf("expected clean sweep, got %v", err)
	}

	corrupt := &stubNodes{nodes: []hierarchy.Node{
		{ID: 5, Kind: hierarchy.KindCourse, ParentID: 5, Path: []int64{5}},
	}}
	job = NewHierarchyVerifyJob(corrupt, nil, isolatedMetrics())
	err := job.Handle(context.Background(), NewHierarchyVerifyTask())
	if err == nil {
		t.Fatalf("expected failure for corrupt tree")
	}
	if !strings.Contains(err.Error(), "1 problems") {
		t.Fatalf("expected problem count in error, got %v", err)
	}
}

type stubGauge struct {
	entries int
	calls   int
}

func (s *stubGauge) SetCacheEntries(n int) {
	s.entries = n
	s.calls++
}

func TestCacheMetricsJobHandle(t *testing.T) {
	mem := authzcache.NewMemory(time.Minute)
	defer mem.Close()
	ctx := context.Background()
	if err := mem.Put(ctx, authz.KeyPrefix+"s:u-1:r:4:a:edit:aa", authz.Decision{Allowed: true}, time.Minute); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	if err := mem.Put(ctx, authz.KeyPrefix+"s:u-2:r:4:a:view:bb", authz.Decision{}, time.Minute); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	gauge := &stubGauge{}
	job := NewCacheMetricsJob(mem, gauge, nil, isolatedMetrics())
	if err := job.Handle(ctx, NewCacheMetricsTask()); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if gauge.calls != 1 || gauge.entries != 2 {
		t.Fatalf("expected 2 sampled entries, got %+v", gauge)
	}
}
