package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/lyceum-lms/lyceum-lms/internal/authz"
	authzcache "github.com/lyceum-lms/lyceum-lms/internal/authz/cache"
	"github.com/lyceum-lms/lyceum-lms/internal/hierarchy"
	jobmetrics "github.com/lyceum-lms/lyceum-lms/internal/jobs"
	"github.com/lyceum-lms/lyceum-lms/jobs"
)

type fixedTree struct {
	chains map[int64][]hierarchy.Node
}

func (f fixedTree) Ancestors(_ context.Context, id int64) ([]hierarchy.Node, error) {
	chain, ok := f.chains[id]
	if !ok {
		return nil, hierarchy.ErrNotFound
	}
	return chain, nil
}

type fixedClaims struct {
	principals map[string]authz.Principal
	sets       map[string][]authz.Claim
}

func (f fixedClaims) Snapshot(_ context.Context, subjectID string) (authz.Principal, error) {
	p, ok := f.principals[subjectID]
	if !ok {
		return authz.Principal{}, authz.ErrUnknownSubject
	}
	return p, nil
}

func (f fixedClaims) EffectiveClaims(_ context.Context, p authz.Principal) ([]authz.Claim, error) {
	return append([]authz.Claim(nil), f.sets[p.SubjectID]...), nil
}

// The full path a course move takes: decisions are cached, the queued
// invalidation job bumps the subtree epoch, and the next check recomputes.
func TestSubtreeInvalidationFlow(t *testing.T) {
	org := hierarchy.Node{ID: 1, Kind: hierarchy.KindOrganization, Path: []int64{1}}
	course := hierarchy.Node{ID: 2, Kind: hierarchy.KindCourse, ParentID: 1, Path: []int64{1, 2}}
	tree := fixedTree{chains: map[int64][]hierarchy.Node{
		1: {org},
		2: {org, course},
	}}
	directory := fixedClaims{
		principals: map[string]authz.Principal{
			"teacher-7": {SubjectID: "teacher-7", ClaimsVersion: 1},
		},
		sets: map[string][]authz.Claim{
			"teacher-7": {{Type: "manage", Scope: 1}},
		},
	}
	mem := authzcache.NewMemory(time.Minute)
	defer mem.Close()

	engine := authz.NewService(authz.ServiceParams{
		Hierarchy: tree,
		Claims:    directory,
		Store:     mem,
		Epochs:    mem,
	})

	ctx := context.Background()
	first, err := engine.EvaluateSubject(ctx, "teacher-7", hierarchy.KindCourse, 2, "edit")
	if err != nil {
		t.Fatalf("first evaluate: %v", err)
	}
	if !first.Allowed || first.Source != authz.SourceLive {
		t.Fatalf("expected live allow, got allowed=%v source=%s", first.Allowed, first.Source)
	}

	second, err := engine.EvaluateSubject(ctx, "teacher-7", hierarchy.KindCourse, 2, "edit")
	if err != nil {
		t.Fatalf("second evaluate: %v", err)
	}
	if second.Source != authz.SourceCache {
		t.Fatalf("expected cached decision, got source=%s", second.Source)
	}

	reg := prometheus.NewRegistry()
	job := jobs.NewInvalidationJob(engine, nil, jobmetrics.NewMetrics(reg))
	task, err := jobs.NewInvalidateSubtreeTask(1)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := job.HandleSubtree(ctx, task); err != nil {
		t.Fatalf("handle subtree: %v", err)
	}

	third, err := engine.EvaluateSubject(ctx, "teacher-7", hierarchy.KindCourse, 2, "edit")
	if err != nil {
		t.Fatalf("third evaluate: %v", err)
	}
	if third.Source != authz.SourceLive {
		t.Fatalf("expected recomputed decision after invalidation, got source=%s", third.Source)
	}
	if !third.Allowed {
		t.Fatal("invalidation must not change the outcome when claims are unchanged")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if !assertCounter(t, families, "lyceum_jobs_total", map[string]string{"job": jobs.TaskInvalidateSubtree, "status": "success"}, 1) {
		t.Fatalf("expected lyceum_jobs_total increment for subtree invalidation")
	}
	if !metricExists(families, "lyceum_job_duration_seconds") {
		t.Fatalf("expected lyceum_job_duration_seconds to be recorded")
	}
}

func assertCounter(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string, expected float64) bool {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if matchLabels(metric.GetLabel(), labels) {
				if metric.GetCounter() == nil {
					return false
				}
				if metric.GetCounter().GetValue() == expected {
					return true
				}
			}
		}
	}
	return false
}

func metricExists(families []*dto.MetricFamily, name string) bool {
	for _, fam := range families {
		if fam.GetName() == name {
			return true
		}
	}
	return false
}

func matchLabels(pairs []*dto.LabelPair, expected map[string]string) bool {
	if len(expected) == 0 {
		return true
	}
	seen := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		seen[pair.GetName()] = pair.GetValue()
	}
	for k, v := range expected {
		if seen[k] != v {
			return false
		}
	}
	return true
}
