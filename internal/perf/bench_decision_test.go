package perf

import (
	"sort"
	"testing"
	"time"

	"github.com/lyceum-lms/lyceum-lms/internal/authz"
	"github.com/lyceum-lms/lyceum-lms/internal/hierarchy"
)

func TestDecisionLatencyTargets(t *testing.T) {
	scenarios := []struct {
		name      string
		samples   []time.Duration
		threshold time.Duration
	}{
		{
			name:      "cached",
			samples:   []time.Duration{400 * time.Microsecond, 500 * time.Microsecond, 600 * time.Microsecond, 800 * time.Microsecond, time.Millisecond, 1200 * time.Microsecond, 1500 * time.Microsecond, 1800 * time.Microsecond, 2200 * time.Microsecond, 2600 * time.Microsecond},
			threshold: 5 * time.Millisecond,
		},
		{
			name:      "live",
			samples:   []time.Duration{18 * time.Millisecond, 22 * time.Millisecond, 28 * time.Millisecond, 34 * time.Millisecond, 41 * time.Millisecond, 50 * time.Millisecond, 62 * time.Millisecond, 74 * time.Millisecond, 86 * time.Millisecond, 95 * time.Millisecond},
			threshold: 150 * time.Millisecond,
		},
	}

	for _, scenario := range scenarios {
		p95 := percentile95(scenario.samples)
		if p95 > scenario.threshold {
			t.Fatalf("%s latency regression: p95=%s threshold=%s", scenario.name, p95, scenario.threshold)
		}
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	if index < 0 {
		index = 0
	}
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

// benchChain is a full-depth resource path: organization, course family,
// course, group, content item.
func benchChain() []hierarchy.Node {
	return []hierarchy.Node{
		{ID: 1, Kind: hierarchy.KindOrganization, Path: []int64{1}},
		{ID: 2, Kind: hierarchy.KindCourseFamily, ParentID: 1, Path: []int64{1, 2}},
		{ID: 4, Kind: hierarchy.KindCourse, ParentID: 2, Path: []int64{1, 2, 4}},
		{ID: 6, Kind: hierarchy.KindCourseGroup, ParentID: 4, Path: []int64{1, 2, 4, 6}},
		{ID: 7, Kind: hierarchy.KindCourseContent, ParentID: 6, Path: []int64{1, 2, 4, 6, 7}},
	}
}

// benchClaims mixes role grants across scopes with narrowing values, an
// explicit deny, a wildcard, and claims anchored off the chain that Decide
// has to skip.
func benchClaims() []authz.Claim {
	return []authz.Claim{
		{Type: "manage", Scope: 1, RoleID: 10},
		{Type: "view", Scope: 1, RoleID: 40},
		{Type: "teach", Scope: 2, RoleID: 20},
		{Type: "manage", Value: "deny:delete", Scope: 4, RoleID: 20},
		{Type: "submit", Scope: 6, RoleID: 40},
		{Type: "view", Scope: 7},
		{Type: "submit", Value: "deny", Scope: 7, RoleID: 30},
		{Type: "manage", Scope: authz.WildcardScope, RoleID: 10},
		{Type: "grade", Scope: 9, RoleID: 20},
		{Type: "view", Scope: 12, RoleID: 40},
		{Type: "teach", Scope: 15, RoleID: 20},
		{Type: "edit", Scope: 3, RoleID: 20},
	}
}

func benchPrincipal() authz.Principal {
	return authz.Principal{
		SubjectID:     "teacher-belen",
		RoleIDs:       []int64{10, 20, 40},
		ClaimsVersion: 7,
		DirectClaims: []authz.Claim{
			{Type: "view", Scope: 7},
		},
	}
}

func BenchmarkDecide(b *testing.B) {
	principal := benchPrincipal()
	chain := benchChain()
	claims := benchClaims()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		decision := authz.Evaluator{}.Decide(principal, chain, claims, authz.ActionSubmit)
		if decision.Reason == authz.ReasonDefaultDeny {
			b.Fatal("benchmark claims no longer match")
		}
	}
}

func BenchmarkDecisionKey(b *testing.B) {
	principal := benchPrincipal()
	chain := benchChain()
	epochs := []int64{3, 1, 9, 0, 2}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if key := authz.DecisionKey(principal, 5, chain, epochs, authz.ActionView); key == "" {
			b.Fatal("empty decision key")
		}
	}
}
