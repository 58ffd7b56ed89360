package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyceum-lms/lyceum-lms/internal/hierarchy"
)

// org 1 → family 2 → course 3 → content 4
func chainFixture() []hierarchy.Node {
	return []hierarchy.Node{
		{ID: 1, Kind: hierarchy.KindOrganization, Path: []int64{1}},
		{ID: 2, Kind: hierarchy.KindCourseFamily, ParentID: 1, Path: []int64{1, 2}},
		{ID: 3, Kind: hierarchy.KindCourse, ParentID: 2, Path: []int64{1, 2, 3}},
		{ID: 4, Kind: hierarchy.KindCourseContent, ParentID: 3, Path: []int64{1, 2, 3, 4}},
	}
}

func TestDecideBuiltinAdminBypassesClaims(t *testing.T) {
	var ev Evaluator
	p := Principal{SubjectID: "root-admin", BuiltinAdmin: true}

	for _, action := range []Action{"view", "edit", "delete", "launch_missiles"} {
		d := ev.Decide(p, chainFixture(), nil, action)
		assert.True(t, d.Allowed, "action %s", action)
		assert.Equal(t, ReasonBuiltinAdmin, d.Reason)
	}
}

func TestDecideDefaultDeny(t *testing.T) {
	var ev Evaluator
	d := ev.Decide(Principal{SubjectID: "nobody"}, chainFixture(), nil, "view")

	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDefaultDeny, d.Reason)
	assert.Nil(t, d.Matched)
	assert.Equal(t, -1, d.Rank)
}

func TestDecideInheritsAllowFromOrganization(t *testing.T) {
	var ev Evaluator
	claims := []Claim{{Type: "view", Scope: 1, RoleID: 10}}

	d := ev.Decide(Principal{SubjectID: "s1"}, chainFixture(), claims, "view")

	require.True(t, d.Allowed)
	require.NotNil(t, d.Matched)
	assert.Equal(t, int64(1), d.Matched.Scope)
	assert.Equal(t, 0, d.Rank)
}

func TestDecideDeeperDenyBeatsShallowAllow(t *testing.T) {
	var ev Evaluator
	claims := []Claim{
		{Type: "view", Scope: 1},
		{Type: "view", Value: "deny", Scope: 3},
	}
	chain := chainFixture()

	atCourse := ev.Decide(Principal{SubjectID: "s1"}, chain[:3], claims, "view")
	assert.False(t, atCourse.Allowed)
	assert.Equal(t, 2, atCourse.Rank)

	// The deny anchored at the course also shadows its descendants.
	atContent := ev.Decide(Principal{SubjectID: "s1"}, chain, claims, "view")
	assert.False(t, atContent.Allowed)
	assert.Equal(t, 2, atContent.Rank)

	// Outside the course subtree the organization allow still applies.
	atFamily := ev.Decide(Principal{SubjectID: "s1"}, chain[:2], claims, "view")
	assert.True(t, atFamily.Allowed)
}

func TestDecideDeeperAllowBeatsShallowDeny(t *testing.T) {
	var ev Evaluator
	claims := []Claim{
		{Type: "view", Value: "deny", Scope: 1},
		{Type: "view", Scope: 3},
	}

	d := ev.Decide(Principal{SubjectID: "s1"}, chainFixture(), claims, "view")
	require.True(t, d.Allowed)
	assert.Equal(t, 2, d.Rank)
}

func TestDecideEqualRankDenyWins(t *testing.T) {
	allow := Claim{Type: "view", Scope: 3, RoleID: 21}
	deny := Claim{Type: "view", Value: "deny", Scope: 3, RoleID: 22}

	cases := map[string][]Claim{
		"allow first": {allow, deny},
		"deny first":  {deny, allow},
	}
	for name, claims := range cases {
		t.Run(name, func(t *testing.T) {
			var ev Evaluator
			d := ev.Decide(Principal{SubjectID: "s1"}, chainFixture(), claims, "view")
			require.False(t, d.Allowed)
			require.NotNil(t, d.Matched)
			assert.True(t, d.Matched.Value == "deny")
		})
	}
}

func TestDecideWildcardRanksBelowConcreteScopes(t *testing.T) {
	var ev Evaluator
	claims := []Claim{
		{Type: "view", Value: "deny", Scope: WildcardScope},
		{Type: "view", Scope: 1},
	}

	d := ev.Decide(Principal{SubjectID: "s1"}, chainFixture(), claims, "view")
	assert.True(t, d.Allowed, "an organization grant outranks a wildcard deny")

	solo := ev.Decide(Principal{SubjectID: "s1"}, chainFixture(), claims[:1], "view")
	assert.False(t, solo.Allowed)
	assert.Equal(t, -1, solo.Rank)
}

func TestDecideNarrowedClaimValues(t *testing.T) {
	var ev Evaluator
	claims := []Claim{
		{Type: "manage", Scope: 1},
		{Type: "manage", Value: "deny:submit", Scope: 3},
	}
	chain := chainFixture()

	submit := ev.Decide(Principal{SubjectID: "s1"}, chain, claims, "submit")
	assert.False(t, submit.Allowed, "narrowed deny should block submit")

	edit := ev.Decide(Principal{SubjectID: "s1"}, chain, claims, "edit")
	assert.True(t, edit.Allowed, "narrowed deny must not spill over to edit")
}

func TestDecideClaimTypeGroups(t *testing.T) {
	var ev Evaluator
	claims := []Claim{{Type: "teach", Scope: 3}}
	chain := chainFixture()

	assert.True(t, ev.Decide(Principal{SubjectID: "s1"}, chain, claims, "grade").Allowed)
	assert.True(t, ev.Decide(Principal{SubjectID: "s1"}, chain, claims, "view").Allowed)
	assert.False(t, ev.Decide(Principal{SubjectID: "s1"}, chain, claims, "edit").Allowed)
}

func TestDecideDanglingOrSiblingScopesNeverMatch(t *testing.T) {
	var ev Evaluator
	claims := []Claim{
		{Type: "view", Scope: 99},  // deleted node
		{Type: "view", Scope: 777}, // sibling course, not on this chain
	}

	d := ev.Decide(Principal{SubjectID: "s1"}, chainFixture(), claims, "view")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDefaultDeny, d.Reason)
}

func TestDecideIsDeterministic(t *testing.T) {
	var ev Evaluator
	claims := []Claim{
		{Type: "view", Scope: 1, RoleID: 1},
		{Type: "view", Value: "deny", Scope: 3, RoleID: 2},
		{Type: "manage", Scope: 2, RoleID: 3},
		{Type: "view", Scope: 3, RoleID: 4},
	}
	p := Principal{SubjectID: "s1", RoleIDs: []int64{1, 2, 3, 4}}

	first := ev.Decide(p, chainFixture(), claims, "view")
	for i := 0; i < 50; i++ {
		again := ev.Decide(p, chainFixture(), claims, "view")
		require.Equal(t, first.Allowed, again.Allowed)
		require.Equal(t, first.Rank, again.Rank)
		require.Equal(t, first.Matched, again.Matched)
	}
}
