package authz

import (
	"errors"
	"strings"
	"time"

	"github.com/lyceum-lms/lyceum-lms/internal/hierarchy"
)

// WildcardScope marks a claim that applies to every resource node. Wildcard
// matches rank below any concrete scope, so a claim anchored to a real node
// always wins over a wildcard claim.
const WildcardScope int64 = 0

const (
	denyValue  = "deny"
	denyPrefix = "deny:"
)

// Action names one operation checked against a resource.
type Action string

// Canonical actions. Claim types may name any action, these are the ones the
// platform checks.
const (
	ActionView   Action = "view"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
	ActionMove   Action = "move"
	ActionEnroll Action = "enroll"
	ActionGrade  Action = "grade"
	ActionSubmit Action = "submit"
)

// ActionGroups maps a claim type to the actions it covers in addition to the
// action sharing the claim type's own name. "manage" is the broad
// administrative group used by organization and course staff roles.
var ActionGroups = map[string][]Action{
	"manage": {ActionView, ActionEdit, ActionDelete, ActionMove, ActionEnroll, ActionGrade, ActionSubmit},
	"teach":  {ActionView, ActionGrade},
}

// Claim is a single (scope, action-group, allow/deny) authorization fact.
// The value is empty for a plain allow of the whole group, an action name to
// narrow the grant, "deny" for an explicit deny of the group, or
// "deny:<action>" for a narrowed deny.
type Claim struct {
	Type       string         `json:"type"`
	Value      string         `json:"value,omitempty"`
	Scope      int64          `json:"scope"`
	Properties map[string]any `json:"properties,omitempty"`
	RoleID     int64          `json:"role_id,omitempty"` // zero for direct claims
}

// Denies reports whether the claim carries the explicit deny marker.
func (c Claim) Denies() bool {
	return c.Value == denyValue || strings.HasPrefix(c.Value, denyPrefix)
}

// narrowed returns the single action the claim value restricts the claim to,
// or empty when the whole claim type applies.
func (c Claim) narrowed() Action {
	switch {
	case c.Value == "" || c.Value == denyValue:
		return ""
	case strings.HasPrefix(c.Value, denyPrefix):
		return Action(strings.TrimPrefix(c.Value, denyPrefix))
	default:
		return Action(c.Value)
	}
}

// Covers reports whether the claim applies to action, honouring both the
// claim type's action group and any narrowing in the claim value.
func (c Claim) Covers(action Action) bool {
	if narrowed := c.narrowed(); narrowed != "" && narrowed != action {
		return false
	}
	if Action(c.Type) == action {
		return true
	}
	for _, a := range ActionGroups[c.Type] {
		if a == action {
			return true
		}
	}
	return false
}

// Principal is an immutable identity snapshot built once per evaluation.
// ClaimsVersion is the store's version counter for the subject's claim set;
// it feeds the fingerprint so cached decisions expire when claims change.
type Principal struct {
	SubjectID     string  `json:"subject_id"`
	RoleIDs       []int64 `json:"role_ids,omitempty"`
	DirectClaims  []Claim `json:"direct_claims,omitempty"`
	BuiltinAdmin  bool    `json:"builtin_admin,omitempty"`
	ClaimsVersion int64   `json:"claims_version"`
}

// ClaimRef identifies the claim that decided an evaluation.
type ClaimRef struct {
	Type   string `json:"type"`
	Value  string `json:"value,omitempty"`
	Scope  int64  `json:"scope"`
	RoleID int64  `json:"role_id,omitempty"`
}

// Decision reason codes. The first three describe normal outcomes; the rest
// classify fail-closed denials.
const (
	ReasonBuiltinAdmin           = "builtin_admin"
	ReasonClaimMatch             = "claim_match"
	ReasonDefaultDeny            = "default_deny"
	ReasonAuthenticationRequired = "authentication_required"
	ReasonReferenceNotFound      = "reference_not_found"
	ReasonHandlerPanic           = "handler_panic"
)

// Decision sources.
const (
	SourceLive  = "live"
	SourceCache = "cache"
)

// Decision is the outcome of evaluating one principal/resource/action
// triple. Rank is the depth of the matched scope (resource itself ranks
// highest, the wildcard ranks -1); it is -1 with a nil Matched for default
// denials.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Reason     string        `json:"reason"`
	Matched    *ClaimRef     `json:"matched,omitempty"`
	Rank       int           `json:"rank"`
	ComputedAt time.Time     `json:"computed_at"`
	TTL        time.Duration `json:"ttl,omitempty"`
	Source     string        `json:"source,omitempty"`
}

// ErrConfiguration marks corrupted authorization data, such as a hierarchy
// cycle. It is surfaced as a hard error and never converted into a deny.
var ErrConfiguration = errors.New("authz: configuration error")

// Request carries one evaluation through the handler registry.
type Request struct {
	Principal Principal
	Kind      hierarchy.Kind
	Chain     []hierarchy.Node // root first, inclusive of the resource
	Claims    []Claim          // effective claims of the principal
	Action    Action
}

// Resource is the node the request targets.
func (r Request) Resource() hierarchy.Node {
	if len(r.Chain) == 0 {
		return hierarchy.Node{}
	}
	return r.Chain[len(r.Chain)-1]
}
