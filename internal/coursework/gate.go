package coursework

import (
	"context"
	"fmt"
	"time"

	"github.com/lyceum-lms/lyceum-lms/internal/authz"
	"github.com/lyceum-lms/lyceum-lms/internal/hierarchy"
)

// Deny reasons the gate can attach to a narrowed decision.
const (
	ReasonSubmissionWindow = "submission_window"
	ReasonSubmissionLimit  = "submission_limit"
)

// GateStore is the slice of the repository the gate reads.
type GateStore interface {
	LimitsFor(ctx context.Context, contentID int64) (Limits, bool, error)
	SubmissionCount(ctx context.Context, contentID int64, subjectID string) (int, error)
}

// Gate narrows submit decisions on course content: an allow produced by the
// claim evaluator is turned into a deny when the content's submission window
// is closed or the subject has used up its attempts. Decisions carrying a
// gate deny stay cached like any other, so whatever records a submission or
// edits limits must invalidate the content's subtree.
type Gate struct {
	store GateStore
	now   func() time.Time
}

// NewGate constructs a gate reading limits from store.
func NewGate(store GateStore) *Gate {
	return &Gate{store: store, now: time.Now}
}

// Mount registers the gate on the course content kind.
func (g *Gate) Mount(reg *authz.Registry) {
	reg.RegisterNarrowing(hierarchy.KindCourseContent, g.Narrow)
}

// Narrow implements the narrowing contract: it only ever downgrades base.
func (g *Gate) Narrow(ctx context.Context, req authz.Request, base authz.Decision) (authz.Decision, error) {
	if req.Action != authz.ActionSubmit {
		return base, nil
	}
	contentID := req.Resource().ID
	limits, ok, err := g.store.LimitsFor(ctx, contentID)
	if err != nil {
		return authz.Decision{}, fmt.Errorf("coursework: limits of %d: %w", contentID, err)
	}
	if !ok {
		return base, nil
	}
	now := g.now()
	if !limits.AvailableFrom.IsZero() && now.Before(limits.AvailableFrom) {
		return g.deny(base, ReasonSubmissionWindow), nil
	}
	if !limits.AvailableUntil.IsZero() && now.After(limits.AvailableUntil) {
		return g.deny(base, ReasonSubmissionWindow), nil
	}
	if limits.MaxSubmissions > 0 {
		count, err := g.store.SubmissionCount(ctx, contentID, req.Principal.SubjectID)
		if err != nil {
			return authz.Decision{}, fmt.Errorf("coursework: submissions of %s on %d: %w", req.Principal.SubjectID, contentID, err)
		}
		if count >= limits.MaxSubmissions {
			return g.deny(base, ReasonSubmissionLimit), nil
		}
	}
	return base, nil
}

// deny keeps the matched claim and rank of the overridden allow so the
// decision still shows which grant was narrowed.
func (g *Gate) deny(base authz.Decision, reason string) authz.Decision {
	return authz.Decision{
		Allowed:    false,
		Reason:     reason,
		Matched:    base.Matched,
		Rank:       base.Rank,
		ComputedAt: g.now(),
	}
}
