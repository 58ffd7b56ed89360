package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	authzcache "github.com/lyceum-lms/lyceum-lms/internal/authz/cache"
	"github.com/lyceum-lms/lyceum-lms/internal/hierarchy"
)

// ErrUnknownSubject reports that a subject id has no identity in the claim
// store. The engine classifies it as an authentication failure and denies.
var ErrUnknownSubject = errors.New("authz: unknown subject")

// DefaultDecisionTTL bounds how long a cached decision may outlive a missed
// invalidation signal.
const DefaultDecisionTTL = 5 * time.Minute

const defaultBatchConcurrency = 8

// HierarchyPort supplies verified root-first ancestor chains.
type HierarchyPort interface {
	Ancestors(ctx context.Context, id int64) ([]hierarchy.Node, error)
}

// ClaimsPort supplies principal snapshots and effective claim sets.
type ClaimsPort interface {
	Snapshot(ctx context.Context, subjectID string) (Principal, error)
	EffectiveClaims(ctx context.Context, p Principal) ([]Claim, error)
}

// PathInvalidator clears resolver-side path caches when a subtree moves.
type PathInvalidator interface {
	Invalidate(ctx context.Context, resourceID int64)
}

// AuditSink receives the engine's decision trail. Implementations must not
// block the evaluation path.
type AuditSink interface {
	RecordDecision(ctx context.Context, subject string, kind hierarchy.Kind, resourceID int64, action Action, d Decision)
}

// EngineMetrics receives engine instrumentation. A nil hook disables it.
type EngineMetrics interface {
	DecisionEvaluated(outcome, source string, elapsed time.Duration)
	CacheHit()
	CacheMiss()
	CacheError()
	FlightShared()
	InvalidationIssued(kind string)
	HandlerPanicked()
}

// ServiceParams wires the engine service.
type ServiceParams struct {
	Hierarchy HierarchyPort
	Claims    ClaimsPort
	Registry  *Registry
	Store     authzcache.Store
	Epochs    authzcache.Epochs
	Paths     PathInvalidator
	Audit     AuditSink
	Metrics   EngineMetrics
	Logger    *slog.Logger
	// TTL bounds cached decisions; DefaultDecisionTTL when zero.
	TTL time.Duration
	// BatchConcurrency caps parallel evaluations in EvaluateBatch.
	BatchConcurrency int
}

// Service is the engine entry point: it resolves ancestry and claims,
// dispatches through the handler registry, memoizes decisions, and exposes
// the invalidation and introspection operations. The cache is strictly an
// accelerator; when its backend fails the service logs, evaluates live, and
// keeps answering (fail open on the cache, never on the decision).
type Service struct {
	hierarchy  HierarchyPort
	claims     ClaimsPort
	registry   *Registry
	store      authzcache.Store
	epochs     authzcache.Epochs
	paths      PathInvalidator
	audit      AuditSink
	metrics    EngineMetrics
	logger     *slog.Logger
	flight     singleflight.Group
	ttl        time.Duration
	batchLimit int
}

// NewService constructs the engine service.
func NewService(p ServiceParams) *Service {
	if p.Registry == nil {
		p.Registry = NewRegistry(DefaultHandler(), p.Logger)
	}
	if p.TTL <= 0 {
		p.TTL = DefaultDecisionTTL
	}
	if p.BatchConcurrency <= 0 {
		p.BatchConcurrency = defaultBatchConcurrency
	}
	return &Service{
		hierarchy:  p.Hierarchy,
		claims:     p.Claims,
		registry:   p.Registry,
		store:      p.Store,
		epochs:     p.Epochs,
		paths:      p.Paths,
		audit:      p.Audit,
		metrics:    p.Metrics,
		logger:     p.Logger,
		ttl:        p.TTL,
		batchLimit: p.BatchConcurrency,
	}
}

// Registry exposes the handler registry for startup wiring.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Evaluate decides whether p may perform action on the resource. The error
// is non-nil only for configuration faults (hierarchy corruption), store
// failures, or context cancellation; every policy outcome, including
// fail-closed denials, arrives as a Decision.
func (s *Service) Evaluate(ctx context.Context, p Principal, kind hierarchy.Kind, resourceID int64, action Action) (Decision, error) {
	start := time.Now()
	if p.BuiltinAdmin {
		d := Decision{Allowed: true, Reason: ReasonBuiltinAdmin, Rank: -1, ComputedAt: time.Now(), Source: SourceLive}
		s.finish(ctx, p, kind, resourceID, action, d, start)
		return d, nil
	}
	chain, err := s.hierarchy.Ancestors(ctx, resourceID)
	if err != nil {
		switch {
		case errors.Is(err, hierarchy.ErrNotFound):
			return s.denyReference(ctx, p, kind, resourceID, action, start, "resource not found"), nil
		case errors.Is(err, hierarchy.ErrCorrupt):
			if s.logger != nil {
				s.logger.Error("hierarchy corruption detected during evaluation",
					slog.Int64("resource_id", resourceID), slog.Any("error", err))
			}
			return Decision{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
		default:
			return Decision{}, fmt.Errorf("authz: resolve ancestry of %d: %w", resourceID, err)
		}
	}
	// Handlers dispatch on the kind the hierarchy reports, not the one the
	// caller asserted; the assertion only guards against id mix-ups.
	resolved := chain[len(chain)-1].Kind
	if kind != "" && resolved != kind {
		return s.denyReference(ctx, p, kind, resourceID, action, start, "resource kind mismatch"), nil
	}

	key, cacheable := s.decisionKey(ctx, p, chain, action)
	if cacheable {
		var cached Decision
		ok, err := s.store.Get(ctx, key, &cached)
		switch {
		case err != nil:
			s.cacheDegraded("get", err)
		case ok:
			cached.Source = SourceCache
			if s.metrics != nil {
				s.metrics.CacheHit()
			}
			s.finish(ctx, p, kind, resourceID, action, cached, start)
			return cached, nil
		default:
			if s.metrics != nil {
				s.metrics.CacheMiss()
			}
		}
	}

	if !cacheable {
		return s.evaluateLive(ctx, p, resolved, chain, action, "")
	}
	v, err, shared := s.flightDo(ctx, key, func(fctx context.Context) (any, error) {
		return s.evaluateLive(fctx, p, resolved, chain, action, key)
	})
	if err != nil {
		return Decision{}, err
	}
	if shared && s.metrics != nil {
		s.metrics.FlightShared()
	}
	return v.(Decision), nil
}

// EvaluateSubject resolves a snapshot for subjectID and evaluates. Unknown
// subjects are denied with the authentication-required classification.
func (s *Service) EvaluateSubject(ctx context.Context, subjectID string, kind hierarchy.Kind, resourceID int64, action Action) (Decision, error) {
	start := time.Now()
	p, err := s.claims.Snapshot(ctx, subjectID)
	if err != nil {
		if errors.Is(err, ErrUnknownSubject) {
			if s.logger != nil {
				s.logger.Warn("authorization for unknown subject denied", slog.String("subject", subjectID))
			}
			d := Decision{Allowed: false, Reason: ReasonAuthenticationRequired, Rank: -1, ComputedAt: time.Now(), Source: SourceLive}
			s.finish(ctx, Principal{SubjectID: subjectID}, kind, resourceID, action, d, start)
			return d, nil
		}
		return Decision{}, fmt.Errorf("authz: snapshot of %s: %w", subjectID, err)
	}
	return s.Evaluate(ctx, p, kind, resourceID, action)
}

// EvaluateBatchSubject resolves subjectID once and evaluates the batch. An
// unknown subject denies every id with the authentication-required
// classification, matching what per-id EvaluateSubject calls would return.
func (s *Service) EvaluateBatchSubject(ctx context.Context, subjectID string, kind hierarchy.Kind, resourceIDs []int64, action Action) (map[int64]Decision, error) {
	p, err := s.claims.Snapshot(ctx, subjectID)
	if err != nil {
		if errors.Is(err, ErrUnknownSubject) {
			if s.logger != nil {
				s.logger.Warn("authorization for unknown subject denied", slog.String("subject", subjectID))
			}
			out := make(map[int64]Decision, len(resourceIDs))
			now := time.Now()
			for _, id := range resourceIDs {
				d := Decision{Allowed: false, Reason: ReasonAuthenticationRequired, Rank: -1, ComputedAt: now, Source: SourceLive}
				s.finish(ctx, Principal{SubjectID: subjectID}, kind, id, action, d, now)
				out[id] = d
			}
			return out, nil
		}
		return nil, fmt.Errorf("authz: snapshot of %s: %w", subjectID, err)
	}
	return s.EvaluateBatch(ctx, p, kind, resourceIDs, action)
}

// EvaluateBatch evaluates action for every resource id and returns decisions
// keyed by id. Results are exactly what per-id Evaluate calls would produce;
// duplicates are evaluated once.
func (s *Service) EvaluateBatch(ctx context.Context, p Principal, kind hierarchy.Kind, resourceIDs []int64, action Action) (map[int64]Decision, error) {
	results := make(map[int64]Decision, len(resourceIDs))
	if len(resourceIDs) == 0 {
		return results, nil
	}
	uniq := make([]int64, 0, len(resourceIDs))
	seen := make(map[int64]struct{}, len(resourceIDs))
	for _, id := range resourceIDs {
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			uniq = append(uniq, id)
		}
	}
	decisions := make([]Decision, len(uniq))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchLimit)
	for i, id := range uniq {
		g.Go(func() error {
			d, err := s.Evaluate(gctx, p, kind, id, action)
			if err != nil {
				return err
			}
			decisions[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, id := range uniq {
		results[id] = decisions[i]
	}
	return results, nil
}

// InvalidateSubtree reroutes every cached decision under resourceID by
// bumping its scope epoch; descendants follow automatically because their
// chains embed the bumped node. Orphaned entries age out by TTL.
func (s *Service) InvalidateSubtree(ctx context.Context, resourceID int64) error {
	if s.epochs != nil {
		if _, err := s.epochs.BumpScope(ctx, resourceID); err != nil {
			return fmt.Errorf("authz: bump scope %d: %w", resourceID, err)
		}
	}
	if s.paths != nil {
		s.paths.Invalidate(ctx, resourceID)
	}
	if s.metrics != nil {
		s.metrics.InvalidationIssued("subtree")
	}
	if s.logger != nil {
		s.logger.Info("authorization subtree invalidated", slog.Int64("resource_id", resourceID))
	}
	return nil
}

// InvalidatePrincipal reroutes every cached decision for subjectID.
func (s *Service) InvalidatePrincipal(ctx context.Context, subjectID string) error {
	if s.epochs != nil {
		if _, err := s.epochs.BumpPrincipal(ctx, subjectID); err != nil {
			return fmt.Errorf("authz: bump principal %s: %w", subjectID, err)
		}
	}
	if s.metrics != nil {
		s.metrics.InvalidationIssued("principal")
	}
	if s.logger != nil {
		s.logger.Info("authorization principal invalidated", slog.String("subject", subjectID))
	}
	return nil
}

// CacheKeys enumerates live cached decisions under prefix with remaining
// TTLs. An empty prefix lists the whole decision namespace; prefixes are
// forced under it either way.
func (s *Service) CacheKeys(ctx context.Context, prefix string) ([]authzcache.KeyInfo, error) {
	if s.store == nil {
		return nil, nil
	}
	if !strings.HasPrefix(prefix, KeyPrefix) {
		prefix = KeyPrefix + prefix
	}
	return s.store.Keys(ctx, prefix)
}

// FlushCache drops every cached decision, reporting how many went away.
func (s *Service) FlushCache(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	return s.store.Purge(ctx, func(string) bool { return true })
}

func (s *Service) evaluateLive(ctx context.Context, p Principal, kind hierarchy.Kind, chain []hierarchy.Node, action Action, key string) (Decision, error) {
	start := time.Now()
	resourceID := chain[len(chain)-1].ID
	claims, err := s.claims.EffectiveClaims(ctx, p)
	if err != nil {
		return Decision{}, fmt.Errorf("authz: effective claims of %s: %w", p.SubjectID, err)
	}
	d, err := s.registry.Evaluate(ctx, Request{Principal: p, Kind: kind, Chain: chain, Claims: claims, Action: action})
	if err != nil {
		if errors.Is(err, ErrConfiguration) {
			return Decision{}, err
		}
		if s.logger != nil {
			s.logger.Warn("authorization handler failed, denying",
				slog.String("subject", p.SubjectID),
				slog.Int64("resource_id", resourceID),
				slog.String("action", string(action)),
				slog.Any("error", err))
		}
		d = Decision{Allowed: false, Reason: ReasonReferenceNotFound, Rank: -1, ComputedAt: time.Now(), Source: SourceLive}
		s.finish(ctx, p, kind, resourceID, action, d, start)
		return d, nil
	}
	d.Source = SourceLive
	if d.ComputedAt.IsZero() {
		d.ComputedAt = time.Now()
	}
	if d.Reason == ReasonHandlerPanic && s.metrics != nil {
		s.metrics.HandlerPanicked()
	}
	if key != "" && cacheableReason(d.Reason) {
		d.TTL = s.ttl
		if err := s.store.Put(ctx, key, d, s.ttl); err != nil {
			s.cacheDegraded("put", err)
		}
	}
	s.finish(ctx, p, kind, resourceID, action, d, start)
	return d, nil
}

// decisionKey derives the cache key for one evaluation. Epoch reads failing
// disable caching for the call rather than failing the decision.
func (s *Service) decisionKey(ctx context.Context, p Principal, chain []hierarchy.Node, action Action) (string, bool) {
	if s.store == nil || s.epochs == nil {
		return "", false
	}
	principalEpoch, err := s.epochs.PrincipalEpoch(ctx, p.SubjectID)
	if err != nil {
		s.cacheDegraded("principal epoch", err)
		return "", false
	}
	ids := make([]int64, len(chain))
	for i, n := range chain {
		ids[i] = n.ID
	}
	scopeEpochs, err := s.epochs.ScopeEpochs(ctx, ids)
	if err != nil {
		s.cacheDegraded("scope epochs", err)
		return "", false
	}
	return DecisionKey(p, principalEpoch, chain, scopeEpochs, action), true
}

// flightDo collapses concurrent computations for one key into a single
// execution; the losers receive the winner's result.
func (s *Service) flightDo(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error, bool) {
	resultChan := s.flight.DoChan(key, func() (any, error) {
		return fn(ctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err(), false
	case res := <-resultChan:
		return res.Val, res.Err, res.Shared
	}
}

func (s *Service) denyReference(ctx context.Context, p Principal, kind hierarchy.Kind, resourceID int64, action Action, start time.Time, detail string) Decision {
	if s.logger != nil {
		s.logger.Warn("authorization reference not found",
			slog.String("subject", p.SubjectID),
			slog.Int64("resource_id", resourceID),
			slog.String("action", string(action)),
			slog.String("detail", detail))
	}
	d := Decision{Allowed: false, Reason: ReasonReferenceNotFound, Rank: -1, ComputedAt: time.Now(), Source: SourceLive}
	s.finish(ctx, p, kind, resourceID, action, d, start)
	return d
}

func (s *Service) finish(ctx context.Context, p Principal, kind hierarchy.Kind, resourceID int64, action Action, d Decision, start time.Time) {
	if s.metrics != nil {
		s.metrics.DecisionEvaluated(outcomeLabel(d), d.Source, time.Since(start))
	}
	if s.audit != nil {
		s.audit.RecordDecision(ctx, p.SubjectID, kind, resourceID, action, d)
	}
}

func (s *Service) cacheDegraded(op string, err error) {
	if s.logger != nil {
		s.logger.Warn("decision cache degraded, evaluating live", slog.String("op", op), slog.Any("error", err))
	}
	if s.metrics != nil {
		s.metrics.CacheError()
	}
}

// cacheableReason keeps transient fail-closed outcomes out of the cache so
// they heal on the next evaluation.
func cacheableReason(reason string) bool {
	switch reason {
	case ReasonHandlerPanic, ReasonReferenceNotFound, ReasonAuthenticationRequired:
		return false
	}
	return true
}

func outcomeLabel(d Decision) string {
	if d.Allowed {
		return "allow"
	}
	return "deny"
}
