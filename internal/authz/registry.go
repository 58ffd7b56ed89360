package authz

import (
	"context"
	"log/slog"
	"time"

	"github.com/lyceum-lms/lyceum-lms/internal/hierarchy"
)

// Handler decides one evaluation request for an entity kind.
type Handler interface {
	Evaluate(ctx context.Context, req Request) (Decision, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req Request) (Decision, error)

// Evaluate calls f.
func (f HandlerFunc) Evaluate(ctx context.Context, req Request) (Decision, error) {
	return f(ctx, req)
}

// NarrowFunc applies entity-specific checks after the default evaluator has
// allowed a request. It may turn the allow into a deny, never the reverse.
type NarrowFunc func(ctx context.Context, req Request, base Decision) (Decision, error)

// Registry maps entity kinds to their handlers. It is populated during
// startup wiring; evaluation-time lookups are read-only, so no locking is
// needed once the process is serving.
type Registry struct {
	base     Handler
	handlers map[hierarchy.Kind]Handler
	logger   *slog.Logger
}

// NewRegistry constructs a registry whose fallback is base, normally the
// default Evaluator wrapped by DefaultHandler.
func NewRegistry(base Handler, logger *slog.Logger) *Registry {
	return &Registry{
		base:     base,
		handlers: make(map[hierarchy.Kind]Handler),
		logger:   logger,
	}
}

// DefaultHandler adapts the pure Evaluator to the Handler interface.
func DefaultHandler() Handler {
	var ev Evaluator
	return HandlerFunc(func(ctx context.Context, req Request) (Decision, error) {
		return ev.Decide(req.Principal, req.Chain, req.Claims, req.Action), nil
	})
}

// Register installs handler for kind, replacing the default evaluator for
// that kind entirely.
func (r *Registry) Register(kind hierarchy.Kind, h Handler) {
	r.handlers[kind] = h
}

// RegisterNarrowing wraps the default evaluator for kind: the default runs
// first and narrow is consulted only when it allowed, so a deny can never be
// widened. When narrow keeps the allow, the default's decision (and its
// matched claim) is returned untouched.
func (r *Registry) RegisterNarrowing(kind hierarchy.Kind, narrow NarrowFunc) {
	base := r.base
	r.handlers[kind] = HandlerFunc(func(ctx context.Context, req Request) (Decision, error) {
		d, err := base.Evaluate(ctx, req)
		if err != nil || !d.Allowed {
			return d, err
		}
		narrowed, err := narrow(ctx, req, d)
		if err != nil {
			return Decision{}, err
		}
		if narrowed.Allowed {
			return d, nil
		}
		narrowed.Source = SourceLive
		return narrowed, nil
	})
}

// Evaluate dispatches req to the handler registered for its kind, falling
// back to the default evaluator. A panicking handler is caught and converted
// into a deny, never an allow.
func (r *Registry) Evaluate(ctx context.Context, req Request) (d Decision, err error) {
	h := r.base
	if specific, ok := r.handlers[req.Kind]; ok {
		h = specific
	}
	defer func() {
		if rec := recover(); rec != nil {
			if r.logger != nil {
				r.logger.Error("authorization handler panicked",
					slog.String("kind", string(req.Kind)),
					slog.Int64("resource_id", req.Resource().ID),
					slog.Any("panic", rec))
			}
			d = Decision{Allowed: false, Reason: ReasonHandlerPanic, Rank: -1, ComputedAt: time.Now(), Source: SourceLive}
			err = nil
		}
	}()
	return h.Evaluate(ctx, req)
}
