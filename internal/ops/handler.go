package ops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/lyceum-lms/lyceum-lms/internal/audit"
	"github.com/lyceum-lms/lyceum-lms/internal/authz"
	"github.com/lyceum-lms/lyceum-lms/internal/claims"
	"github.com/lyceum-lms/lyceum-lms/internal/hierarchy"
	"github.com/lyceum-lms/lyceum-lms/internal/platform/httpx"
)

// Handler wires the operator endpoints: decision checks, invalidation,
// cache introspection, and the decision trail.
type Handler struct {
	logger      *slog.Logger
	engine      *authz.Service
	directory   *claims.Resolver
	trail       *audit.Service
	validator   *validator.Validate
	auth        func(http.Handler) http.Handler
	rateLimit   func(http.Handler) http.Handler
	evalTimeout time.Duration
}

// NewHandler constructs the operator handler. auth guards every route;
// evalTimeout bounds a single check when positive.
func NewHandler(logger *slog.Logger, engine *authz.Service, directory *claims.Resolver, trail *audit.Service, auth func(http.Handler) http.Handler, evalTimeout time.Duration) *Handler {
	return &Handler{
		logger:      logger,
		engine:      engine,
		directory:   directory,
		trail:       trail,
		validator:   validator.New(),
		auth:        auth,
		rateLimit:   httprate.Limit(10, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
		evalTimeout: evalTimeout,
	}
}

// MountRoutes registers operator routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.auth != nil {
			r.Use(h.auth)
		}
		r.Post("/check", h.check)
		r.Post("/check-batch", h.checkBatch)
		r.Post("/invalidate/subtree", h.invalidateSubtree)
		r.Post("/invalidate/principal", h.invalidatePrincipal)
		r.Get("/cache/keys", h.cacheKeys)
		r.Delete("/cache", h.flushCache)
		r.Get("/subjects/{subjectID}/claims", h.subjectClaims)
		r.Group(func(r chi.Router) {
			r.Use(h.rateLimit)
			r.Get("/subjects/{subjectID}/audit", h.subjectAudit)
		})
	})
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if detail, ok := h.validate(req); !ok {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, detail))
		return
	}
	kind := hierarchy.Kind(req.Kind)
	if req.Kind != "" && !hierarchy.ValidKind(kind) {
		httpx.RespondError(w, fmt.Errorf("%w: unknown resource kind %s", httpx.ErrValidation, strconv.Quote(req.Kind)))
		return
	}
	ctx, cancel := h.evalContext(r.Context())
	defer cancel()
	decision, err := h.engine.EvaluateSubject(ctx, req.SubjectID, kind, req.ResourceID, authz.Action(req.Action))
	if err != nil {
		h.respondEngineError(w, "check", err)
		return
	}
	httpx.JSON(w, http.StatusOK, decision)
}

func (h *Handler) checkBatch(w http.ResponseWriter, r *http.Request) {
	var req batchCheckRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if detail, ok := h.validate(req); !ok {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, detail))
		return
	}
	kind := hierarchy.Kind(req.Kind)
	if req.Kind != "" && !hierarchy.ValidKind(kind) {
		httpx.RespondError(w, fmt.Errorf("%w: unknown resource kind %s", httpx.ErrValidation, strconv.Quote(req.Kind)))
		return
	}
	ctx, cancel := h.evalContext(r.Context())
	defer cancel()
	decisions, err := h.engine.EvaluateBatchSubject(ctx, req.SubjectID, kind, req.ResourceIDs, authz.Action(req.Action))
	if err != nil {
		h.respondEngineError(w, "check-batch", err)
		return
	}
	httpx.JSON(w, http.StatusOK, batchCheckResponse{Decisions: decisions})
}

func (h *Handler) invalidateSubtree(w http.ResponseWriter, r *http.Request) {
	var req invalidateSubtreeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if detail, ok := h.validate(req); !ok {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, detail))
		return
	}
	if err := h.engine.InvalidateSubtree(r.Context(), req.ResourceID); err != nil {
		h.respondEngineError(w, "invalidate subtree", err)
		return
	}
	httpx.JSON(w, http.StatusOK, invalidateResponse{Invalidated: "subtree", ResourceID: req.ResourceID})
}

func (h *Handler) invalidatePrincipal(w http.ResponseWriter, r *http.Request) {
	var req invalidatePrincipalRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if detail, ok := h.validate(req); !ok {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, detail))
		return
	}
	if err := h.engine.InvalidatePrincipal(r.Context(), req.SubjectID); err != nil {
		h.respondEngineError(w, "invalidate principal", err)
		return
	}
	httpx.JSON(w, http.StatusOK, invalidateResponse{Invalidated: "principal", SubjectID: req.SubjectID})
}

func (h *Handler) cacheKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.engine.CacheKeys(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		h.logger.Error("cache introspection failed", slog.Any("error", err))
		httpx.RespondError(w, fmt.Errorf("%w: decision cache backend did not answer", httpx.ErrUnavailable))
		return
	}
	views := make([]cacheKeyView, 0, len(keys))
	for _, k := range keys {
		views = append(views, cacheKeyView{Key: k.Key, TTLSeconds: k.TTL.Seconds()})
	}
	httpx.JSON(w, http.StatusOK, cacheKeysResponse{Keys: views, Count: len(views)})
}

func (h *Handler) flushCache(w http.ResponseWriter, r *http.Request) {
	removed, err := h.engine.FlushCache(r.Context())
	if err != nil {
		h.logger.Error("cache flush failed", slog.Any("error", err))
		httpx.RespondError(w, fmt.Errorf("%w: decision cache backend did not answer", httpx.ErrUnavailable))
		return
	}
	h.logger.Info("decision cache flushed", slog.Int("removed", removed))
	httpx.JSON(w, http.StatusOK, flushResponse{Removed: removed})
}

func (h *Handler) subjectClaims(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")
	p, err := h.directory.Snapshot(r.Context(), subjectID)
	if err != nil {
		if errors.Is(err, authz.ErrUnknownSubject) {
			httpx.RespondError(w, fmt.Errorf("%w: unknown subject %s", httpx.ErrNotFound, strconv.Quote(subjectID)))
			return
		}
		h.logger.Error("subject snapshot failed", slog.String("subject", subjectID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	set, err := h.directory.EffectiveClaims(r.Context(), p)
	if err != nil {
		h.logger.Error("effective claims failed", slog.String("subject", subjectID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, subjectClaimsResponse{
		SubjectID:     p.SubjectID,
		BuiltinAdmin:  p.BuiltinAdmin,
		ClaimsVersion: p.ClaimsVersion,
		RoleIDs:       p.RoleIDs,
		Claims:        set,
	})
}

func (h *Handler) subjectAudit(w http.ResponseWriter, r *http.Request) {
	filters, errs := parseTrailQuery(r)
	if len(errs) > 0 {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, strings.Join(mapValues(errs), "; ")))
		return
	}
	filters.Subject = chi.URLParam(r, "subjectID")
	if r.URL.Query().Get("format") == "csv" {
		data, err := h.trail.ExportTrail(r.Context(), filters)
		if err != nil {
			h.logger.Error("trail export failed", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=decision_trail.csv")
		_, _ = w.Write(data)
		return
	}
	page, err := h.trail.Trail(r.Context(), filters)
	if err != nil {
		h.logger.Error("trail query failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

// validate runs struct validation and flattens field errors into one detail
// string for the problem response.
func (h *Handler) validate(v any) (string, bool) {
	err := h.validator.Struct(v)
	if err == nil {
		return "", true
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error(), false
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		parts = append(parts, fieldErr.Field()+" failed "+fieldErr.Tag())
	}
	return strings.Join(parts, "; "), false
}

func (h *Handler) evalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.evalTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, h.evalTimeout)
}

func (h *Handler) respondEngineError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, authz.ErrConfiguration):
		h.logger.Error("authorization data corrupt", slog.String("op", op), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Configuration Error", "authorization hierarchy is corrupt; decisions are refused until it is repaired")
	case errors.Is(err, context.DeadlineExceeded):
		httpx.Problem(w, http.StatusGatewayTimeout, "Timeout", op+" exceeded the evaluation deadline")
	default:
		h.logger.Error(op+" failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func parseTrailQuery(r *http.Request) (audit.Filters, map[string]string) {
	q := r.URL.Query()
	errors := make(map[string]string)
	var f audit.Filters
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			errors["from"] = "from must be an RFC3339 timestamp"
		} else {
			f.From = t
		}
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			errors["to"] = "to must be an RFC3339 timestamp"
		} else {
			f.To = t
		}
	}
	f.Action = q.Get("action")
	if raw := q.Get("allowed"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			errors["allowed"] = "allowed must be true or false"
		} else {
			f.Allowed = &v
		}
	}
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			errors["page"] = "page must be a positive integer"
		} else {
			f.Page = n
		}
	}
	if raw := q.Get("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			errors["page_size"] = "page_size must be a positive integer"
		} else {
			f.PageSize = n
		}
	}
	return f, errors
}

func mapValues(m map[string]string) []string {
	values := make([]string, 0, len(m))
	for _, v := range m {
		values = append(values, v)
	}
	return values
}
