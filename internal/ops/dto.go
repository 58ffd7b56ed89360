package ops

import "github.com/lyceum-lms/lyceum-lms/internal/authz"

type checkRequest struct {
	SubjectID  string `json:"subject_id" validate:"required"`
	ResourceID int64  `json:"resource_id" validate:"required"`
	Kind       string `json:"kind,omitempty"`
	Action     string `json:"action" validate:"required"`
}

type batchCheckRequest struct {
	SubjectID   string  `json:"subject_id" validate:"required"`
	ResourceIDs []int64 `json:"resource_ids" validate:"required,min=1,max=500"`
	Kind        string  `json:"kind,omitempty"`
	Action      string  `json:"action" validate:"required"`
}

type invalidateSubtreeRequest struct {
	ResourceID int64 `json:"resource_id" validate:"required"`
}

type invalidatePrincipalRequest struct {
	SubjectID string `json:"subject_id" validate:"required"`
}

type batchCheckResponse struct {
	Decisions map[int64]authz.Decision `json:"decisions"`
}

type invalidateResponse struct {
	Invalidated string `json:"invalidated"`
	ResourceID  int64  `json:"resource_id,omitempty"`
	SubjectID   string `json:"subject_id,omitempty"`
}

type cacheKeyView struct {
	Key        string  `json:"key"`
	TTLSeconds float64 `json:"ttl_seconds"`
}

type cacheKeysResponse struct {
	Keys  []cacheKeyView `json:"keys"`
	Count int            `json:"count"`
}

type flushResponse struct {
	Removed int `json:"removed"`
}

type subjectClaimsResponse struct {
	SubjectID     string        `json:"subject_id"`
	BuiltinAdmin  bool          `json:"builtin_admin"`
	ClaimsVersion int64         `json:"claims_version"`
	RoleIDs       []int64       `json:"role_ids,omitempty"`
	Claims        []authz.Claim `json:"claims"`
}
