package claims

import "time"

// Role is a named bundle of claims granted to subjects.
type Role struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	BuiltinAdmin bool      `json:"builtin_admin"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Subject is an authenticated identity known to the claim store. The claims
// version counts every mutation of the subject's grants; decision cache keys
// embed it, so bumping it reroutes all cached decisions for the subject.
type Subject struct {
	ID            string    `json:"id"`
	DisplayName   string    `json:"display_name"`
	BuiltinAdmin  bool      `json:"builtin_admin"`
	ClaimsVersion int64     `json:"claims_version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
