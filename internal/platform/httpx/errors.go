package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors the response layer translates into statuses. A denied
// decision is not an error: denials travel as 200 responses with
// allowed=false, so nothing here maps to 403.
var (
	ErrMalformed    = errors.New("malformed request")
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("resource not found")
	ErrUnavailable  = errors.New("dependency unavailable")
)

// RespondError translates err into an RFC7807 problem response. Errors
// wrapping a sentinel map to its status with the error text as detail;
// anything else becomes an opaque 500 so internals never leak to callers.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrMalformed):
		Problem(w, http.StatusBadRequest, "Malformed Request", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrUnavailable):
		Problem(w, http.StatusServiceUnavailable, "Dependency Unavailable", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
