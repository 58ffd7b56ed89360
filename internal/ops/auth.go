package ops

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/lyceum-lms/lyceum-lms/internal/platform/httpx"
)

const bearerScheme = "Bearer "

// TokenAuth returns middleware that guards operator routes with a bearer
// token compared against a bcrypt hash. Only the hash is held server side.
func TokenAuth(tokenHash string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, bearerScheme) {
				httpx.RespondError(w, fmt.Errorf("%w: bearer token required", httpx.ErrUnauthorized))
				return
			}
			token := strings.TrimSpace(strings.TrimPrefix(header, bearerScheme))
			if token == "" || bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)) != nil {
				if logger != nil {
					logger.Warn("operator token rejected", slog.String("remote", r.RemoteAddr))
				}
				httpx.RespondError(w, fmt.Errorf("%w: invalid operator token", httpx.ErrUnauthorized))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
