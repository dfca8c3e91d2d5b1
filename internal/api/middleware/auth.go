package middleware

import (
	"net/http"
	"strings"

	"github.com/megaartsstore/renderpipe/internal/api/response"
	"golang.org/x/crypto/bcrypt"
)

// OperatorAuth guards operator routes with a single shared key whose bcrypt hash
// is configured at startup.
type OperatorAuth struct {
	hash []byte
}

// NewOperatorAuth creates the middleware. An empty hash disables the check.
func NewOperatorAuth(keyHash string) *OperatorAuth {
	return &OperatorAuth{hash: []byte(keyHash)}
}

// Enabled reports whether a key hash is configured.
func (a *OperatorAuth) Enabled() bool {
	return len(a.hash) > 0
}

// Authenticate validates the Bearer token against the operator key hash.
func (a *OperatorAuth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r.WithContext(setOperator(r.Context())))
			return
		}

		rawKey := extractBearerToken(r)
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		if bcrypt.CompareHashAndPassword(a.hash, []byte(rawKey)) != nil {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid operator key", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(setOperator(r.Context())))
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
