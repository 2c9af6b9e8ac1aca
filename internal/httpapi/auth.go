package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthConfig is a single shared API key, not a multi-user roster: the
// orchestrator has exactly one operator, so there is nothing to look up by
// caller identity, only a key to check.
type AuthConfig struct {
	Enabled bool
	Key     string
}

// AuthMiddleware checks every request (except /healthz) against the
// configured key using a constant-time comparison.
type AuthMiddleware struct {
	enabled bool
	key     string
}

func NewAuthMiddleware(cfg AuthConfig) *AuthMiddleware {
	return &AuthMiddleware{enabled: cfg.Enabled, key: cfg.Key}
}

func (am *AuthMiddleware) Wrap(next http.Handler) http.Handler {
	if !am.enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		key := extractAPIKey(r)
		if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(am.key)) != 1 {
			writeError(w, http.StatusUnauthorized, "missing or invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractAPIKey checks, in order: Authorization: Bearer, X-API-Key header,
// api_key query param (needed for SSE/websocket clients that can't set
// custom headers easily).
func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}
