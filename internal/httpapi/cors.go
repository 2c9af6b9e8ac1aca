package httpapi

import (
	"net/http"
)

// CORSConfig mirrors the fields an operator-facing local UI actually needs;
// there is no per-route variation.
type CORSConfig struct {
	Enabled        bool
	AllowedOrigins []string
}

// NewCORSMiddleware returns a pass-through wrapper when disabled, matching
// the orchestrator's local-only default (no browser client at all unless
// one is explicitly pointed at it).
func NewCORSMiddleware(cfg CORSConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}

	origins := make(map[string]bool, len(cfg.AllowedOrigins))
	allowAll := false
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			allowAll = true
		}
		origins[o] = true
	}

	const methods = "GET, POST, PUT, DELETE, OPTIONS"
	const headers = "Content-Type, Authorization, X-API-Key"
	const maxAge = "3600"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || origins[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", methods)
				w.Header().Set("Access-Control-Allow-Headers", headers)
				w.Header().Set("Access-Control-Max-Age", maxAge)
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
