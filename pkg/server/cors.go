package server

import (
	"net/http"
	"sync/atomic"

	"go.uber.org/zap"
)

// CORS answers cross-origin requests from a configured origin list that can
// be replaced while the server runs.
type CORS struct {
	origins atomic.Pointer[[]string]
}

// NewCORS creates a CORS policy allowing origins. "*" allows any origin.
func NewCORS(origins []string) *CORS {
	c := &CORS{}
	c.SetOrigins(origins)
	return c
}

// SetOrigins replaces the allowed origin list.
func (c *CORS) SetOrigins(origins []string) {
	cp := append([]string(nil), origins...)
	c.origins.Store(&cp)
}

// Allowed reports whether origin may call the API.
func (c *CORS) Allowed(origin string) bool {
	for _, allowed := range *c.origins.Load() {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Middleware sets CORS headers for allowed origins and answers preflight
// requests for any path.
func (c *CORS) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			if c.Allowed(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Add("Vary", "Origin")
			} else {
				zap.S().Debugf("CORS request from disallowed origin %s", origin)
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
