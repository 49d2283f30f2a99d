// Package middleware provides HTTP middleware for the mentoring API.
package middleware

import (
	"net/http"
	"strings"

	"github.com/ashureev/ax-mentor/internal/identity"
)

var (
	corsMethods = strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}, ", ")
	corsHeaders = strings.Join([]string{"Content-Type", "Accept", "Last-Event-ID", identity.SessionHeaderName}, ", ")
)

// CORS admits the UI when it is hosted apart from the API (FRONTEND_URL).
// Listed origins may send cookies; "*" admits any origin without them, since
// echoing an arbitrary origin alongside credentials would allow CSRF.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	trusted := make(map[string]bool, len(allowedOrigins))
	anyOrigin := false
	for _, o := range allowedOrigins {
		if o == "*" {
			anyOrigin = true
			continue
		}
		if o = strings.TrimRight(o, "/"); o != "" {
			trusted[o] = true
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")

			if origin := r.Header.Get("Origin"); origin != "" && (trusted[origin] || anyOrigin) {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", corsMethods)
				h.Set("Access-Control-Allow-Headers", corsHeaders)
				h.Set("Access-Control-Max-Age", "600")
				if trusted[origin] {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
