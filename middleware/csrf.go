package middleware

import (
	"net/http"

	"github.com/kestrelauth/kestrel"
)

// CSRFHeader is the request header carrying the anti-forgery token.
const CSRFHeader = "X-CSRF-Token"

// CSRFGuard returns middleware enforcing anti-forgery tokens on mutating
// requests. Safe methods (GET, HEAD, OPTIONS) pass through, as do the
// engine's configured pre-authentication exempt paths — endpoints a browser
// must reach before it can hold a token at all.
//
// A missing or invalid token is rejected with 403. A backend failure while
// validating is rejected with 503: ambiguity never passes.
func CSRFGuard(engine *kestrel.Engine) func(http.Handler) http.Handler {
	exempt := map[string]struct{}{}
	if engine != nil {
		for _, path := range engine.CSRFExemptPaths() {
			exempt[path] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			if _, ok := exempt[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			ok, err := engine.ValidateCSRFToken(r.Context(), r.Header.Get(CSRFHeader))
			if err != nil {
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}
			if !ok {
				http.Error(w, "invalid csrf token", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
