package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/kestrelauth/kestrel"
)

type sessionClaimsContextKey struct{}

// SessionFromContext returns the validated session claims injected by
// [RequireSession], if any.
func SessionFromContext(ctx context.Context) (kestrel.SessionClaims, bool) {
	claims, ok := ctx.Value(sessionClaimsContextKey{}).(kestrel.SessionClaims)
	return claims, ok
}

// RequireSession returns middleware that validates the bearer session token
// and injects its claims into the request context. Requests without a valid
// token are rejected with 401.
func RequireSession(engine *kestrel.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := engine.ValidateSessionToken(token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), sessionClaimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
