// Package api implements the Ansuz REST API using chi.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/starford/ansuz/internal/acl"
)

type ctxKey int

const principalKey ctxKey = 0

// Principal returns the authenticated user name stored in the request
// context, or acl.Anonymous when the request carried no token.
func Principal(ctx context.Context) string {
	if u, ok := ctx.Value(principalKey).(string); ok {
		return u
	}
	return acl.Anonymous
}

// AuthMiddleware resolves "Authorization: Bearer <token>" headers into a
// principal via the configured token map. Requests without a header pass
// through as anonymous; the ACL layer decides what anonymous may do.
// A header with an unknown token is rejected outright.
func AuthMiddleware(tokens map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !strings.HasPrefix(auth, "Bearer ") {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			user, ok := tokens[strings.TrimPrefix(auth, "Bearer ")]
			if !ok || user == "" {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			ctx := context.WithValue(r.Context(), principalKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
