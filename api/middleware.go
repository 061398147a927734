/*
middleware.go - Bearer-token authentication middleware

PURPOSE:
  Resolves the Authorization header into an auth.Identity and stashes it
  in the request context. Handlers read it back with identityFrom and
  gate on role with requireRole.

SEE ALSO:
  - auth/identity.go: token parsing and validation
  - server.go: where the middleware is mounted
*/
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/paddlepoint/coaching-engine/auth"
	"github.com/paddlepoint/coaching-engine/booking"
)

type contextKey string

const identityKey contextKey = "identity"

// Authenticate resolves the Bearer token and injects the identity into
// the request context. Requests without a valid token get 401.
func Authenticate(resolver *auth.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeError(w, http.StatusUnauthorized, "Authorization required", auth.ErrMissingToken)
				return
			}
			token := strings.TrimPrefix(header, "Bearer ")
			if token == header {
				writeError(w, http.StatusUnauthorized, "Authorization must be a Bearer token", auth.ErrInvalidToken)
				return
			}

			identity, err := resolver.Resolve(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid token", err)
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// identityFrom reads the authenticated identity. Writes 401 and returns
// false when the middleware did not run.
func identityFrom(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := r.Context().Value(identityKey).(*auth.Identity)
	if !ok || identity == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil)
		return nil, false
	}
	return identity, true
}

// requireRole is identityFrom plus a role gate. Writes 403 and returns
// false when the caller's role is not among the allowed ones.
func requireRole(w http.ResponseWriter, r *http.Request, roles ...booking.Role) (*auth.Identity, bool) {
	identity, ok := identityFrom(w, r)
	if !ok {
		return nil, false
	}
	for _, role := range roles {
		if identity.Role == string(role) {
			return identity, true
		}
	}
	writeError(w, http.StatusForbidden, "Insufficient role", nil)
	return nil, false
}
