package middleware

import (
	"net/http"
	"strings"

	"github.com/alanvitalp/road-to-next/pkg/auth"
	"github.com/alanvitalp/road-to-next/pkg/contextkeys"
	"github.com/alanvitalp/road-to-next/pkg/httputil"
)

// AuthMiddleware resolves the bearer token on each request to a principal
// and attaches it to the request context.
type AuthMiddleware struct {
	authenticator auth.Authenticator
	optional      bool // if true, requests without a token pass through unauthenticated
}

// NewAuthMiddleware creates an authentication middleware.
func NewAuthMiddleware(authenticator auth.Authenticator, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		authenticator: authenticator,
		optional:      optional,
	}
}

// Handler wraps an HTTP handler with authentication.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		principal, err := m.authenticator.Authenticate(parts[1])
		if err != nil {
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := contextkeys.WithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetPrincipal extracts the authenticated principal from a request.
func GetPrincipal(r *http.Request) *auth.Principal {
	v := r.Context().Value(contextkeys.PrincipalKey)
	if v == nil {
		return nil
	}
	p, ok := v.(*auth.Principal)
	if !ok {
		return nil
	}
	return p
}
