package rbac

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/alanvitalp/road-to-next/pkg/httputil"
	"github.com/alanvitalp/road-to-next/pkg/middleware"
	"github.com/alanvitalp/road-to-next/pkg/permissions"
)

// RequirePermission gates a route on the caller holding key in the
// organization named by the orgID route variable. Non-members and members
// without the key both get 403; storage failures get 500.
func RequirePermission(resolver *Resolver, key permissions.Key) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := middleware.GetPrincipal(r)
			if !p.Authenticated() {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			orgID := mux.Vars(r)["orgID"]
			if orgID == "" {
				orgID = p.ActiveOrganizationID
			}
			if orgID == "" {
				httputil.WriteValidationError(w, "organization is required")
				return
			}

			allowed, err := resolver.HasPermission(r.Context(), p.UserID, orgID, key)
			if err != nil {
				httputil.WriteInternalError(w, err)
				return
			}
			if !allowed {
				httputil.WriteForbidden(w, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
