package middleware

import (
	"net/http"

	"github.com/shopcore/commerce-backend/api/responses"
	"github.com/shopcore/commerce-backend/pkg/enums"
	pkgerrors "github.com/shopcore/commerce-backend/pkg/errors"
	"github.com/shopcore/commerce-backend/pkg/logger"
)

// RequireRole admits callers holding any of roles. Merchants must also carry a business.
func RequireRole(logg *logger.Logger, roles ...enums.ActorRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromContext(r.Context())
			allowed := false
			for _, candidate := range roles {
				if candidate == role {
					allowed = true
					break
				}
			}
			if !allowed {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "role required"))
				return
			}
			if role == enums.ActorRoleMerchant {
				if _, ok := BusinessIDFromContext(r.Context()); !ok {
					responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "business context required"))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
