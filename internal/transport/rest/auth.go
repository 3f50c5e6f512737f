package rest

import (
	"net/http"

	"physiodesk/backend/internal/auth"
	"physiodesk/backend/internal/domain"
)

// Authenticate requires a valid bearer token and stores the caller identity
// in the request context.
func Authenticate(a *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := auth.BearerToken(r.Header.Get("Authorization"))
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, "unauthenticated", err.Error())
				return
			}
			identity, err := a.Verify(token)
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, "unauthenticated", "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
		})
	}
}

// requireRoles rejects callers whose role is not listed. Without an
// authenticator every request passes.
func (h *Handler) requireRoles(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !h.authEnabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := auth.FromContext(r.Context())
			if !ok {
				writeError(w, r, http.StatusUnauthorized, "unauthenticated", "authentication required")
				return
			}
			if !identity.HasRole(roles...) {
				writeError(w, r, http.StatusForbidden, "forbidden", "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
