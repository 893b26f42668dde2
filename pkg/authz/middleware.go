package authz

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// RequireIdentity rejects requests without an identity with 401.
func RequireIdentity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := IdentityFromContext(r.Context()); !ok {
				writeDenied(w, http.StatusUnauthorized, "authentication required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSystem returns middleware that enforces a system-scope action for
// routes not bound to a project, such as user and audit administration.
func RequireSystem(authorizer Authorizer, action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				writeDenied(w, http.StatusUnauthorized, "authentication required")
				return
			}

			allowed, err := authorizer.Authorize(r.Context(), AuthzRequest{
				User:   id.User,
				Scope:  ScopeSystem,
				Action: action,
			})
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":   "internal_error",
					"message": "authorization check failed",
				})
				return
			}

			if !allowed {
				writeDenied(w, http.StatusForbidden, fmt.Sprintf("user %q may not %s at system scope", id.User, action))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeDenied(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "Unauthorized",
		"message": message,
	})
}
