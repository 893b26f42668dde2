package authz

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// identityCtxKey is an unexported type used as the context key for Identity.
type identityCtxKey struct{}

// Identity represents the authenticated user making a request.
type Identity struct {
	User string
}

// WithIdentity returns a new context with the given Identity attached.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// IdentityFromContext retrieves the Identity from the context.
// Returns the zero value and false if no identity is set.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	return id, ok
}

// TokenVerifier validates a bearer token and returns the user it names.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// IdentityMiddleware returns HTTP middleware that attaches the caller's
// identity to the request context.
//
// In AuthModeJWT the Authorization bearer token is verified with verifier;
// invalid or missing tokens leave the request anonymous. In AuthModeHeader
// the X-Remote-User header is trusted as-is (development or behind a proxy
// that authenticates).
func IdentityMiddleware(mode AuthMode, verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var user string
			switch mode {
			case AuthModeJWT:
				if token := bearerToken(r); token != "" && verifier != nil {
					sub, err := verifier.Verify(token)
					if err != nil {
						logger.Debug("bearer token rejected", "error", err)
					} else {
						user = sub
					}
				}
			default:
				user = strings.TrimSpace(r.Header.Get(RemoteUserHeader))
			}

			if user == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := WithIdentity(r.Context(), Identity{User: user})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
