package auth

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
)

type contextKey string

const identityKey contextKey = "identity"

// TokenVerifier validates a bearer token and returns the identity it carries
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// Middleware rejects requests without a valid bearer token and stores the
// verified identity on the request context.
func Middleware(verifier TokenVerifier, logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			identity, err := verifier.Verify(r.Context(), token)
			if err != nil {
				if logger != nil {
					logger.Printf("[AUTH] rejected %s %s: %v", r.Method, r.URL.Path, err)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"error":  "unauthorized",
					"status": http.StatusUnauthorized,
				})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// BearerToken extracts the token from the Authorization header, falling back
// to the token query parameter for WebSocket upgrades.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// WithIdentity stores the identity on the context
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// FromContext returns the verified identity, if any
func FromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey).(*Identity)
	return identity, ok
}
