package httpserver

import (
	"context"
	"net/http"
	"strings"

	"estatehub/internal/domain"
	"estatehub/internal/service"
)

type contextKey string

const userContextKey contextKey = "currentUser"

// WithUser returns a new context carrying the current user.
func WithUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// CurrentUser extracts the current user from context, if any.
func CurrentUser(r *http.Request) *domain.User {
	if u, ok := r.Context().Value(userContextKey).(*domain.User); ok {
		return u
	}
	return nil
}

// AuthMiddleware resolves the Bearer token through the gate and attaches the user.
func AuthMiddleware(gate *service.Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				writeError(w, domain.ErrUnauthenticated)
				return
			}
			user, err := gate.ResolveUser(r.Context(), strings.TrimSpace(authHeader[len("Bearer "):]))
			if err != nil {
				writeError(w, domain.ErrUnauthenticated)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}
