package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/argussec/argus/internal/domain/user"
)

type contextKey struct{ name string }

var (
	projectIDKey = &contextKey{"projectID"}
	userKey      = &contextKey{"user"}
)

// KeyAuthorizer resolves an agent API key to the project it belongs to.
type KeyAuthorizer interface {
	ProjectIDForKey(ctx context.Context, apiKey string) (string, error)
}

// SessionAuthorizer resolves a dashboard session token to a user.
type SessionAuthorizer interface {
	UserForToken(ctx context.Context, token string) (*user.User, error)
}

// KeyAuth is HTTP middleware that authenticates agent requests via the
// X-API-Key header and stores the resolved project ID in the context.
func KeyAuth(authz KeyAuthorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				unauthorized(w)
				return
			}

			projectID, err := authz.ProjectIDForKey(r.Context(), key)
			if err != nil {
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), projectIDKey, projectID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionAuth is HTTP middleware that authenticates dashboard requests via
// an Authorization: Bearer token and stores the resolved user in the context.
func SessionAuth(authz SessionAuthorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				unauthorized(w)
				return
			}

			u, err := authz.UserForToken(r.Context(), token)
			if err != nil {
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), userKey, *u)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ProjectIDFromContext returns the project ID stored by KeyAuth.
func ProjectIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(projectIDKey).(string)
	return id, ok
}

// UserFromContext returns the user stored by SessionAuth.
func UserFromContext(ctx context.Context) (user.User, bool) {
	u, ok := ctx.Value(userKey).(user.User)
	return u, ok
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}
