package authz

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aerarium-app/aerarium/internal/shared"
)

// PermissionResolver looks up the combined permissions of a user's role.
type PermissionResolver interface {
	PermissionsForUser(ctx context.Context, userID int64) (Permission, error)
}

// Middleware wires authorization checks for HTTP handlers. A request without
// a session user, or whose role lacks the required permissions, is answered
// with 403; resolver failures are answered with 500 so that a storage outage
// never looks like a policy decision.
type Middleware struct {
	Resolver PermissionResolver
	Logger   *slog.Logger
}

// RequireAny ensures the current user holds at least one of the permissions.
func (m Middleware) RequireAny(perms ...Permission) func(http.Handler) http.Handler {
	return m.require(func(granted Permission) bool {
		return granted.HasAny(perms...)
	}, len(perms) == 0)
}

// RequireAll ensures the current user holds every one of the permissions.
func (m Middleware) RequireAll(perms ...Permission) func(http.Handler) http.Handler {
	return m.require(func(granted Permission) bool {
		return granted.HasAll(perms...)
	}, len(perms) == 0)
}

// RequireLogin only checks that the request carries an authenticated
// session, redirecting to the login page otherwise.
func (m Middleware) RequireLogin(loginPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := shared.CurrentUserID(r.Context()); !ok {
				http.Redirect(w, r, loginPath, http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) require(allowed func(Permission) bool, empty bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if empty {
				next.ServeHTTP(w, r)
				return
			}
			userID, ok := shared.CurrentUserID(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			granted, err := m.Resolver.PermissionsForUser(r.Context(), userID)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("resolve permissions", slog.Int64("user_id", userID), slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if allowed(granted) {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}
