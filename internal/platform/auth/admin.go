package auth

import (
	"net/http"
	"strings"

	"github.com/example/social-platform/internal/platform/api"
	"github.com/example/social-platform/internal/platform/httpserver"
)

const RoleAdmin = "admin"

// RequireRole admits the request only when RequireUser already injected the given role.
func RequireRole(role string) func(next http.Handler) http.Handler {
	want := strings.ToLower(strings.TrimSpace(role))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, _ := RoleFromContext(r.Context())
			if strings.ToLower(strings.TrimSpace(got)) != want {
				api.Error(w, httpserver.RequestIDFromContext(r.Context()), api.CodeForbidden, role+" role required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func RequireAdmin(next http.Handler) http.Handler {
	return RequireRole(RoleAdmin)(next)
}
