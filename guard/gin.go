package guard

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gradeloop/authkit/state"
)

// GinMiddleware enforces the requirements on a gin route group. Denials are
// rendered in place: 401 for a missing session, 403 with the user's actual
// roles for insufficient ones, 503 with Retry-After while auth state is
// still loading. No redirect is ever issued.
func GinMiddleware(store *state.Store, req Requirements) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := Check(store, req)
		switch d.Outcome {
		case Allowed:
			c.Next()
		case Loading:
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "authentication state loading",
			})
		case Unauthenticated:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
		case Forbidden:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":          "insufficient privileges",
				"your_roles":     d.UserRoles,
				"required_roles": d.Missing.Roles,
				"required_perms": d.Missing.Permissions,
			})
		}
	}
}

// RequireAuthGin is shorthand for a guard that only demands a session.
func RequireAuthGin(store *state.Store) gin.HandlerFunc {
	return GinMiddleware(store, Requirements{RequireAuth: true})
}

// RequireRolesGin demands any of the given roles.
func RequireRolesGin(store *state.Store, roles ...string) gin.HandlerFunc {
	return GinMiddleware(store, Requirements{RequireAuth: true, Roles: roles})
}

// RequirePermissionsGin demands any of the given permissions.
func RequirePermissionsGin(store *state.Store, perms ...string) gin.HandlerFunc {
	return GinMiddleware(store, Requirements{RequireAuth: true, Permissions: perms})
}
