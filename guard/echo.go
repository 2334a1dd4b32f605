package guard

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/gradeloop/authkit/state"
)

// EchoMiddleware is the echo counterpart of GinMiddleware: same decision
// table, echo's error conventions.
func EchoMiddleware(store *state.Store, req Requirements) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			d := Check(store, req)
			switch d.Outcome {
			case Allowed:
				return next(c)
			case Loading:
				c.Response().Header().Set("Retry-After", "1")
				return c.JSON(http.StatusServiceUnavailable, map[string]any{
					"error": "authentication state loading",
				})
			case Unauthenticated:
				return c.JSON(http.StatusUnauthorized, map[string]any{
					"error": "authentication required",
				})
			default:
				return c.JSON(http.StatusForbidden, map[string]any{
					"error":          "insufficient privileges",
					"your_roles":     d.UserRoles,
					"required_roles": d.Missing.Roles,
					"required_perms": d.Missing.Permissions,
				})
			}
		}
	}
}

// RequireAuthEcho is shorthand for a guard that only demands a session.
func RequireAuthEcho(store *state.Store) echo.MiddlewareFunc {
	return EchoMiddleware(store, Requirements{RequireAuth: true})
}
