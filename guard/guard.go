// Package guard makes route-level access decisions from the auth state. The
// core is framework-neutral: Check returns a Decision and the caller renders
// whatever fallback fits. Adapters for gin and echo translate decisions into
// HTTP responses. A guard never redirects on its own.
package guard

import (
	"github.com/gradeloop/authkit/state"
)

// Outcome classifies a guard decision.
type Outcome int

const (
	// Allowed means the request may proceed.
	Allowed Outcome = iota
	// Loading means an auth operation is still in progress; render a
	// loading state rather than denying.
	Loading
	// Unauthenticated means no valid session is present.
	Unauthenticated
	// Forbidden means the session is valid but lacks a required role or
	// permission.
	Forbidden
)

func (o Outcome) String() string {
	switch o {
	case Allowed:
		return "allowed"
	case Loading:
		return "loading"
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Requirements is what a route demands. Zero-value requirements allow
// everyone. Roles and Permissions are each "any of" lists; when both are set
// the user must satisfy both lists.
type Requirements struct {
	RequireAuth bool
	Roles       []string
	Permissions []string
}

// Decision is the outcome of a guard check. UserRoles is populated on
// Forbidden so the denial can say which roles the user actually holds.
type Decision struct {
	Outcome   Outcome
	UserRoles []string
	Missing   Requirements
}

// Check evaluates the requirements against the current auth state.
func Check(store *state.Store, req Requirements) Decision {
	needsAuth := req.RequireAuth || len(req.Roles) > 0 || len(req.Permissions) > 0
	if !needsAuth {
		return Decision{Outcome: Allowed}
	}

	if store.IsLoading() {
		return Decision{Outcome: Loading}
	}
	if !store.IsAuthenticated() || !store.IsSessionValid() {
		return Decision{Outcome: Unauthenticated}
	}

	if len(req.Roles) > 0 && !store.HasAnyRole(req.Roles...) {
		return Decision{
			Outcome:   Forbidden,
			UserRoles: store.Roles(),
			Missing:   Requirements{Roles: req.Roles},
		}
	}
	if len(req.Permissions) > 0 && !store.HasAnyPermission(req.Permissions...) {
		return Decision{
			Outcome:   Forbidden,
			UserRoles: store.Roles(),
			Missing:   Requirements{Permissions: req.Permissions},
		}
	}
	return Decision{Outcome: Allowed}
}
