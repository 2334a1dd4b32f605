// Package authkit is the client-side authentication and session toolkit for
// the gradeloop IAM service. It owns the token lifecycle (storage, refresh,
// teardown), CSRF double-submit material, the authenticated HTTP gateway and
// the in-memory auth state consumed by route guards.
package authkit

import "time"

// Lifecycle constants shared by the token codec, the session manager and the
// monitor. Cookie max-ages in the cookie package mirror these.
const (
	// AccessTokenTTL is the lifetime of an access token.
	AccessTokenTTL = 15 * time.Minute
	// RefreshTokenTTL is the lifetime of a refresh token.
	RefreshTokenTTL = 30 * 24 * time.Hour
	// RefreshThreshold is how close to access-token expiry a proactive
	// refresh becomes due.
	RefreshThreshold = 5 * time.Minute
	// InactivityTimeout invalidates a session with no user activity.
	InactivityTimeout = 30 * time.Minute
	// RequestTimeout bounds every network call made by the gateway.
	RequestTimeout = 30 * time.Second
)

// Role is a named role with its granted permissions, as issued by the IAM
// service.
type Role struct {
	ID          string   `json:"id" validate:"required,uuid"`
	Name        string   `json:"name" validate:"required"`
	Permissions []string `json:"permissions"`
}

// User is the authenticated principal.
type User struct {
	ID       string `json:"id" validate:"required,uuid"`
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"full_name" validate:"required"`
	IsActive bool   `json:"is_active"`
	UserType string `json:"user_type" validate:"required,oneof=student employee"`
	Roles    []Role `json:"roles" validate:"dive"`
}

// RoleNames returns the names of all roles held by the user.
func (u *User) RoleNames() []string {
	if u == nil {
		return nil
	}
	names := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		names = append(names, r.Name)
	}
	return names
}

// Permissions returns the deduplicated union of all role permissions.
func (u *User) Permissions() []string {
	if u == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var perms []string
	for _, r := range u.Roles {
		for _, p := range r.Permissions {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			perms = append(perms, p)
		}
	}
	return perms
}

// Session is one authenticated browser session as tracked client-side.
type Session struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	DeviceLabel    string    `json:"device_label,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Valid reports whether the session is still usable at the given instant: it
// must not have passed its hard expiry and must have seen activity within
// the inactivity timeout.
func (s *Session) Valid(now time.Time, inactivity time.Duration) bool {
	if s == nil {
		return false
	}
	if !now.Before(s.ExpiresAt) {
		return false
	}
	return now.Sub(s.LastActivityAt) < inactivity
}

// TokenPair is the access/refresh credential pair bound to a session.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}
