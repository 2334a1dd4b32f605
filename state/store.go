// Package state holds the client-side authentication state: who is logged
// in, under which session, and the derived predicates route guards and the
// session manager consume. The store is an explicit object handed to its
// consumers, never a package-level singleton.
package state

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gradeloop/authkit"
)

// activityCoalesce bounds how often UpdateLastActivity actually writes.
const activityCoalesce = 30 * time.Second

// Store is the single source of truth for "is this client authenticated,
// as whom, with what session". All predicates are computed fresh from the
// current fields on each call. Safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	user          *authkit.User
	session       *authkit.Session
	authenticated bool
	loading       bool
	refreshing    bool
	expiresAt     time.Time
	lastActivity  time.Time

	// generation increments on every login/logout so an in-flight refresh
	// started against an older session can be detected and discarded.
	generation uint64

	inactivity time.Duration
	threshold  time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithInactivityTimeout overrides the inactivity timeout.
func WithInactivityTimeout(d time.Duration) Option {
	return func(s *Store) { s.inactivity = d }
}

// WithRefreshThreshold overrides the proactive-refresh window.
func WithRefreshThreshold(d time.Duration) Option {
	return func(s *Store) { s.threshold = d }
}

// WithClock injects a clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger attaches a logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// NewStore creates a store in the unauthenticated zero-state.
func NewStore(opts ...Option) *Store {
	s := &Store{
		inactivity: authkit.InactivityTimeout,
		threshold:  authkit.RefreshThreshold,
		now:        time.Now,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastActivity = s.now()
	return s
}

// Login transitions the store to the authenticated state atomically.
func (s *Store) Login(user *authkit.User, session *authkit.Session, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.user = user
	s.session = session
	s.authenticated = true
	s.loading = false
	s.expiresAt = expiresAt
	s.lastActivity = s.now()
	s.generation++

	s.log.Debug().Str("user_id", user.ID).Time("expires_at", expiresAt).Msg("auth state: logged in")
}

// Logout zeroes every field atomically. Idempotent.
func (s *Store) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.user = nil
	s.session = nil
	s.authenticated = false
	s.loading = false
	s.refreshing = false
	s.expiresAt = time.Time{}
	s.lastActivity = s.now()
	s.generation++

	s.log.Debug().Msg("auth state: logged out")
}

// Refresh records a successful token refresh: new expiry, fresh activity.
func (s *Store) Refresh(expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expiresAt = expiresAt
	s.lastActivity = s.now()
	if s.session != nil {
		s.session.LastActivityAt = s.lastActivity
	}
}

// SetUser replaces the user. A non-nil user implies authenticated.
func (s *Store) SetUser(user *authkit.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.user = user
	if user != nil {
		s.authenticated = true
		s.lastActivity = s.now()
	}
}

// SetLoading flags an auth operation in progress (consumed by guards).
func (s *Store) SetLoading(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = loading
}

// SetRefreshing flags the single-flight refresh mutex state.
func (s *Store) SetRefreshing(refreshing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshing = refreshing
}

// UpdateLastActivity records user activity, coalesced to at most one write
// per 30 seconds. The inactivity check tolerates that staleness.
func (s *Store) UpdateLastActivity() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.lastActivity) < activityCoalesce {
		return
	}
	s.lastActivity = now
	if s.session != nil {
		s.session.LastActivityAt = now
	}
}

// User returns the current user, nil when unauthenticated.
func (s *Store) User() *authkit.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Session returns the current session, nil when unauthenticated.
func (s *Store) Session() *authkit.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// IsAuthenticated reports the authenticated flag.
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// IsLoading reports whether an auth operation is in progress.
func (s *Store) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// IsRefreshing reports whether a token refresh is in flight.
func (s *Store) IsRefreshing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshing
}

// ExpiresAt returns the access-token expiry, zero when unauthenticated.
func (s *Store) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

// LastActivity returns the last recorded user activity.
func (s *Store) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// Generation returns the login/logout epoch counter.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// RefreshThreshold returns the configured proactive-refresh window.
func (s *Store) RefreshThreshold() time.Duration { return s.threshold }

// InactivityTimeout returns the configured inactivity timeout.
func (s *Store) InactivityTimeout() time.Duration { return s.inactivity }

// Roles returns the user's role names.
func (s *Store) Roles() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.RoleNames()
}

// Permissions returns the user's deduplicated permissions.
func (s *Store) Permissions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.Permissions()
}

// HasRole reports whether the user holds the named role.
func (s *Store) HasRole(role string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.authenticated || s.user == nil {
		return false
	}
	for _, r := range s.user.Roles {
		if r.Name == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the user holds at least one of the roles.
func (s *Store) HasAnyRole(roles ...string) bool {
	for _, r := range roles {
		if s.HasRole(r) {
			return true
		}
	}
	return false
}

// HasPermission reports whether the user holds the permission. The wildcard
// permission "*" matches everything.
func (s *Store) HasPermission(perm string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.authenticated || s.user == nil {
		return false
	}
	for _, r := range s.user.Roles {
		for _, p := range r.Permissions {
			if p == perm || p == "*" {
				return true
			}
		}
	}
	return false
}

// HasAnyPermission reports whether the user holds at least one permission.
func (s *Store) HasAnyPermission(perms ...string) bool {
	for _, p := range perms {
		if s.HasPermission(p) {
			return true
		}
	}
	return false
}

// IsSessionExpired reports whether the access-token expiry has passed.
func (s *Store) IsSessionExpired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.expiresAt.IsZero() {
		return false
	}
	return !s.now().Before(s.expiresAt)
}

// IsSessionValid is the conjunction of "not expired" and "active within the
// inactivity timeout".
func (s *Store) IsSessionValid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.authenticated || s.expiresAt.IsZero() {
		return false
	}
	now := s.now()
	if !now.Before(s.expiresAt) {
		return false
	}
	return now.Sub(s.lastActivity) < s.inactivity
}

// ShouldRefresh reports whether a proactive refresh is due: authenticated,
// within the refresh threshold of expiry, and not already refreshing.
func (s *Store) ShouldRefresh() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.authenticated || s.refreshing || s.expiresAt.IsZero() {
		return false
	}
	return s.expiresAt.Sub(s.now()) <= s.threshold
}

// TimeUntilExpiry returns the remaining access-token lifetime, never
// negative.
func (s *Store) TimeUntilExpiry() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.expiresAt.IsZero() {
		return 0
	}
	d := s.expiresAt.Sub(s.now())
	if d < 0 {
		return 0
	}
	return d
}
