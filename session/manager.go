// Package session owns the token-pair lifecycle: cookie storage, the
// single-flight refresh operation, teardown on auth failure, and the
// monitor that schedules proactive checks.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/gradeloop/authkit"
	"github.com/gradeloop/authkit/cookie"
	"github.com/gradeloop/authkit/csrf"
	"github.com/gradeloop/authkit/state"
)

// RefreshResult is what a successful refresh exchange yields.
type RefreshResult struct {
	Pair      authkit.TokenPair
	User      *authkit.User
	SessionID string
}

// Refresher performs the remote refresh-token exchange. A 401-class
// rejection must be returned as *authkit.AuthenticationError; anything else
// is treated as transient and does not tear the session down.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error)
}

// Manager orchestrates storage of the token pair, session id and CSRF token
// in the cookie jar, and owns the single refresh operation that may be in
// flight at any time.
type Manager struct {
	jar       cookie.Jar
	cfgs      cookie.Configs
	store     *state.Store
	refresher Refresher

	group singleflight.Group

	// onForcedLogout is invoked after a teardown caused by a refresh
	// failure, with the login path to redirect to.
	onForcedLogout func(loginPath string)

	now func() time.Time
	log zerolog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithForcedLogoutHook sets the hard-redirect hook fired when a refresh
// failure destroys the session.
func WithForcedLogoutHook(fn func(loginPath string)) ManagerOption {
	return func(m *Manager) { m.onForcedLogout = fn }
}

// WithManagerClock injects a clock, for tests.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithManagerLogger attaches a logger.
func WithManagerLogger(log zerolog.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

// NewManager creates a Manager over the given jar, cookie configs, state
// store and refresher.
func NewManager(jar cookie.Jar, cfgs cookie.Configs, store *state.Store, refresher Refresher, opts ...ManagerOption) *Manager {
	m := &Manager{
		jar:       jar,
		cfgs:      cfgs,
		store:     store,
		refresher: refresher,
		now:       time.Now,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StoreTokenPair writes the access token, refresh token, session id and a
// freshly generated CSRF token into the jar, each with a max-age matching
// its token's remaining lifetime.
func (m *Manager) StoreTokenPair(pair authkit.TokenPair, sessionID string) error {
	csrfToken, err := csrf.GenerateToken()
	if err != nil {
		return err
	}

	now := m.now()

	accessCfg := m.cfgs.AccessToken
	if !pair.ExpiresAt.IsZero() {
		accessCfg.MaxAge = pair.ExpiresAt.Sub(now)
	}
	refreshCfg := m.cfgs.RefreshToken
	if !pair.RefreshExpiresAt.IsZero() {
		refreshCfg.MaxAge = pair.RefreshExpiresAt.Sub(now)
	}
	// CSRF token rotates with the access token, so it shares its lifetime.
	csrfCfg := m.cfgs.CSRFToken
	csrfCfg.MaxAge = accessCfg.MaxAge

	m.jar.Set(cookie.AccessToken, pair.AccessToken, accessCfg)
	m.jar.Set(cookie.RefreshToken, pair.RefreshToken, refreshCfg)
	m.jar.Set(cookie.SessionID, sessionID, m.cfgs.SessionID)
	m.jar.Set(cookie.CSRFToken, csrfToken, csrfCfg)
	m.ensureDeviceID()

	m.log.Debug().Str("session_id", sessionID).Time("expires_at", pair.ExpiresAt).Msg("token pair stored")
	return nil
}

// ensureDeviceID mints the long-lived device identifier on first use. It is
// never rotated and survives logout.
func (m *Manager) ensureDeviceID() {
	if _, ok := m.jar.Get(cookie.DeviceID); ok {
		return
	}
	m.jar.Set(cookie.DeviceID, uuid.NewString(), m.cfgs.DeviceID)
}

// AccessToken returns the stored access token, if any.
func (m *Manager) AccessToken() (string, bool) {
	return m.jar.Get(cookie.AccessToken)
}

// CSRFToken returns the stored CSRF token, if any.
func (m *Manager) CSRFToken() (string, bool) {
	return m.jar.Get(cookie.CSRFToken)
}

// ShouldRefresh delegates to the state store's derived predicate.
func (m *Manager) ShouldRefresh() bool {
	return m.store.ShouldRefresh()
}

// RefreshAccessToken exchanges the stored refresh token for a new pair.
// Concurrent callers coalesce onto a single in-flight exchange and all
// observe its outcome; no duplicate network call is ever made. On a
// 401-class failure the session is torn down and the forced-logout hook
// fires; transient failures are returned without touching session state.
func (m *Manager) RefreshAccessToken(ctx context.Context) error {
	_, err, _ := m.group.Do("refresh", func() (any, error) {
		return nil, m.doRefresh(ctx)
	})
	return err
}

func (m *Manager) doRefresh(ctx context.Context) error {
	// Remember which login epoch this refresh belongs to, so a logout that
	// races the exchange cannot be resurrected by its result.
	gen := m.store.Generation()

	m.store.SetRefreshing(true)
	defer m.store.SetRefreshing(false)

	refreshToken, ok := m.jar.Get(cookie.RefreshToken)
	if !ok {
		err := &authkit.AuthenticationError{Message: "no refresh token available"}
		m.forceLogout()
		return err
	}

	res, err := m.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		var authErr *authkit.AuthenticationError
		if errors.As(err, &authErr) {
			m.log.Warn().Err(err).Msg("refresh token rejected, tearing down session")
			m.forceLogout()
			return err
		}
		// Network blip or server hiccup: report it, keep the session.
		m.log.Warn().Err(err).Msg("token refresh failed transiently")
		return err
	}

	if m.store.Generation() != gen {
		m.log.Debug().Msg("session changed during refresh, discarding result")
		return authkit.ErrNotAuthenticated
	}

	if err := m.StoreTokenPair(res.Pair, res.SessionID); err != nil {
		return err
	}
	m.store.Refresh(res.Pair.ExpiresAt)
	if res.User != nil {
		m.store.SetUser(res.User)
	}
	return nil
}

// Clear removes all auth cookies and resets the state store together, so no
// partial teardown is observable. The device id cookie survives. Idempotent.
func (m *Manager) Clear() {
	m.jar.Delete(cookie.AccessToken)
	m.jar.Delete(cookie.RefreshToken)
	m.jar.Delete(cookie.SessionID)
	m.jar.Delete(cookie.CSRFToken)
	m.store.Logout()
}

func (m *Manager) forceLogout() {
	m.Clear()
	if m.onForcedLogout != nil {
		m.onForcedLogout("/login")
	}
}
