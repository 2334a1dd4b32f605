package iam

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/gradeloop/authkit"
	"github.com/gradeloop/authkit/cookie"
	"github.com/gradeloop/authkit/gateway"
	"github.com/gradeloop/authkit/session"
	"github.com/gradeloop/authkit/state"
)

// Authenticator bundles the store, session manager, gateway and IAM client
// into the single object an application embeds. It is the one-stop façade:
// construct it once, hand it to guards and to whatever drives the UI.
type Authenticator struct {
	Store   *state.Store
	Manager *session.Manager
	Gateway *gateway.Client
	Client  *Client
	Monitor *session.Monitor
}

// AuthenticatorConfig collects the knobs NewAuthenticator needs.
type AuthenticatorConfig struct {
	// BaseURL is the IAM service root, e.g. https://iam.gradeloop.com/api/v1.
	BaseURL string
	// CookieDomain scopes the auth cookies; empty means host-only.
	CookieDomain string
	// Insecure drops the Secure cookie attribute, for local development.
	Insecure bool
	// Jar overrides the cookie jar; defaults to an in-memory jar.
	Jar cookie.Jar
	// OnForcedLogout fires after a refresh failure destroys the session.
	OnForcedLogout func(loginPath string)
	// OnSessionExpired fires when the monitor invalidates the session.
	OnSessionExpired func()
	// Logger is shared by every component; defaults to a no-op logger.
	Logger zerolog.Logger
}

// NewAuthenticator wires the full client-side auth stack for one IAM service.
func NewAuthenticator(cfg AuthenticatorConfig) *Authenticator {
	jar := cfg.Jar
	if jar == nil {
		jar = cookie.NewMemoryJar()
	}

	store := state.NewStore(state.WithLogger(cfg.Logger))
	refresher := NewRefresher(cfg.BaseURL, WithRefresherLogger(cfg.Logger))

	mgrOpts := []session.ManagerOption{session.WithManagerLogger(cfg.Logger)}
	if cfg.OnForcedLogout != nil {
		mgrOpts = append(mgrOpts, session.WithForcedLogoutHook(cfg.OnForcedLogout))
	}
	manager := session.NewManager(jar, cookie.Defaults(cfg.CookieDomain, !cfg.Insecure), store, refresher, mgrOpts...)

	gw := gateway.New(cfg.BaseURL, manager, store, gateway.WithLogger(cfg.Logger))
	client := NewClient(gw, store, manager, WithLogger(cfg.Logger))

	monOpts := []session.MonitorOption{session.WithMonitorLogger(cfg.Logger)}
	if cfg.OnSessionExpired != nil {
		monOpts = append(monOpts, session.WithExpiryNotice(cfg.OnSessionExpired))
	}
	monitor := session.NewMonitor(store, manager, monOpts...)

	return &Authenticator{
		Store:   store,
		Manager: manager,
		Gateway: gw,
		Client:  client,
		Monitor: monitor,
	}
}

// Login authenticates and establishes the session.
func (a *Authenticator) Login(ctx context.Context, email, password string) (*authkit.User, error) {
	return a.Client.Login(ctx, email, password)
}

// Logout ends the session on the server and locally.
func (a *Authenticator) Logout(ctx context.Context) error {
	return a.Client.Logout(ctx)
}

// User returns the authenticated principal, nil otherwise.
func (a *Authenticator) User() *authkit.User { return a.Store.User() }

// IsAuthenticated reports whether a session is established.
func (a *Authenticator) IsAuthenticated() bool { return a.Store.IsAuthenticated() }

// IsLoading reports whether an auth operation is in progress.
func (a *Authenticator) IsLoading() bool { return a.Store.IsLoading() }

// Roles returns the user's role names.
func (a *Authenticator) Roles() []string { return a.Store.Roles() }

// Permissions returns the user's deduplicated permissions.
func (a *Authenticator) Permissions() []string { return a.Store.Permissions() }

// HasRole reports whether the user holds the named role.
func (a *Authenticator) HasRole(role string) bool { return a.Store.HasRole(role) }

// HasAnyRole reports whether the user holds at least one of the roles.
func (a *Authenticator) HasAnyRole(roles ...string) bool { return a.Store.HasAnyRole(roles...) }

// HasPermission reports whether the user holds the permission.
func (a *Authenticator) HasPermission(perm string) bool { return a.Store.HasPermission(perm) }

// HasAnyPermission reports whether the user holds at least one permission.
func (a *Authenticator) HasAnyPermission(perms ...string) bool {
	return a.Store.HasAnyPermission(perms...)
}

// IsSessionValid reports whether the session is neither expired nor idle.
func (a *Authenticator) IsSessionValid() bool { return a.Store.IsSessionValid() }

// ShouldRefresh reports whether a proactive refresh is due.
func (a *Authenticator) ShouldRefresh() bool { return a.Store.ShouldRefresh() }

// TimeUntilExpiry returns the remaining access-token lifetime.
func (a *Authenticator) TimeUntilExpiry() time.Duration { return a.Store.TimeUntilExpiry() }

// RefreshNow forces an immediate token refresh.
func (a *Authenticator) RefreshNow(ctx context.Context) error {
	return a.Manager.RefreshAccessToken(ctx)
}
