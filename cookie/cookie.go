// Package cookie manages the named cookies the auth subsystem lives in,
// together with their security attributes. The Jar interface abstracts the
// browser cookie jar; the HTTP helpers are the server-side counterpart that
// shares the same naming scheme and configs.
package cookie

import (
	"net/http"
	"strings"
	"time"

	"github.com/gradeloop/authkit"
)

// Cookie names. The __Secure- prefix is honored by browsers only over HTTPS,
// which is exactly the constraint these cookies should carry.
const (
	AccessToken  = "__Secure-gl-access-token"
	RefreshToken = "__Secure-gl-refresh-token"
	CSRFToken    = "__Secure-gl-csrf-token"
	SessionID    = "__Secure-gl-session-id"
	DeviceID     = "__Secure-gl-device-id"
)

// Config holds the security attributes of one cookie. HttpOnly is advisory
// on the client side (a browser script cannot set an HttpOnly cookie); the
// server-side helpers honor it for real.
type Config struct {
	Name     string
	Secure   bool
	HttpOnly bool
	SameSite http.SameSite
	MaxAge   time.Duration
	Path     string
	Domain   string
}

func (c Config) normalize() Config {
	if c.Path == "" {
		c.Path = "/"
	}
	if c.SameSite == 0 {
		c.SameSite = http.SameSiteLaxMode
	}
	// The __Secure- prefix requires the Secure attribute; browsers reject the
	// cookie outright without it. The names are fixed wire constants shared
	// with the IAM service, so the attribute follows the name, not the mode.
	if strings.HasPrefix(c.Name, "__Secure-") {
		c.Secure = true
	}
	return c
}

// Configs bundles the canonical configuration of every auth cookie.
type Configs struct {
	AccessToken  Config
	RefreshToken Config
	CSRFToken    Config
	SessionID    Config
	DeviceID     Config
}

// Defaults returns the canonical cookie configs. The CSRF token is the only
// one readable by client script; its lifetime tracks the access token so
// both rotate together.
func Defaults(domain string, secure bool) Configs {
	base := Config{
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
		Domain:   domain,
	}

	access := base
	access.Name = AccessToken
	access.HttpOnly = true
	access.MaxAge = authkit.AccessTokenTTL

	refresh := base
	refresh.Name = RefreshToken
	refresh.HttpOnly = true
	refresh.MaxAge = authkit.RefreshTokenTTL

	csrfc := base
	csrfc.Name = CSRFToken
	csrfc.HttpOnly = false // must be readable for the double-submit header
	csrfc.MaxAge = authkit.AccessTokenTTL

	session := base
	session.Name = SessionID
	session.HttpOnly = true
	session.MaxAge = authkit.RefreshTokenTTL

	device := base
	device.Name = DeviceID
	device.HttpOnly = false
	device.MaxAge = 365 * 24 * time.Hour

	return Configs{
		AccessToken:  access,
		RefreshToken: refresh,
		CSRFToken:    csrfc,
		SessionID:    session,
		DeviceID:     device,
	}
}

// Jar is a mutable named-cookie store. Absence is reported via the boolean,
// never an error: the browser jar has no failure mode for reads.
type Jar interface {
	Set(name, value string, cfg Config)
	Get(name string) (string, bool)
	Delete(name string)
}
