package cookie

import (
	"net/http"
	"time"
)

// Write issues a cookie on an HTTP response using the given config.
func Write(w http.ResponseWriter, value string, cfg Config) {
	cfg = cfg.normalize()

	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    value,
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		MaxAge:   int(cfg.MaxAge / time.Second),
		HttpOnly: cfg.HttpOnly,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	})
}

// Clear removes a cookie from the client by issuing an expired replacement
// with matching attributes.
func Clear(w http.ResponseWriter, cfg Config) {
	cfg = cfg.normalize()

	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    "",
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		MaxAge:   -1,
		HttpOnly: cfg.HttpOnly,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	})
}

// FromRequest reads a named cookie from an incoming request.
func FromRequest(r *http.Request, name string) (string, bool) {
	c, err := r.Cookie(name)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}
