package main

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/gradeloop/authkit/config"
	"github.com/gradeloop/authkit/cookie"
	"github.com/gradeloop/authkit/csrf"
	"github.com/gradeloop/authkit/replay"
	"github.com/gradeloop/authkit/token"
)

func requestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			log.Debug().
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Int("status", c.Response().Status).
				Dur("elapsed", time.Since(start)).
				Msg("request")
			return err
		}
	}
}

// securityHeaders adds the headers the admin UI is served under.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self'; img-src 'self'; font-src 'self'; connect-src 'self'; frame-ancestors 'none'; form-action 'self'; base-uri 'self'")
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			return next(c)
		}
	}
}

// csrfCheck enforces the double-submit check on mutating requests. The
// /auth/ endpoints are exempt: login and refresh run before a CSRF token
// exists.
func csrfCheck(log zerolog.Logger) echo.MiddlewareFunc {
	mutating := map[string]bool{
		http.MethodPost:   true,
		http.MethodPut:    true,
		http.MethodPatch:  true,
		http.MethodDelete: true,
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !mutating[req.Method] || strings.HasPrefix(req.URL.Path, "/auth/") {
				return next(c)
			}

			header := req.Header.Get(csrf.HeaderName)
			cookieVal, _ := cookie.FromRequest(req, cookie.CSRFToken)
			if !csrf.ValidateToken(header, cookieVal) {
				log.Warn().Str("path", req.URL.Path).Msg("csrf check failed")
				return c.JSON(http.StatusForbidden, map[string]string{"error": "csrf token mismatch"})
			}
			return next(c)
		}
	}
}

// replayCheck guards POST /auth/refresh with the rotation ledger. A token
// seen a second time means the rotation chain forked; the session is revoked
// and the client told to re-authenticate.
func replayCheck(ledger replay.Ledger, log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Method != http.MethodPost || req.URL.Path != "/auth/refresh" {
				return next(c)
			}

			refreshToken, ok := cookie.FromRequest(req, cookie.RefreshToken)
			if !ok {
				// Nothing to check; the upstream rejects the bare request.
				return next(c)
			}

			sessionID := token.ExtractSessionID(refreshToken)
			expiresAt, expOK := token.ExpiryOf(refreshToken)
			if !expOK {
				expiresAt = time.Now().Add(30 * 24 * time.Hour)
			}

			entry := replay.Entry{
				TokenHash: replay.HashToken(refreshToken),
				SessionID: sessionID,
				UserID:    token.ExtractUserID(refreshToken),
				UsedAt:    time.Now(),
				ExpiresAt: expiresAt,
			}
			if err := replay.CheckAndRotate(req.Context(), ledger, entry); err != nil {
				if errors.Is(err, replay.ErrReplayed) {
					log.Warn().Str("session_id", sessionID).Msg("refresh token replay detected, session revoked")
					return c.JSON(http.StatusForbidden, map[string]string{"error": "refresh token reuse detected"})
				}
				// Ledger outage must not lock every user out.
				log.Error().Err(err).Msg("replay ledger unavailable, letting refresh through")
			}
			return next(c)
		}
	}
}

// registerDebug exposes the ledger inspection endpoints behind basic auth
// with a bcrypt-hashed password. No hash configured, no endpoints.
func registerDebug(e *echo.Echo, cfg *config.Config, ledger replay.Ledger) {
	if cfg.AdminPasswordHash == "" {
		return
	}

	g := e.Group("/debug", middleware.BasicAuth(func(user, pass string, _ echo.Context) (bool, error) {
		if user != cfg.AdminUser {
			return false, nil
		}
		return bcrypt.CompareHashAndPassword([]byte(cfg.AdminPasswordHash), []byte(pass)) == nil, nil
	}))

	g.GET("/ledger/sessions/:id", func(c echo.Context) error {
		revoked, err := ledger.IsSessionRevoked(c.Request().Context(), c.Param("id"))
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, map[string]any{"session_id": c.Param("id"), "revoked": revoked})
	})
	g.POST("/ledger/sessions/:id/revoke", func(c echo.Context) error {
		until := time.Now().Add(30 * 24 * time.Hour)
		if err := ledger.RevokeSession(c.Request().Context(), c.Param("id"), until); err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, map[string]any{"session_id": c.Param("id"), "revoked": true})
	})
}
